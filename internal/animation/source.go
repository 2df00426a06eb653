// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"bytes"
	"io"
)

// Codec is an image container format.
type Codec int

const (
	Unknown Codec = iota
	GIF
	PNG
	JPEG
	WebP
	BMP
	TIFF
)

func (c Codec) String() string {
	switch c {
	case GIF:
		return "gif"
	case PNG:
		return "png"
	case JPEG:
		return "jpeg"
	case WebP:
		return "webp"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	default:
		return "unknown"
	}
}

// magics is the set of container signatures recognised by Sniff. A '?'
// in a signature matches any byte.
var magics = []struct {
	codec Codec
	magic string
}{
	{GIF, "GIF8?a"},
	{PNG, "\x89PNG\r\n\x1a\n"},
	{JPEG, "\xff\xd8"},
	{WebP, "RIFF????WEBPVP8"},
	{BMP, "BM????\x00\x00\x00\x00"},
	{TIFF, "II*\x00"},
	{TIFF, "MM\x00*"},
}

// Sniff returns the Codec of the data held by r, or Unknown if the data
// does not start with a recognised signature.
func Sniff(r ReadPeeker) Codec {
	for _, m := range magics {
		if hasMagic(m.magic, r) {
			return m.codec
		}
	}
	return Unknown
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// Source is an undecoded animated image.
//
// A Source must not be mutated after construction. It is shared by pointer
// between its owners, so handing a Source to a decoder does not copy the
// underlying bytes.
type Source struct {
	// Bytes is the encoded image container.
	Bytes []byte

	// Label is a human readable name for the source,
	// used when reporting errors.
	Label string

	// Codec is the container format of Bytes.
	Codec Codec
}

// NewSource returns a Source holding b with its codec determined from the
// leading bytes of the data. If the data is not recognised, the Codec of the
// returned Source is Unknown and decoding it will fail.
func NewSource(label string, b []byte) *Source {
	return &Source{
		Bytes: b,
		Label: label,
		Codec: Sniff(AsReadPeeker(bytes.NewReader(b))),
	}
}

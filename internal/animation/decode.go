// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"

	animwebp "github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

var (
	// ErrUnknownCodec is returned when decoding a Source
	// whose container format is not recognised.
	ErrUnknownCodec = errors.New("unknown image codec")

	// ErrNoFrames is returned when a container holds no frames.
	ErrNoFrames = errors.New("no frames in image")
)

// stills is the set of single frame codecs. Animated WebP containers
// are handled separately by Decode.
var stills = map[Codec]func(io.Reader) (image.Image, error){
	PNG:  png.Decode,
	JPEG: jpeg.Decode,
	WebP: webp.Decode,
	BMP:  bmp.Decode,
	TIFF: tiff.Decode,
}

// Decode decodes all the frames held by src in container order. Decoding is
// all or nothing; on error no frames are returned. The returned slice always
// holds at least one frame when the error is nil. Decode checks ctx between
// frames and returns ctx.Err() if it is cancelled.
func Decode(ctx context.Context, src *Source) ([]Frame, error) {
	r := bytes.NewReader(src.Bytes)
	switch src.Codec {
	case GIF:
		g, err := DecodeGIF(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Codec, err)
		}
		return gifFrames(ctx, g)
	case WebP:
		if !isAnimatedWebP(src.Bytes) {
			break
		}
		w, err := animwebp.DecodeAll(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Codec, err)
		}
		return imageFrames(ctx, w.Image)
	case Unknown:
		return nil, ErrUnknownCodec
	}

	decode, ok := stills[src.Codec]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, src.Codec)
	}
	img, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Codec, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []Frame{newFrame(0, img)}, nil
}

// isAnimatedWebP returns whether b is an extended format WebP container
// with the animation flag set.
func isAnimatedWebP(b []byte) bool {
	const vp8xFlags = 20
	return len(b) > vp8xFlags && string(b[12:16]) == "VP8X" && b[vp8xFlags]&0x02 != 0
}

// imageFrames returns frames for the composited canvases in imgs.
func imageFrames(ctx context.Context, imgs []image.Image) ([]Frame, error) {
	if len(imgs) == 0 {
		return nil, ErrNoFrames
	}
	frames := make([]Frame, 0, len(imgs))
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frames = append(frames, newFrame(i, img))
	}
	return frames, nil
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testanim

import (
	"encoding/binary"
)

// CounterWebP returns an encoded n frame animated WebP with the given
// dimensions where every pixel of frame i is Palette[i%len(Palette)].
// Each frame is a lossless bitstream covering the whole canvas and is
// not blended with its predecessor. CounterWebP panics if n is less
// than one or either dimension is outside [1, 1<<14].
func CounterWebP(n, width, height int) []byte {
	if n < 1 || width < 1 || height < 1 || width > 1<<14 || height > 1<<14 {
		panic("testanim: invalid animation dimensions")
	}

	var vp8x [10]byte
	vp8x[0] = 0x02 // Animation.
	putUint24(vp8x[4:], uint32(width-1))
	putUint24(vp8x[7:], uint32(height-1))

	var anim [6]byte
	binary.LittleEndian.PutUint32(anim[:4], 0xffffffff) // Background in BGRA order.
	// Loop count of zero is infinite.

	body := []byte("WEBP")
	body = appendChunk(body, "VP8X", vp8x[:])
	body = appendChunk(body, "ANIM", anim[:])
	for i := range n {
		var hdr [16]byte
		// Frame offset is zero.
		putUint24(hdr[6:], uint32(width-1))
		putUint24(hdr[9:], uint32(height-1))
		putUint24(hdr[12:], 100) // Duration in ms.
		hdr[15] = 0x02           // Do not blend, do not dispose.
		frame := appendChunk(hdr[:], "VP8L", solidVP8L(width, height, Color(i)))
		body = appendChunk(body, "ANMF", frame)
	}
	return appendChunk(nil, "RIFF", body)
}

// solidVP8L returns a lossless bitstream for a width×height image filled
// with the non-premultiplied colour c. Each of the five prefix codes holds
// a single symbol, so pixels consume no bits.
func solidVP8L(width, height int, c [4]uint8) []byte {
	w := bitWriter{buf: []byte{0x2f}}
	w.write(uint32(width-1), 14)
	w.write(uint32(height-1), 14)
	w.write(0, 1) // alpha_is_used
	w.write(0, 3) // version
	w.write(0, 1) // No transform.
	w.write(0, 1) // No colour cache.
	w.write(0, 1) // No meta prefix codes.
	r, g, b, a := c[0], c[1], c[2], c[3]
	for _, sym := range []uint8{g, r, b, a, 0} {
		w.write(1, 1) // Simple code.
		w.write(0, 1) // One symbol.
		w.write(1, 1) // Eight bit symbol.
		w.write(uint32(sym), 8)
	}
	return append(w.bytes(), 0, 0)
}

// bitWriter writes values least significant bit first.
type bitWriter struct {
	buf []byte
	acc uint64
	n   uint
}

func (w *bitWriter) write(v uint32, bits uint) {
	w.acc |= uint64(v&(1<<bits-1)) << w.n
	w.n += bits
	for w.n >= 8 {
		w.buf = append(w.buf, byte(w.acc))
		w.acc >>= 8
		w.n -= 8
	}
}

func (w *bitWriter) bytes() []byte {
	if w.n != 0 {
		w.buf = append(w.buf, byte(w.acc))
		w.acc, w.n = 0, 0
	}
	return w.buf
}

// appendChunk appends a RIFF chunk with the given FourCC and payload to
// dst, padding odd length payloads.
func appendChunk(dst []byte, fourCC string, payload []byte) []byte {
	dst = append(dst, fourCC...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	if len(payload)%2 != 0 {
		dst = append(dst, 0)
	}
	return dst
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

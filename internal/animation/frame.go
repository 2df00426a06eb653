// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"

	"golang.org/x/image/draw"
)

// Frame is a single decoded animation frame.
//
// Frames are immutable. Copies of a Frame share the same pixel data, so
// replaying a frame does not copy its pixels.
type Frame struct {
	// Index is the position of the frame in the
	// container's frame order.
	Index int

	Width  int
	Height int

	// Pix holds the frame's pixels in non-premultiplied
	// RGBA order, one byte per channel, row-major with a
	// stride of 4*Width.
	Pix []uint8
}

// Image returns an image.NRGBA view of the frame. The returned image
// shares the receiver's pixel data and must not be modified.
func (f Frame) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    f.Pix,
		Stride: 4 * f.Width,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// newFrame returns a Frame holding a copy of img translated to the origin.
func newFrame(index int, img image.Image) Frame {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rectangle{Max: b.Size()})
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return Frame{
		Index:  index,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    dst.Pix,
	}
}

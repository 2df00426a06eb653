// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"io"

	"golang.org/x/image/draw"
)

// DecodeGIF returns a gif.GIF decoded from the provided io.Reader. GIF delay,
// disposal and global background index values are checked for validity.
func DecodeGIF(r io.Reader) (*gif.GIF, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}
	if len(g.Image) != len(g.Delay) && g.Delay != nil {
		return nil, fmt.Errorf("mismatched image count and delay count: %d != %d", len(g.Image), len(g.Delay))
	}
	if len(g.Image) != len(g.Disposal) && g.Disposal != nil {
		return nil, fmt.Errorf("mismatched image count and disposal count: %d != %d", len(g.Image), len(g.Disposal))
	}
	// The decoder sets a nil palette when there is no
	// global color table, so only check non-empty tables.
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && len(pal) != 0 && idx >= len(pal) {
		return nil, fmt.Errorf("global background colour index not in palette: %d", idx)
	}
	return g, nil
}

// gifFrames renders the frames of g onto a canvas the size of the GIF's
// logical screen, honouring frame disposal, and returns a complete image
// for each frame in order. The GIF's delays and loop count are ignored.
func gifFrames(ctx context.Context, g *gif.GIF) ([]Frame, error) {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	for _, frame := range g.Image {
		bounds = bounds.Union(frame.Bounds())
	}

	var background image.Image = image.Transparent
	pal, ok := g.Config.ColorModel.(color.Palette)
	if idx := int(g.BackgroundIndex); ok && idx < len(pal) {
		background = &image.Uniform{pal[idx]}
	}

	dst := image.NewRGBA(bounds)
	frames := make([]Frame, 0, len(g.Image))
	for f, frame := range g.Image {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var restore *image.RGBA
		if g.Disposal != nil && g.Disposal[f] == gif.DisposalPrevious {
			restore = image.NewRGBA(frame.Bounds())
			draw.Copy(restore, frame.Bounds().Min, dst, frame.Bounds(), draw.Src, nil)
		}
		draw.Copy(dst, frame.Bounds().Min, frame, frame.Bounds(), draw.Over, nil)
		frames = append(frames, newFrame(f, dst))

		if g.Disposal != nil {
			switch g.Disposal[f] {
			case gif.DisposalBackground:
				draw.Copy(dst, frame.Bounds().Min, background, frame.Bounds(), draw.Src, nil)
			case gif.DisposalPrevious:
				draw.Copy(dst, frame.Bounds().Min, restore, restore.Bounds(), draw.Src, nil)
			}
		}
	}
	return frames, nil
}

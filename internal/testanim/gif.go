// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testanim provides synthetic animations for tests.
package testanim

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
)

// Palette is the palette used by Counter. Frame i of a Counter
// animation is filled with Palette[i%len(Palette)].
var Palette = color.Palette{
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{G: 0xff, A: 0xff},
	color.RGBA{B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, G: 0xff, A: 0xff},
	color.RGBA{R: 0xff, B: 0xff, A: 0xff},
	color.RGBA{G: 0xff, B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	color.RGBA{A: 0xff},
}

// Counter returns an encoded n frame GIF with the given dimensions where
// every pixel of frame i is Palette[i%len(Palette)]. Counter panics if n
// is less than one.
func Counter(n, width, height int) []byte {
	g := &gif.GIF{
		Config: image.Config{
			ColorModel: Palette,
			Width:      width,
			Height:     height,
		},
	}
	for i := range n {
		img := image.NewPaletted(image.Rect(0, 0, width, height), Palette)
		for j := range img.Pix {
			img.Pix[j] = uint8(i % len(Palette))
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 10)
	}
	return Encode(g)
}

// Encode returns g encoded as a GIF. It panics on error.
func Encode(g *gif.GIF) []byte {
	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, g)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Color returns the non-premultiplied RGBA bytes of frame i of a
// Counter animation.
func Color(i int) [4]uint8 {
	c := color.NRGBAModel.Convert(Palette[i%len(Palette)]).(color.NRGBA)
	return [4]uint8{c.R, c.G, c.B, c.A}
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/reel/internal/testanim"
)

var sniffTests = []struct {
	name string
	data string
	want Codec
}{
	{name: "gif87", data: "GIF87a......", want: GIF},
	{name: "gif89", data: "GIF89a......", want: GIF},
	{name: "png", data: "\x89PNG\r\n\x1a\n....", want: PNG},
	{name: "jpeg", data: "\xff\xd8\xff\xe0", want: JPEG},
	{name: "webp", data: "RIFF\x00\x00\x00\x00WEBPVP8 ", want: WebP},
	{name: "webp_extended", data: "RIFF\x00\x00\x00\x00WEBPVP8X", want: WebP},
	{name: "bmp", data: "BM\x00\x00\x00\x00\x00\x00\x00\x00", want: BMP},
	{name: "tiff_le", data: "II*\x00....", want: TIFF},
	{name: "tiff_be", data: "MM\x00*....", want: TIFF},
	{name: "short", data: "GIF", want: Unknown},
	{name: "empty", data: "", want: Unknown},
	{name: "text", data: "hello, world", want: Unknown},
}

func TestSniff(t *testing.T) {
	for _, test := range sniffTests {
		t.Run(test.name, func(t *testing.T) {
			got := Sniff(bufio.NewReader(strings.NewReader(test.data)))
			if got != test.want {
				t.Errorf("unexpected codec: got:%v want:%v", got, test.want)
			}
			src := NewSource(test.name, []byte(test.data))
			if src.Codec != test.want {
				t.Errorf("unexpected source codec: got:%v want:%v", src.Codec, test.want)
			}
		})
	}
}

func TestDecodeGIFFrames(t *testing.T) {
	const n, w, h = 4, 3, 2
	src := NewSource("counter", testanim.Counter(n, w, h))
	if src.Codec != GIF {
		t.Fatalf("unexpected codec: %v", src.Codec)
	}
	got, err := Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var want []Frame
	for i := range n {
		want = append(want, Frame{
			Index:  i,
			Width:  w,
			Height: h,
			Pix:    fill(w*h, testanim.Color(i)),
		})
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frames:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestDecodeWebPFrames(t *testing.T) {
	const n, w, h = 3, 4, 3
	src := NewSource("counter.webp", testanim.CounterWebP(n, w, h))
	if src.Codec != WebP {
		t.Fatalf("unexpected codec: %v", src.Codec)
	}
	if !isAnimatedWebP(src.Bytes) {
		t.Fatal("expected animated container")
	}
	got, err := Decode(context.Background(), src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var want []Frame
	for i := range n {
		want = append(want, Frame{
			Index:  i,
			Width:  w,
			Height: h,
			Pix:    fill(w*h, testanim.Color(i)),
		})
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frames:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestDecodeGIFDisposal(t *testing.T) {
	black := color.RGBA{A: 0xff}
	red := color.RGBA{R: 0xff, A: 0xff}
	green := color.RGBA{G: 0xff, A: 0xff}
	pal := color.Palette{black, red, green}

	frame := func(r image.Rectangle, idx uint8) *image.Paletted {
		img := image.NewPaletted(r, pal)
		for i := range img.Pix {
			img.Pix[i] = idx
		}
		return img
	}
	g := &gif.GIF{
		Image: []*image.Paletted{
			frame(image.Rect(0, 0, 4, 1), 1),
			frame(image.Rect(1, 0, 2, 1), 2),
			frame(image.Rect(2, 0, 3, 1), 2),
			frame(image.Rect(3, 0, 4, 1), 2),
		},
		Delay: []int{1, 1, 1, 1},
		Disposal: []byte{
			gif.DisposalNone,
			gif.DisposalPrevious,
			gif.DisposalBackground,
			gif.DisposalNone,
		},
		Config: image.Config{
			ColorModel: pal,
			Width:      4,
			Height:     1,
		},
		BackgroundIndex: 0,
	}

	got, err := Decode(context.Background(), NewSource("disposal", testanim.Encode(g)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const (
		K = 'K'
		R = 'R'
		G = 'G'
	)
	want := [][]byte{
		{R, R, R, R},
		{R, G, R, R},
		{R, R, G, R},
		{R, R, K, G},
	}
	name := map[[4]uint8]byte{
		rgba(black): K,
		rgba(red):   R,
		rgba(green): G,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected number of frames: got:%d want:%d", len(got), len(want))
	}
	for i, f := range got {
		var row []byte
		for p := 0; p < len(f.Pix); p += 4 {
			row = append(row, name[[4]uint8(f.Pix[p:p+4])])
		}
		if !bytes.Equal(row, want[i]) {
			t.Errorf("unexpected frame %d: got:%s want:%s", i, row, want[i])
		}
	}
}

func TestDecodePNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 15)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		t.Fatalf("unexpected error encoding png: %v", err)
	}

	got, err := Decode(context.Background(), NewSource("still.png", buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Frame{{Index: 0, Width: 2, Height: 2, Pix: img.Pix}}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frames:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if !cmp.Equal(img, got[0].Image()) {
		t.Errorf("unexpected image:\n--- want:\n+++ got:\n%s", cmp.Diff(img, got[0].Image()))
	}
}

func TestDecodeErrors(t *testing.T) {
	counter := testanim.Counter(4, 8, 8)
	webp := testanim.CounterWebP(4, 8, 8)
	for _, test := range []struct {
		name    string
		src     *Source
		wantErr error
	}{
		{
			name: "truncated_gif",
			src:  NewSource("truncated", counter[:len(counter)/2]),
		},
		{
			name: "truncated_webp",
			src:  NewSource("truncated.webp", webp[:len(webp)-12]),
		},
		{
			name: "corrupt_png",
			src:  NewSource("corrupt", []byte("\x89PNG\r\n\x1a\nnot really a png")),
		},
		{
			name:    "unknown",
			src:     NewSource("unknown", []byte("not an image")),
			wantErr: ErrUnknownCodec,
		},
		{
			name:    "invalid_codec",
			src:     &Source{Label: "invalid", Bytes: counter, Codec: Codec(-1)},
			wantErr: ErrUnknownCodec,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			frames, err := Decode(context.Background(), test.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if test.wantErr != nil && !errors.Is(err, test.wantErr) {
				t.Errorf("unexpected error: got:%v want:%v", err, test.wantErr)
			}
			if frames != nil {
				t.Errorf("unexpected frames on error: %d", len(frames))
			}
		})
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, src := range []*Source{
		NewSource("counter.gif", testanim.Counter(4, 2, 2)),
		NewSource("counter.webp", testanim.CounterWebP(4, 2, 2)),
	} {
		_, err := Decode(ctx, src)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error for %s: got:%v want:%v", src.Label, err, context.Canceled)
		}
	}
}

func fill(n int, c [4]uint8) []uint8 {
	pix := make([]uint8, 0, 4*n)
	for range n {
		pix = append(pix, c[:]...)
	}
	return pix
}

func rgba(c color.Color) [4]uint8 {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return [4]uint8{n.R, n.G, n.B, n.A}
}

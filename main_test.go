// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rogpeppe/go-internal/gotooltest"
	"github.com/rogpeppe/go-internal/testscript"

	"github.com/kortschak/reel/internal/testanim"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"reel": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkanim":  mkanim,
			"pngsize": pngsize,
		},
	}
	if err := gotooltest.Setup(&p); err != nil {
		t.Fatal(err)
	}
	testscript.Run(t, p)
}

// mkanim writes a counter animation with the given number of frames and
// dimensions. The container is WebP if the file has a .webp extension and
// GIF otherwise. With -truncate, only the first half of the encoding is
// written.
func mkanim(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkanim")
	}
	truncate := len(args) != 0 && args[0] == "-truncate"
	if truncate {
		args = args[1:]
	}
	if len(args) != 4 {
		ts.Fatalf("usage: mkanim [-truncate] file frames width height")
	}
	var dims [3]int
	for i, a := range args[1:] {
		n, err := strconv.Atoi(a)
		ts.Check(err)
		if n < 1 {
			ts.Fatalf("invalid argument: %s", a)
		}
		dims[i] = n
	}
	var data []byte
	switch filepath.Ext(args[0]) {
	case ".webp":
		data = testanim.CounterWebP(dims[0], dims[1], dims[2])
	default:
		data = testanim.Counter(dims[0], dims[1], dims[2])
	}
	if truncate {
		data = data[:len(data)/2]
	}
	ts.Check(os.WriteFile(ts.MkAbs(args[0]), data, 0o644))
}

// pngsize checks that the named file is a PNG image with the given
// dimensions.
func pngsize(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) != 3 {
		ts.Fatalf("usage: pngsize file width height")
	}
	f, err := os.Open(ts.MkAbs(args[0]))
	ts.Check(err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	ts.Check(err)
	got := strconv.Itoa(cfg.Width) + "x" + strconv.Itoa(cfg.Height)
	want := args[1] + "x" + args[2]
	if (got == want) == neg {
		ts.Fatalf("unexpected size for %s: got:%s want:%s (negated:%t)", args[0], got, want, neg)
	}
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package player

import (
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/reel/internal/animation"
	"github.com/kortschak/reel/internal/asset"
	"github.com/kortschak/reel/internal/locked"
	"github.com/kortschak/reel/internal/pipeline"
	"github.com/kortschak/reel/internal/slogext"
	"github.com/kortschak/reel/internal/testanim"
)

var (
	verbose = flag.Bool("verbose_log", false, "print full logging")
	lines   = flag.Bool("show_lines", false, "log source code position")
)

const (
	fps      = 50
	interval = time.Second / fps
	timeout  = 5 * time.Second
)

// recorder is a Sink recording the frame indexes delivered to each entity.
type recorder struct {
	mu     sync.Mutex
	frames map[string][]int
	err    error
}

func (r *recorder) Frame(e *Entity, f animation.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = make(map[string][]int)
	}
	r.frames[e.Name] = append(r.frames[e.Name], f.Index)
	return r.err
}

func newTestPlayer(t *testing.T, sink Sink) (*Player, *pipeline.Registry, string) {
	t.Helper()
	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug - 1,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	t.Cleanup(func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	})
	root := t.TempDir()
	assets, err := asset.NewServer(root, 4, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reg := pipeline.New("test", 2, log)
	t.Cleanup(func() {
		reg.Close()
		assets.Close()
	})
	return New(reg, assets, sink, log), reg, root
}

// run updates p until done returns true, failing the test on timeout.
func run(t *testing.T, p *Player, done func() bool) Stats {
	t.Helper()
	var total Stats
	deadline := time.Now().Add(timeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for playback")
		}
		stats, err := p.Update(interval)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total.Delivered += stats.Delivered
		total.Skipped += stats.Skipped
		total.Waiting += stats.Waiting
		total.Closed += stats.Closed
		total.Abandoned += stats.Abandoned
		time.Sleep(time.Millisecond)
	}
	return total
}

func TestPlayer(t *testing.T) {
	var sink recorder
	p, reg, root := newTestPlayer(t, &sink)

	err := os.WriteFile(filepath.Join(root, "three.gif"), testanim.Counter(3, 2, 2), 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	file, err := p.Spawn("file", "three.gif", fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := p.SpawnLoaded("loaded", animation.NewSource("two", testanim.Counter(2, 1, 1)), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	run(t, p, func() bool {
		return file.Delivered >= 7 && loaded.Delivered >= 5
	})
	if reg.Pending() != 0 {
		t.Errorf("unexpected pending count: got:%d want:0", reg.Pending())
	}
	if file.State != Playing || loaded.State != Playing {
		t.Errorf("unexpected states: file=%v loaded=%v", file.State, loaded.State)
	}

	sink.mu.Lock()
	got := map[string][]int{
		"file":   sink.frames["file"][:7],
		"loaded": sink.frames["loaded"][:5],
	}
	sink.mu.Unlock()
	want := map[string][]int{
		"file":   {0, 1, 2, 0, 1, 2, 0},
		"loaded": {0, 1, 0, 1, 0},
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frame sequences:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestPlayerFailedLoad(t *testing.T) {
	var sink recorder
	p, reg, _ := newTestPlayer(t, &sink)

	e, err := p.Spawn("missing", "missing.gif", fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := run(t, p, e.Finished)
	if e.State != Failed {
		t.Errorf("unexpected state: got:%v want:%v", e.State, Failed)
	}
	if !errors.Is(e.Err, fs.ErrNotExist) {
		t.Errorf("unexpected error: got:%v want:%v", e.Err, fs.ErrNotExist)
	}
	if stats.Abandoned != 1 || stats.Delivered != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if reg.Pending() != 0 {
		t.Errorf("unexpected pending count: got:%d want:0", reg.Pending())
	}
	if p.Live() != 0 {
		t.Errorf("unexpected live count: got:%d want:0", p.Live())
	}
}

func TestPlayerReloadFailureAfterPromotion(t *testing.T) {
	var sink recorder
	p, reg, root := newTestPlayer(t, &sink)

	name := filepath.Join(root, "three.gif")
	err := os.WriteFile(name, testanim.Counter(3, 2, 2), 0o644)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Hold the entity before its first frame is due.
	e, err := p.Spawn("file", "three.gif", 0.001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run(t, p, func() bool { return reg.Pending() == 0 })
	if e.State != Waiting {
		t.Fatalf("unexpected state after promotion: got:%v want:%v", e.State, Waiting)
	}

	// Make a later load of the same asset fail.
	err = os.Remove(name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.assets.Invalidate(e.Ref)
	p.assets.Load(e.Ref)
	deadline := time.Now().Add(timeout)
	for p.assets.Err(e.Ref) == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for failed reload")
		}
		time.Sleep(time.Millisecond)
	}

	var stats Stats
	for range 5 {
		got, err := p.Update(interval)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		stats.Abandoned += got.Abandoned
	}
	if stats.Abandoned != 0 || e.State != Waiting || e.Err != nil {
		t.Errorf("promoted entity abandoned: state=%v err=%v stats=%+v", e.State, e.Err, stats)
	}
	if reg.Active() != 1 {
		t.Errorf("unexpected active count: got:%d want:1", reg.Active())
	}

	err = e.Handle.SetFPS(fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run(t, p, func() bool { return e.Delivered >= 4 })
	sink.mu.Lock()
	got := sink.frames["file"][:4]
	sink.mu.Unlock()
	want := []int{0, 1, 2, 0}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frame sequence:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestPlayerClosed(t *testing.T) {
	var sink recorder
	p, _, _ := newTestPlayer(t, &sink)

	data := testanim.Counter(4, 8, 8)
	e, err := p.SpawnLoaded("truncated", animation.NewSource("truncated", data[:len(data)/2]), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := run(t, p, e.Finished)
	if e.State != Closed {
		t.Errorf("unexpected state: got:%v want:%v", e.State, Closed)
	}
	if stats.Closed != 1 || stats.Delivered != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	// Further updates leave a closed entity untouched.
	stats, err = p.Update(interval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("unexpected stats for finished entities: %+v", stats)
	}
}

func TestPlayerDespawn(t *testing.T) {
	var sink recorder
	p, reg, _ := newTestPlayer(t, &sink)

	a, err := p.SpawnLoaded("a", animation.NewSource("a", testanim.Counter(2, 1, 1)), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := p.SpawnLoaded("b", animation.NewSource("b", testanim.Counter(2, 1, 1)), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run(t, p, func() bool { return a.Delivered > 0 && b.Delivered > 0 })

	p.Despawn(a)
	if got := len(p.Entities()); got != 1 {
		t.Errorf("unexpected entity count: got:%d want:1", got)
	}
	if got := reg.Active(); got != 1 {
		t.Errorf("unexpected active count: got:%d want:1", got)
	}
	_, status := reg.TryNextFrame(a.Handle.ID())
	if status != pipeline.NotRegistered {
		t.Errorf("unexpected status for despawned entity: got:%v want:%v", status, pipeline.NotRegistered)
	}
}

func TestPlayerSinkError(t *testing.T) {
	errSink := errors.New("sink full")
	sink := recorder{err: errSink}
	p, _, _ := newTestPlayer(t, &sink)

	_, err := p.SpawnLoaded("a", animation.NewSource("a", testanim.Counter(1, 1, 1)), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for sink error")
		}
		_, err = p.Update(interval)
		if err != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(err, errSink) {
		t.Errorf("unexpected error: got:%v want:%v", err, errSink)
	}
}

func TestPlayerPause(t *testing.T) {
	var n int
	p, _, _ := newTestPlayer(t, SinkFunc(func(*Entity, animation.Frame) error {
		n++
		return nil
	}))
	e, err := p.SpawnLoaded("a", animation.NewSource("a", testanim.Counter(2, 1, 1)), fps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	run(t, p, func() bool { return e.Delivered > 0 })

	e.Handle.Timer.Pause()
	before := n
	for range 10 {
		stats, err := p.Update(interval)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stats != (Stats{}) {
			t.Errorf("unexpected stats while paused: %+v", stats)
		}
	}
	if n != before {
		t.Errorf("frames delivered while paused: %d", n-before)
	}
}

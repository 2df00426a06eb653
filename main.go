// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The reel command plays a set of animations headlessly, decoding each
// once in the background and polling for frames from a paced host loop.
//
// Usage:
//
//	reel -config reel.toml [-frames n] [-timeout d] [-dump dir]
//
// On exit, reel prints one line per configured video listing the indexes
// of the frames that were delivered, or whether the video failed to load
// or was closed by its decoder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kortschak/reel/internal/animation"
	"github.com/kortschak/reel/internal/asset"
	"github.com/kortschak/reel/internal/config"
	"github.com/kortschak/reel/internal/pipeline"
	"github.com/kortschak/reel/internal/player"
	"github.com/kortschak/reel/internal/slogext"
	"github.com/kortschak/reel/internal/version"
)

func main() {
	os.Exit(Main())
}

// Main is the reel command. It returns the process exit status.
func Main() int {
	cfgPath := flag.String("config", "reel.toml", "path to configuration file")
	logging := flag.String("log", "", "logging level (debug, info, warn or error) overriding the configuration")
	lines := flag.Bool("lines", false, "display source line details in logs")
	frames := flag.Int("frames", 0, "stop when every live video has delivered n frames (0 to run until interrupted)")
	timeout := flag.Duration("timeout", 0, "stop after the specified duration (0 for no timeout)")
	dump := flag.String("dump", "", "directory to write delivered frames to as PNG")
	v := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *v {
		err := version.Fprint(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			for _, p := range cfgErr.Paths {
				fmt.Fprintf(os.Stderr, "invalid field: %s\n", strings.Join(p, "."))
			}
		}
		return 1
	}

	var level slog.LevelVar
	switch {
	case *logging != "":
		err = level.UnmarshalText([]byte(*logging))
		if err != nil {
			flag.Usage()
			return 2
		}
	case cfg.LogLevel != nil:
		level.Set(*cfg.LogLevel)
	}
	addSource := slogext.NewAtomicBool(*lines || (cfg.AddSource != nil && *cfg.AddSource))

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "reel.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		select {
		case <-c:
			mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
			cancel()
		case <-ctx.Done():
		}
	}()

	sink := &summary{limit: *frames, seen: make(map[*player.Entity][]int)}
	if *dump != "" {
		err = os.MkdirAll(*dump, 0o755)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		lockFile := filepath.Join(*dump, ".lock")
		fl := flock.New(lockFile)
		ok, err := fl.TryLock()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "dump directory %s is in use\n", *dump)
			return 1
		}
		defer func() {
			fl.Unlock()
			os.Remove(lockFile)
		}()
		sink.dir = *dump
	}

	assets, err := asset.NewServer(cfg.Assets, cfg.CacheSize, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open asset directory: %v\n", err)
		return 1
	}
	defer assets.Close()
	if cfg.Watch {
		go func() {
			err := assets.Watch(ctx)
			if err != nil && ctx.Err() == nil {
				mlog.LogAttrs(ctx, slog.LevelError, "asset watcher", slog.Any("error", err))
			}
		}()
	}

	reg := pipeline.New("reel", cfg.Buffer, log)
	defer reg.Close()

	p := player.New(reg, assets, sink, log)
	for _, v := range cfg.Videos {
		if v.Preload {
			b, err := os.ReadFile(filepath.Join(cfg.Assets, filepath.FromSlash(v.Path)))
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to preload %s: %v\n", v.Name, err)
				return 1
			}
			_, err = p.SpawnLoaded(v.Name, animation.NewSource(v.Path, b), v.FPS)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			continue
		}
		_, err = p.Spawn(v.Name, v.Path, v.FPS)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	mlog.LogAttrs(ctx, slog.LevelInfo, "start",
		slog.String("assets", assets.Root()),
		slog.Int("videos", len(cfg.Videos)),
		slog.Int("buffer", reg.Capacity()),
		slog.Duration("tick", cfg.Tick),
	)

	status := 0
	complete := play(ctx, p, cfg.Tick, *frames, mlog)
	if !complete && *frames > 0 {
		mlog.LogAttrs(ctx, slog.LevelError, "frame target not reached", slog.Int("frames", *frames))
		status = 1
	}
	if sink.err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to write frames", slog.Any("error", sink.err))
		status = 1
	}
	err = sink.print(os.Stdout, p.Entities())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return status
}

// play runs the host loop until every video is finished, the frame target
// is reached or ctx is done. It returns whether playback completed before
// ctx was done.
func play(ctx context.Context, p *player.Player, tick time.Duration, target int, log *slog.Logger) bool {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		if done(p, target) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			stats, err := p.Update(dt)
			if err != nil {
				log.LogAttrs(ctx, slog.LevelWarn, "update", slog.Any("error", err))
			}
			if stats.Skipped != 0 || stats.Closed != 0 || stats.Abandoned != 0 {
				log.LogAttrs(ctx, slog.LevelDebug, "update",
					slog.Int("delivered", stats.Delivered),
					slog.Int("skipped", stats.Skipped),
					slog.Int("waiting", stats.Waiting),
					slog.Int("closed", stats.Closed),
					slog.Int("abandoned", stats.Abandoned),
				)
			}
		}
	}
}

// done returns whether no entity may deliver further frames, or every live
// entity has delivered at least target frames when target is positive.
func done(p *player.Player, target int) bool {
	if p.Live() == 0 {
		return true
	}
	if target <= 0 {
		return false
	}
	for _, e := range p.Entities() {
		if !e.Finished() && e.Delivered < target {
			return false
		}
	}
	return true
}

// summary is a player.Sink that records the indexes of delivered frames
// and optionally writes the frames to a directory.
type summary struct {
	limit int
	seen  map[*player.Entity][]int
	dir   string
	err   error
}

func (s *summary) Frame(e *player.Entity, f animation.Frame) error {
	if s.limit > 0 && len(s.seen[e]) >= s.limit {
		return nil
	}
	n := len(s.seen[e])
	s.seen[e] = append(s.seen[e], f.Index)
	if s.dir == "" || s.err != nil {
		return nil
	}
	err := writePNG(filepath.Join(s.dir, fmt.Sprintf("%s_%04d.png", e.Name, n)), f)
	if err != nil {
		s.err = err
	}
	return err
}

func writePNG(path string, f animation.Frame) error {
	w, err := os.Create(path)
	if err != nil {
		return err
	}
	err = png.Encode(w, f.Image())
	if err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *summary) print(w io.Writer, entities []*player.Entity) error {
	for _, e := range entities {
		var fields []string
		for _, i := range s.seen[e] {
			fields = append(fields, strconv.Itoa(i))
		}
		switch e.State {
		case player.Failed:
			fields = append(fields, "failed")
		case player.Closed:
			fields = append(fields, "closed")
		case player.Waiting:
			fields = append(fields, "waiting")
		}
		_, err := fmt.Fprintf(w, "%s: %s\n", e.Name, strings.Join(fields, " "))
		if err != nil {
			return err
		}
	}
	return nil
}

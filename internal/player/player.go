// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package player drives playback of a set of videos from a host loop.
//
// Each call to [Player.Update] promotes videos whose sources have finished
// loading, then advances every entity's pacing timer and, when a frame is
// due, polls the pipeline for it and hands it to a [Sink].
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kortschak/reel/internal/animation"
	"github.com/kortschak/reel/internal/asset"
	"github.com/kortschak/reel/internal/pipeline"
	"github.com/kortschak/reel/internal/slogext"
)

// State is the playback state of an entity.
type State int

const (
	// Waiting indicates the entity has not yet received a frame.
	Waiting State = iota
	// Playing indicates the entity has received at least one frame.
	Playing
	// Closed indicates that the entity's video will deliver no
	// more frames.
	Closed
	// Failed indicates that the entity's source could not be loaded.
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Playing:
		return "playing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entity is a video being played.
type Entity struct {
	// Name is the name of the entity.
	Name string
	// Ref is the asset reference for entities spawned
	// from a file. It is empty for preloaded sources.
	Ref string
	// Handle is the entity's playback handle.
	Handle pipeline.Handle

	// State is the entity's playback state.
	State State
	// Err holds the load error for a Failed entity.
	Err error
	// Delivered and Skipped count the frames handed to
	// the sink and the due frames that were not ready.
	Delivered int
	Skipped   int
}

// Finished returns whether the entity will deliver no more frames.
func (e *Entity) Finished() bool {
	return e.State == Closed || e.State == Failed
}

// Sink receives frames delivered to entities.
type Sink interface {
	Frame(e *Entity, f animation.Frame) error
}

// SinkFunc is a function adapter for Sink.
type SinkFunc func(e *Entity, f animation.Frame) error

func (fn SinkFunc) Frame(e *Entity, f animation.Frame) error {
	return fn(e, f)
}

// Stats holds the outcome of a single Update.
type Stats struct {
	Delivered int // Frames handed to the sink.
	Skipped   int // Frames due but not yet decoded.
	Waiting   int // Frames due for videos awaiting their source.
	Closed    int // Videos observed to have ended.
	Abandoned int // Videos whose source failed to load.
}

// Player holds the entities played from a Registry.
type Player struct {
	reg    *pipeline.Registry
	assets *asset.Server
	sink   Sink

	entities []*Entity

	log *slog.Logger
}

// New returns a new Player delivering frames from reg to sink. Sources for
// entities spawned by name are loaded by assets, which may be nil if only
// SpawnLoaded is used.
func New(reg *pipeline.Registry, assets *asset.Server, sink Sink, log *slog.Logger) *Player {
	return &Player{
		reg:    reg,
		assets: assets,
		sink:   sink,
		log:    log.With(slog.String("component", "player")),
	}
}

// Spawn starts loading the named file and registers a pending video for
// it with the given frame rate.
func (p *Player) Spawn(name, path string, fps float64) (*Entity, error) {
	if p.assets == nil {
		return nil, errors.New("no asset server")
	}
	ref := p.assets.Load(path)
	h, err := p.reg.RegisterPending(ref, fps)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	e := &Entity{Name: name, Ref: ref, Handle: h}
	p.entities = append(p.entities, e)
	p.log.LogAttrs(context.Background(), slog.LevelInfo, "spawn",
		slog.String("name", name),
		slog.String("ref", ref),
		slog.String("id", h.ID().String()),
	)
	return e, nil
}

// SpawnLoaded registers a video for an already available source.
func (p *Player) SpawnLoaded(name string, src *animation.Source, fps float64) (*Entity, error) {
	h, err := p.reg.RegisterReady(src, fps)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	e := &Entity{Name: name, Handle: h}
	p.entities = append(p.entities, e)
	p.log.LogAttrs(context.Background(), slog.LevelInfo, "spawn loaded",
		slog.String("name", name),
		slog.String("label", src.Label),
		slog.String("id", h.ID().String()),
	)
	return e, nil
}

// Despawn stops playback of e and removes it from the Player.
func (p *Player) Despawn(e *Entity) {
	p.reg.Release(e.Handle.ID())
	p.entities = slices.DeleteFunc(p.entities, func(x *Entity) bool {
		return x == e
	})
	p.log.LogAttrs(context.Background(), slog.LevelInfo, "despawn", slog.String("name", e.Name))
}

// Entities returns the entities held by the Player in spawn order.
func (p *Player) Entities() []*Entity {
	return p.entities
}

// Live returns the number of entities that may still deliver frames.
func (p *Player) Live() int {
	var n int
	for _, e := range p.entities {
		if !e.Finished() {
			n++
		}
	}
	return n
}

// Update advances playback by dt. Errors from promotion and from the sink
// are returned after all entities have been updated.
func (p *Player) Update(dt time.Duration) (Stats, error) {
	ctx := context.Background()
	var (
		stats Stats
		errs  []error
	)
	if p.assets != nil && p.reg.Pending() != 0 {
		err := p.reg.Promote(p.assets.Resolve)
		if err != nil {
			p.log.LogAttrs(ctx, slog.LevelError, "promote", slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	for _, e := range p.entities {
		if e.Finished() {
			continue
		}
		// A promoted video holds its source, so a later failure
		// to reload the asset does not affect it.
		if e.State == Waiting && e.Ref != "" && p.reg.IsPending(e.Handle.ID()) {
			if err := p.assets.Err(e.Ref); err != nil {
				p.reg.Release(e.Handle.ID())
				e.State = Failed
				e.Err = err
				stats.Abandoned++
				p.log.LogAttrs(ctx, slog.LevelWarn, "abandon video",
					slog.String("name", e.Name),
					slog.String("ref", e.Ref),
					slog.Any("error", err),
				)
				continue
			}
		}
		if !e.Handle.Tick(dt) {
			continue
		}
		f, status := p.reg.TryNextFrame(e.Handle.ID())
		switch status {
		case pipeline.Ready:
			e.State = Playing
			e.Delivered++
			stats.Delivered++
			p.log.LogAttrs(ctx, slog.LevelDebug-1, "frame",
				slog.String("name", e.Name),
				slog.Any("frame", slogext.Frame{Frame: f}),
			)
			err := p.sink.Frame(e, f)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
			}
		case pipeline.Empty:
			e.Skipped++
			stats.Skipped++
			p.log.LogAttrs(ctx, slog.LevelDebug, "frame skipped", slog.String("name", e.Name))
		case pipeline.NotRegistered:
			stats.Waiting++
			p.log.LogAttrs(ctx, slog.LevelDebug-1, "video not registered", slog.String("name", e.Name))
		case pipeline.Closed:
			e.State = Closed
			stats.Closed++
			p.log.LogAttrs(ctx, slog.LevelInfo, "video closed",
				slog.String("name", e.Name),
				slog.Int("delivered", e.Delivered),
			)
		}
	}
	return stats, errors.Join(errs...)
}

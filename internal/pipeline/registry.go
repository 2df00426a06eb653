// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pipeline provides background production of animation frames for
// consumers polling from a host loop.
//
// A [Registry] decodes each registered video once in a background task and
// then replays the decoded frames cyclically into a bounded channel. The
// consumer holds a [Handle] whose [Timer] paces requests for frames, and
// calls [Registry.TryNextFrame] from its loop. None of the Registry methods
// used from the host loop block waiting on a decode task.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/kortschak/reel/internal/animation"
)

// DefaultBufferCapacity is the default number of frames a decode task may
// prepare ahead of its consumer.
const DefaultBufferCapacity = 16

// Status is the result of a frame request.
type Status int

const (
	// NotRegistered indicates that the identity is unknown to the
	// registry or that its video is still waiting for its source.
	NotRegistered Status = iota
	// Ready indicates that a frame was returned.
	Ready
	// Empty indicates that no frame was buffered at the time of
	// the request.
	Empty
	// Closed indicates that the video's decode task has ended
	// and no more frames will be delivered.
	Closed
)

func (s Status) String() string {
	switch s {
	case NotRegistered:
		return "not registered"
	case Ready:
		return "ready"
	case Empty:
		return "empty"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Resolver returns the source for a pending video if it is available.
type Resolver func(id uuid.UUID, ref string) (*animation.Source, bool)

// Registry is a set of independently playing videos. Each video is decoded
// by a task run on the Registry's Executor and its frames are delivered
// through a channel owned by the Registry and looked up by the identity of
// the video's Handle.
//
// Distinct Registry values are fully independent, so subsystems that need
// separate sets of videos should construct their own.
type Registry struct {
	name     string
	capacity int

	exec Executor
	// runtime is non-nil if the Registry owns
	// its executor.
	runtime *Runtime

	mu        sync.Mutex
	closed    bool
	pending   []pendingVideo
	receivers map[uuid.UUID]*receiver

	log *slog.Logger
}

type pendingVideo struct {
	id  uuid.UUID
	ref string
}

// receiver is the consumer end of a video's frame channel. A receiver
// with a nil frames channel is closed; it is retained so that requests
// continue to report Closed until the identity is released.
type receiver struct {
	frames   <-chan animation.Frame
	released chan struct{}
}

// release signals the decode task to stop and drops the channel.
func (rc *receiver) release() {
	if rc.released != nil {
		close(rc.released)
		rc.released = nil
	}
	rc.frames = nil
}

// New returns a new Registry with its own Runtime. Up to capacity frames
// are prepared ahead of consumption for each video. If capacity is less
// than one, DefaultBufferCapacity is used. The Runtime is shut down when
// the Registry is closed.
func New(name string, capacity int, log *slog.Logger) *Registry {
	rt := NewRuntime(log.With(slog.String("registry", name)))
	r := NewWithExecutor(name, capacity, rt, log)
	r.runtime = rt
	return r
}

// NewWithExecutor returns a new Registry that runs decode tasks on exec.
// The Registry does not shut down exec when it is closed.
func NewWithExecutor(name string, capacity int, exec Executor, log *slog.Logger) *Registry {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	return &Registry{
		name:      name,
		capacity:  capacity,
		exec:      exec,
		receivers: make(map[uuid.UUID]*receiver),
		log:       log.With(slog.String("component", "pipeline."+name)),
	}
}

// Name returns the name of the Registry.
func (r *Registry) Name() string {
	return r.name
}

// Capacity returns the number of frames that may be prepared ahead of
// consumption for each video.
func (r *Registry) Capacity() int {
	return r.capacity
}

// RegisterPending registers a video whose source is not yet available and
// returns its Handle. The video is started by a later call to Promote when
// ref resolves.
func (r *Registry) RegisterPending(ref string, fps float64) (Handle, error) {
	h, err := newHandle(fps)
	if err != nil {
		return Handle{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Handle{}, ErrClosed
	}
	r.pending = append(r.pending, pendingVideo{id: h.id, ref: ref})
	r.log.LogAttrs(context.Background(), slog.LevelDebug, "register pending",
		slog.String("id", h.id.String()),
		slog.String("ref", ref),
		slog.Float64("fps", fps),
	)
	return h, nil
}

// RegisterReady starts a decode task for src and returns the Handle of
// the new video.
func (r *Registry) RegisterReady(src *animation.Source, fps float64) (Handle, error) {
	if src == nil {
		return Handle{}, errors.New("nil source")
	}
	h, err := newHandle(fps)
	if err != nil {
		return Handle{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Handle{}, ErrClosed
	}
	r.log.LogAttrs(context.Background(), slog.LevelDebug, "register ready",
		slog.String("id", h.id.String()),
		slog.String("label", src.Label),
		slog.Float64("fps", fps),
	)
	err = r.start(h.id, src)
	if err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Promote starts the decode tasks for all pending videos whose sources
// now resolve. Pending videos are considered in registration order and
// unresolved videos remain pending in that order. Promote should be called
// repeatedly, for example once per host loop iteration, until no videos
// are pending.
//
// The resolve function is called with the Registry's lock held and must
// not call methods on the Registry.
//
// If a decode task cannot be started, the video is marked closed and the
// error is returned after all pending videos have been considered.
func (r *Registry) Promote(resolve Resolver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if len(r.pending) == 0 {
		return nil
	}
	var errs []error
	kept := r.pending[:0]
	for _, p := range r.pending {
		src, ok := resolve(p.id, p.ref)
		if !ok || src == nil {
			kept = append(kept, p)
			continue
		}
		r.log.LogAttrs(context.Background(), slog.LevelDebug, "promote",
			slog.String("id", p.id.String()),
			slog.String("ref", p.ref),
			slog.String("label", src.Label),
		)
		err := r.start(p.id, src)
		if err != nil {
			// The consumer holds a handle for p.id, so
			// it sees the failure as a closed video.
			r.receivers[p.id] = &receiver{}
			errs = append(errs, err)
		}
	}
	clear(r.pending[len(kept):])
	r.pending = kept
	return errors.Join(errs...)
}

// start creates the frame channel for id and spawns its decode task. If
// the task cannot be spawned, nothing is recorded for id. start must be
// called with r.mu held.
func (r *Registry) start(id uuid.UUID, src *animation.Source) error {
	frames := make(chan animation.Frame, r.capacity)
	released := make(chan struct{})
	err := r.exec.Go(func(ctx context.Context) {
		produce(ctx, id, src, frames, released, r.log)
	})
	if err != nil {
		r.log.LogAttrs(context.Background(), slog.LevelError, "cannot start decoder",
			slog.String("id", id.String()),
			slog.String("label", src.Label),
			slog.Any("error", err),
		)
		return fmt.Errorf("start %s: %w", src.Label, err)
	}
	r.receivers[id] = &receiver{frames: frames, released: released}
	return nil
}

// TryNextFrame returns the next frame for the video with the given identity
// if one is available. It never blocks. If the returned Status is not Ready,
// the returned Frame is the zero value.
//
// Once a video's decode task has ended, TryNextFrame reports Closed for its
// identity until the identity is released. The channel is dropped when the
// closure is first observed, so only a small record is retained.
func (r *Registry) TryNextFrame(id uuid.UUID) (animation.Frame, Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.receivers[id]
	if !ok {
		return animation.Frame{}, NotRegistered
	}
	if rc.frames == nil {
		return animation.Frame{}, Closed
	}
	select {
	case f, ok := <-rc.frames:
		if !ok {
			rc.release()
			r.log.LogAttrs(context.Background(), slog.LevelError, "video channel closed", slog.String("id", id.String()))
			return animation.Frame{}, Closed
		}
		return f, Ready
	default:
		return animation.Frame{}, Empty
	}
}

// Release removes the video with the given identity from the Registry. If
// the video is pending it will not be started. If its decode task is running,
// the task stops at its next attempt to deliver a frame. Release is a no-op
// for unknown identities.
func (r *Registry) Release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.receivers[id]; ok {
		rc.release()
		delete(r.receivers, id)
		r.log.LogAttrs(context.Background(), slog.LevelDebug, "release", slog.String("id", id.String()))
		return
	}
	n := len(r.pending)
	r.pending = slices.DeleteFunc(r.pending, func(p pendingVideo) bool {
		return p.id == id
	})
	if len(r.pending) != n {
		r.log.LogAttrs(context.Background(), slog.LevelDebug, "release pending", slog.String("id", id.String()))
	}
}

// Pending returns the number of videos waiting for their sources.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// IsPending returns whether the video with the given identity is waiting
// for its source to be promoted.
func (r *Registry) IsPending(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.pending, func(p pendingVideo) bool {
		return p.id == id
	})
}

// Active returns the number of videos that have not been observed to
// be closed.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, rc := range r.receivers {
		if rc.frames != nil {
			n++
		}
	}
	return n
}

// Close closes the Registry. Pending videos are discarded and all running
// decode tasks are signalled to stop; subsequent frame requests for started
// videos report Closed. If the Registry owns its Runtime, Close shuts it down
// and waits for the decode tasks to return. Registrations made after Close
// fail with ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, rc := range r.receivers {
		rc.release()
	}
	clear(r.pending)
	r.pending = nil
	r.mu.Unlock()

	r.log.LogAttrs(context.Background(), slog.LevelDebug, "closed")
	if r.runtime != nil {
		return r.runtime.Close()
	}
	return nil
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted to a closed Registry
// or Runtime.
var ErrClosed = errors.New("pipeline closed")

// Executor runs decode tasks in the background.
type Executor interface {
	// Go runs task asynchronously. It must not block waiting for
	// the task to run. The context passed to task is cancelled
	// when the executor is shut down. Go returns an error if the
	// task cannot be scheduled.
	Go(task func(context.Context)) error
}

// Runtime is the default Executor. It runs each task in its own goroutine
// and tracks the tasks it has started so that they can be cancelled and
// waited for when the Runtime is closed.
type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	running atomic.Int64

	log *slog.Logger
}

// NewRuntime returns a new Runtime.
func NewRuntime(log *slog.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(slog.String("component", "pipeline.runtime")),
	}
}

// Go starts task in a new goroutine. It returns ErrClosed if the
// Runtime has been closed.
func (rt *Runtime) Go(task func(context.Context)) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return ErrClosed
	}
	rt.wg.Add(1)
	n := rt.running.Add(1)
	rt.log.LogAttrs(rt.ctx, slog.LevelDebug, "spawn", slog.Int64("running", n))
	go func() {
		defer func() {
			n := rt.running.Add(-1)
			rt.log.LogAttrs(context.Background(), slog.LevelDebug, "task exit", slog.Int64("running", n))
			rt.wg.Done()
		}()
		task(rt.ctx)
	}()
	return nil
}

// Running returns the number of tasks that have not yet returned.
func (rt *Runtime) Running() int {
	return int(rt.running.Load())
}

// Close stops the Runtime from accepting new tasks, cancels the context
// passed to running tasks and waits for them to return. Tasks that do not
// observe their context will delay Close until they return.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	rt.cancel()
	rt.wg.Wait()
	rt.log.LogAttrs(context.Background(), slog.LevelDebug, "closed")
	return nil
}

// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Handle controls the playback of a video. Handles are obtained from a
// Registry and are owned by the consumer that requested playback.
//
// A Handle holds only the identity of its video; the Registry holds the
// video's frame channel. Handle values may be copied, but each copy has
// its own pacing timer.
type Handle struct {
	id uuid.UUID

	// Timer paces requests for frames. Its interval is
	// the reciprocal of the frame rate. Pausing the timer
	// pauses playback.
	Timer Timer
}

func newHandle(fps float64) (Handle, error) {
	interval, err := Interval(fps)
	if err != nil {
		return Handle{}, err
	}
	return Handle{id: uuid.New(), Timer: NewTimer(interval)}, nil
}

// ID returns the identity of the video controlled by the handle.
func (h Handle) ID() uuid.UUID {
	return h.id
}

// SetFPS sets the playback frame rate. It does not affect the identity of
// the handle or the frames that are delivered.
func (h *Handle) SetFPS(fps float64) error {
	interval, err := Interval(fps)
	if err != nil {
		return err
	}
	h.Timer.SetInterval(interval)
	return nil
}

// FPS returns the playback frame rate.
func (h Handle) FPS() float64 {
	if h.Timer.interval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(h.Timer.interval)
}

// Tick advances the handle's timer by d and returns whether the next frame
// is due.
func (h *Handle) Tick(d time.Duration) bool {
	return h.Timer.Tick(d).Finished()
}

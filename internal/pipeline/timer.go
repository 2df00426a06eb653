// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pipeline

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidFPS is returned when a frame rate is not a finite positive value
// or its frame interval cannot be represented as a time.Duration.
var ErrInvalidFPS = errors.New("invalid frame rate")

// Interval returns the frame interval for the given frame rate.
func Interval(fps float64) (time.Duration, error) {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return 0, ErrInvalidFPS
	}
	d := float64(time.Second) / fps
	if d >= math.MaxInt64 {
		return 0, ErrInvalidFPS
	}
	return time.Duration(d), nil
}

// Timer is a repeating interval timer advanced by explicit ticks. It is not
// driven by the wall clock; the owner advances it by the time that has
// elapsed between host loop iterations.
//
// The zero Timer has a zero interval and finishes once on every tick.
type Timer struct {
	interval time.Duration
	elapsed  time.Duration
	times    int
	paused   bool
}

// NewTimer returns a repeating timer with the given interval.
func NewTimer(interval time.Duration) Timer {
	return Timer{interval: interval}
}

// Tick advances the timer by d. If the interval elapses during the tick,
// the timer wraps, retaining any excess elapsed time, and Finished will
// return true until the next call to Tick. A paused timer does not advance.
func (t *Timer) Tick(d time.Duration) *Timer {
	t.times = 0
	if t.paused {
		return t
	}
	if t.interval <= 0 {
		t.times = 1
		return t
	}
	t.elapsed += d
	if t.elapsed >= t.interval {
		t.times = int(t.elapsed / t.interval)
		t.elapsed %= t.interval
	}
	return t
}

// Finished returns whether the interval elapsed during the last tick.
func (t *Timer) Finished() bool {
	return t.times != 0
}

// TimesFinished returns the number of times the interval elapsed
// during the last tick.
func (t *Timer) TimesFinished() int {
	return t.times
}

// Interval returns the timer's interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

// SetInterval sets the timer's interval. Elapsed time is retained but
// limited to the new interval.
func (t *Timer) SetInterval(d time.Duration) {
	t.interval = d
	if t.elapsed > d {
		t.elapsed = max(d, 0)
	}
}

// Elapsed returns the time elapsed since the timer last finished.
func (t *Timer) Elapsed() time.Duration {
	return t.elapsed
}

// Pause pauses the timer. Ticks have no effect on a paused timer.
func (t *Timer) Pause() {
	t.paused = true
}

// Resume resumes a paused timer.
func (t *Timer) Resume() {
	t.paused = false
}

// Paused returns whether the timer is paused.
func (t *Timer) Paused() bool {
	return t.paused
}

// Reset resets the timer's elapsed time and finished state.
func (t *Timer) Reset() {
	t.elapsed = 0
	t.times = 0
}

// Package testutil holds clocks for deterministic tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe stepping clock for tests.
//
// Each call to Now advances the clock by Step, so the same scenario run
// twice stamps its events identically. Reset rewinds it for reuse.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewDeterministicClock creates a clock at Epoch stepping one second.
//
// The first call to Now returns Epoch + 1s.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(Epoch, time.Second)
}

// NewDeterministicClockAt creates a clock starting at start and advancing
// by step per call.
func NewDeterministicClockAt(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start.UTC(), step: step}
}

// Now advances the clock and returns the new time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}

// FixedClock returns the same time from every call.
//
// Thread-safety: FixedClock is stateless and safe for concurrent use.
type FixedClock struct {
	t time.Time
}

// NewFixedClock returns a clock stuck at t. A zero t means Epoch.
func NewFixedClock(t time.Time) FixedClock {
	if t.IsZero() {
		t = Epoch
	}
	return FixedClock{t: t.UTC()}
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time { return c.t }

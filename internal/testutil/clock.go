// Package testutil holds deterministic stand-ins for the engine's
// clock and id sources, so tests and golden transcripts come out
// byte-identical run to run.
package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a wall clock that advances by a fixed step on every
// read. Event timestamps drawn from it are deterministic, which keeps
// journal transcripts stable across runs.
//
// Thread-safe: all methods lock internally.
type SteppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewSteppingClock creates a clock starting at start, advancing by
// step on each Now call.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{now: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock by one step.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the current instant without advancing.
func (c *SteppingClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to start for test reuse.
func (c *SteppingClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = start.UTC()
}

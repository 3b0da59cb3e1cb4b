// Package bus publishes session events to the durable journal with
// strictly increasing, gap-free per-session sequence numbers, and
// serves restartable subscriptions to downstream consumers.
package bus

import "sync/atomic"

// Clock is a per-session monotonic logical clock. All of a session's
// events are stamped with strictly increasing seq numbers from its
// clock, so ordering never depends on wall time.
//
// Publication reserves seqs above Current() and advances the clock via
// AdvanceTo only after the journal transaction commits. A failed
// commit therefore leaves the clock unmoved and the next publication
// reuses the same numbers: no gaps.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock positioned at start (the highest already
// committed seq; 0 for a fresh session).
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Current returns the highest committed sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to seq. Called only after the
// journal commit succeeds; never moves backwards.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

package engine

import "sync/atomic"

// Clock is the monotonic merge-sequence clock.
//
// Every update that reaches the merge is stamped with a strictly increasing
// seq. LastUpdated, journal ordering, and selector recency are all defined
// over this seq, so convergence never depends on wall-clock readings that
// can disagree across sources.
//
// Thread-safety: safe for concurrent use, though the engine's single-writer
// loop is normally the only caller of Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used by journal replay to resume past the last journaled seq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// AdvanceTo moves the clock forward to at least seq, so the next Next()
// returns a value above it. A clock already past seq is left alone.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

package uow

import "sync/atomic"

// Clock issues the strictly increasing sequence numbers stamped onto trace
// operations, so the physical write order of a flush is reconstructible
// without parsing SQL.
//
// Clock is safe for concurrent use, though the engine's single-writer design
// means only one goroutine calls Next in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the most recently issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

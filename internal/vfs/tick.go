package vfs

import "sync/atomic"

// Tick is a logical clock value. Ticks issued by one Clock strictly
// increase; ticks from different clocks are not comparable.
type Tick uint64

// Clock issues monotonically increasing ticks for one actor's input
// stream. The zero value is ready to use and safe for concurrent use.
type Clock struct {
	n atomic.Uint64
}

// Next returns the next tick. The first call returns 1.
func (c *Clock) Next() Tick {
	return Tick(c.n.Add(1))
}

// Now returns the most recently issued tick without advancing.
func (c *Clock) Now() Tick {
	return Tick(c.n.Load())
}

package revision

import (
	"sync/atomic"
)

// Clock produces strictly increasing ticks. Revision ids, marker ticks and
// datafile ids are all drawn from the same clock.
type Clock struct {
	current atomic.Uint64
}

func NewClock(start uint64) *Clock {
	c := &Clock{}
	c.current.Store(start)
	return c
}

func (c *Clock) Next() uint64 {
	return c.current.Add(1)
}

// Update raises the clock to at least seen, so values found on disk are never
// handed out again.
func (c *Clock) Update(seen uint64) {
	for {
		current := c.current.Load()
		if seen <= current {
			return
		}
		if c.current.CompareAndSwap(current, seen) {
			return
		}
	}
}

func (c *Clock) Current() uint64 {
	return c.current.Load()
}

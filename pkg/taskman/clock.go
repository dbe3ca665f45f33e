package taskman

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic time source. Now returns the time elapsed since an
// arbitrary fixed origin and must never go backwards.
type Clock interface {
	Now() time.Duration
}

var processStart = time.Now()

type systemClock struct{}

func (systemClock) Now() time.Duration { return time.Since(processStart) }

// SystemClock returns the process monotonic clock.
func SystemClock() Clock { return systemClock{} }

// ManualClock is a Clock moved by hand. It is safe for concurrent use so tests
// can advance it while an async driver reads it.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a clock stopped at start.
func NewManualClock(start time.Duration) *ManualClock {
	c := &ManualClock{}
	c.now.Store(int64(start))
	return c
}

func (c *ManualClock) Now() time.Duration { return time.Duration(c.now.Load()) }

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d > 0 {
		c.now.Add(int64(d))
	}
}

// Set moves the clock to t if t is not in the past.
func (c *ManualClock) Set(t time.Duration) {
	for {
		cur := c.now.Load()
		if int64(t) <= cur || c.now.CompareAndSwap(cur, int64(t)) {
			return
		}
	}
}

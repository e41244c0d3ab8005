package snap

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic millisecond time source. Callers read it once per event
// and pass the value to HandleEvent.
type Clock interface {
	NowMS() int64
}

// MonotonicClock counts milliseconds since it was created, using the
// monotonic reading carried by time.Time.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock creates a clock starting at 0.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) NowMS() int64 {
	return time.Since(c.start).Milliseconds()
}

// ManualClock is a Clock that only moves when told to. Used for replay and tests.
type ManualClock struct {
	ms atomic.Int64
}

// NewManualClock creates a clock reading start.
func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.ms.Store(start)
	return c
}

func (c *ManualClock) NowMS() int64 { return c.ms.Load() }

// Set moves the clock to ms. Moving backwards is allowed; the engine treats
// negative gaps as "not idle".
func (c *ManualClock) Set(ms int64) { c.ms.Store(ms) }

// Advance moves the clock forward by d milliseconds and returns the new reading.
func (c *ManualClock) Advance(d int64) int64 { return c.ms.Add(d) }

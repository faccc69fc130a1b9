package turn

import (
	"sync"
	"time"
)

// Clock hands out strictly increasing epoch-millisecond timestamps.
// Two calls in the same millisecond still get distinct values, which keeps
// (conversationId, timestamp) unique for turns written by one process.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewClock creates a clock over now. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns the next timestamp.
func (c *Clock) Next() int64 {
	return c.After(0)
}

// After returns the next timestamp that is also greater than floor.
func (c *Clock) After(floor int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	if ts <= c.last {
		ts = c.last + 1
	}
	if ts <= floor {
		ts = floor + 1
	}
	c.last = ts
	return ts
}

// Now returns the wall clock in epoch millis without advancing the sequence.
func (c *Clock) Now() int64 {
	return c.now().UnixMilli()
}

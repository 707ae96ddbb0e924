package chat

import (
	"sync"
	"time"
)

// MaxClockSkew is how far ahead of the local clock a caller-supplied
// sentAtMillis may be.
const MaxClockSkew = 5 * time.Minute

// Clock hands out strictly increasing millisecond timestamps so that two
// messages from the same sender never share a dedup key.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock returns a Clock reading now (time.Now when nil).
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// NextMillis returns max(now, last+1) and records it.
func (c *Clock) NextMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UnixMilli()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// Observe raises the floor for future NextMillis calls when a caller
// supplied its own timestamp. The clock is shared by every room, so a value
// more than MaxClockSkew ahead of now is rejected and leaves it untouched.
func (c *Clock) Observe(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ms > c.now().Add(MaxClockSkew).UnixMilli() {
		return ValidationError{Field: "sent_at", Reason: "too far in the future"}
	}
	if ms > c.last {
		c.last = ms
	}
	return nil
}

// Package ids provides opaque identifiers and monotonic timestamps.
//
// All persisted entities (conversations, messages, tool runs, turns) are keyed
// by UUIDv4 strings. The Clock guarantees strictly increasing timestamps within
// a process so that message ordering never depends on wall-clock resolution.
package ids

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// New returns a new opaque identifier (UUIDv4 string).
func New() string {
	return uuid.New().String()
}

// Clock produces strictly increasing timestamps. Wall clocks can repeat at
// microsecond resolution under load; repeated values would make message
// created_at ordering ambiguous across processes restarts.
type Clock struct {
	mu   sync.Mutex
	last time.Time
}

// NewClock creates a Clock seeded from the current wall time.
func NewClock() *Clock {
	return &Clock{}
}

// Now returns the current time, bumped by one microsecond whenever the wall
// clock has not advanced past the previously returned value.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

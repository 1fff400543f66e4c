// Package testutil provides deterministic substitutes for the clock and
// id seams the sync packages expose as options.
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a controllable wall clock for tests. Its Now method
// matches the func() time.Time seam that the cache, store, suppressor,
// and conflict detector accept, so a test can freeze time and advance
// it explicitly instead of sleeping.
//
// All methods are safe for concurrent use; engine workers may read the
// clock while the test goroutine advances it.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current instant without advancing it.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t, forward or backward.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

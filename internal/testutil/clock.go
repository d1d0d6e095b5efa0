// Package testutil provides deterministic test doubles shared across
// packages.
package testutil

import (
	"context"
	"sync"
	"time"
)

// ManualClock is a thread-safe clock that only moves when told to.
//
// It satisfies both the block clock (Now) and the engine clock (Now plus
// SleepUntil): SleepUntil does not block, it jumps the clock forward to
// the deadline, so a scan loop driven by a ManualClock free-runs while
// observing exact per-scan timestamps.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock pinned at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
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

// SleepUntil jumps the clock to deadline and returns immediately. The
// clock never moves backwards, so a deadline already in the past is a
// no-op, which is exactly the overrun case a scan loop has to handle.
func (c *ManualClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if deadline.After(c.now) {
		c.now = deadline
	}
	c.mu.Unlock()
	return nil
}

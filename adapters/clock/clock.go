// Package clock provides ports.Clock implementations.
package clock

import (
	"sync"
	"time"
)

// UTC reads the system clock in UTC.
type UTC struct{}

// Now returns the current time in UTC.
func (UTC) Now() time.Time {
	return time.Now().UTC()
}

// Stepping is a deterministic clock for tests. Each call to Now returns
// the current time and then advances it by the step.
type Stepping struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

// NewStepping creates a clock starting at start. A zero step keeps the
// time fixed.
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{current: start, step: step}
}

// Now returns the current time and advances the clock.
func (c *Stepping) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// Set moves the clock to t.
func (c *Stepping) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

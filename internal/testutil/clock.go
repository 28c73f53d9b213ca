// Package testutil holds helpers shared by package tests: a producer clock,
// batch builders, a recording host world and fixed scene ids.
package testutil

import (
	"sync"

	"github.com/roach88/scenebridge/internal/wire"
)

// TickClock hands out producer timestamps the way a scene script's tick
// counter does.
//
// Unlike a real script clock, TickClock can be reset so the same scenario
// runs repeatedly with identical timestamps.
//
// Thread-safety: all methods are safe for concurrent use.
type TickClock struct {
	mu sync.Mutex
	ts wire.Timestamp
}

// NewTickClock creates a clock whose first Next returns 1.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// Next increments and returns the next timestamp.
func (c *TickClock) Next() wire.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts++
	return c.ts
}

// Current returns the last timestamp handed out.
func (c *TickClock) Current() wire.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

// Reset rewinds the clock to zero.
func (c *TickClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = 0
}

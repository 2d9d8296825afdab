package engine

import (
	"sync"
	"time"
)

// stateClock issues the version states stamped onto writes. States
// follow wall-clock milliseconds but never repeat and never go
// backwards, so two writes through the same engine always order, even
// inside one millisecond or across a wall-clock step back.
//
// The clock also learns from records it sees on reads: observing a
// state from another writer pushes the clock past it, so the next local
// write wins conflict resolution against data written under a faster
// wall clock.
type stateClock struct {
	mu   sync.Mutex
	last int64
}

// next returns a state strictly greater than every state previously
// returned or observed.
func (c *stateClock) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := time.Now().UnixMilli()
	if state <= c.last {
		state = c.last + 1
	}
	c.last = state
	return state
}

// observe advances the clock to state if it is ahead.
func (c *stateClock) observe(state int64) {
	c.mu.Lock()
	if state > c.last {
		c.last = state
	}
	c.mu.Unlock()
}

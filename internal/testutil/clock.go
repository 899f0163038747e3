package testutil

import "sync"

// DeterministicClock is a logical last-write-time clock for tests. It
// implements doc.Clock.
//
// Unlike doc.LWTClock, DeterministicClock ignores wall time and can be
// reset, so the same scenario produces the same revisions on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	seq  int64
	step int64
}

// NewDeterministicClock creates a clock starting at start. Each call to
// Now advances it by one millisecond.
//
// The first call to Now() returns start+1.
func NewDeterministicClock(start int64) *DeterministicClock {
	return &DeterministicClock{seq: start, step: 1}
}

// Now advances the clock and returns the new time.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq += c.step
	return c.seq
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Advance moves the clock forward by ms without returning a value.
// Used to age tombstones past a cleanup threshold.
func (c *DeterministicClock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq += ms
}

// Reset sets the clock back to start.
func (c *DeterministicClock) Reset(start int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = start
}

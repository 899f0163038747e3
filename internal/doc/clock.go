package doc

import (
	"sync/atomic"
	"time"
)

// Clock supplies last-write-times in milliseconds.
type Clock interface {
	Now() int64
}

// LWTClock is a wall clock that never repeats or goes backwards: when the
// wall time has not advanced past the last value handed out, it returns
// last+1 instead. Two writes in the same millisecond therefore still
// order strictly by (lwt, id).
//
// Thread-safety: LWTClock is safe for concurrent use (atomic operations).
type LWTClock struct {
	last atomic.Int64
	wall func() time.Time
}

// NewLWTClock creates a clock backed by time.Now.
func NewLWTClock() *LWTClock {
	return &LWTClock{wall: time.Now}
}

// Now returns the next last-write-time.
func (c *LWTClock) Now() int64 {
	t := c.wall().UnixMilli()
	for {
		last := c.last.Load()
		next := t
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

var defaultClock = NewLWTClock()

// Now returns a process-wide strictly increasing last-write-time.
func Now() int64 {
	return defaultClock.Now()
}

// SystemClock adapts the package-level Now to the Clock interface.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() int64 { return Now() }

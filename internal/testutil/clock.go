// Package testutil provides deterministic time and ID sources for tests.
package testutil

import (
	"fmt"
	"sync"
	"time"
)

// Clock is a controllable wall clock. Tests advance it explicitly, so every
// run sees identical timestamps.
//
// Thread-safe: all methods take an internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t. Moving backward is allowed; code under test is
// expected to handle wall-clock regression.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// IDSequence issues deterministic UUID-formatted IDs: the first call returns
// ...000001, the second ...000002, and so on. The namespace fills the first
// UUID group, so sequences for different namespaces never collide.
//
// Thread-safe.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewIDSequence creates a sequence in the zero namespace, starting at 1.
func NewIDSequence() *IDSequence {
	return NewIDSequenceIn(0)
}

// NewIDSequenceIn creates a sequence in the given namespace. Use distinct
// namespaces when a test simulates multiple devices.
func NewIDSequenceIn(namespace uint32) *IDSequence {
	return &IDSequence{prefix: fmt.Sprintf("%08x", namespace)}
}

// Next returns the next ID in the sequence.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-0000-0000-0000-%012d", s.prefix, s.n)
}

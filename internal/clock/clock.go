// Package clock implements the Lamport logical clock that orders a
// process's events causally.
//
// Each simulated process owns exactly one Clock. The clock advances by one
// on every local event (Tick) and jumps forward on message receipt
// (Observe), which applies the Lamport receive rule:
//
//	clock = max(clock, peer) + 1
//
// This yields a causal partial order across processes without any shared
// clock entity - cross-process comparison happens only through clock values
// carried inside message bodies.
//
// Thread-safety: Clock is safe for concurrent use. In practice a single
// engine goroutine drives it, but the monitor stream may observe it from
// another goroutine.
package clock

import "sync"

// Clock is a monotonic Lamport logical clock.
//
// The value is strictly increasing over the owning process's lifetime:
// both Tick and Observe advance it by at least one, and nothing ever
// decreases it.
type Clock struct {
	mu  sync.Mutex
	now int64
}

// New creates a clock starting at 1, the initial logical time of a
// freshly started process.
func New() *Clock {
	return &Clock{now: 1}
}

// NewAt creates a clock starting at a specific value. Used by tests to
// exercise the receive rule from a known position.
func NewAt(start int64) *Clock {
	return &Clock{now: start}
}

// Now returns the current logical time without advancing it.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock by one for a local event and returns the new
// value.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

// Observe folds a peer's logical time into the clock using the Lamport
// receive rule: the new value is max(local, peer) + 1. Returns the new
// value.
//
// Observe never moves the clock backwards: even a stale peer value (one
// below the local clock) still advances local time by one.
func (c *Clock) Observe(peer int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer > c.now {
		c.now = peer
	}
	c.now++
	return c.now
}

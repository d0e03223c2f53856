// Package testutil provides deterministic stand-ins for the relay's
// delivery channels, the engine's event picker, and the event recorder.
package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/roach88/tempo/internal/message"
)

// ErrChannelDown is returned by Deliver after Disconnect.
var ErrChannelDown = errors.New("delivery channel disconnected")

// ManualChannel is an in-memory delivery channel with explicit liveness
// control. Tests register it with a relay, then flip it dead with
// Disconnect to exercise eviction paths.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualChannel struct {
	mu        sync.Mutex
	delivered []message.Message
	down      bool
	done      chan struct{}
	notify    chan struct{} // signalled on each delivery (buffered, size 1)
}

// NewManualChannel creates a live channel.
func NewManualChannel() *ManualChannel {
	return &ManualChannel{
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Deliver records the message, or fails if the channel was disconnected.
func (c *ManualChannel) Deliver(m message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.down {
		return ErrChannelDown
	}
	c.delivered = append(c.delivered, m)

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Live reports channel liveness.
func (c *ManualChannel) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.down
}

// Done is closed on Disconnect.
func (c *ManualChannel) Done() <-chan struct{} {
	return c.done
}

// Disconnect marks the channel dead and wakes any streaming loop blocked
// on Done. Idempotent.
func (c *ManualChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return
	}
	c.down = true
	close(c.done)
}

// SetDead marks the channel not-live WITHOUT closing Done. This models a
// silently broken connection that only a liveness check can detect -
// the case that triggers eviction during Send.
func (c *ManualChannel) SetDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = true
}

// Delivered returns a copy of everything delivered so far.
func (c *ManualChannel) Delivered() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.Message, len(c.delivered))
	copy(out, c.delivered)
	return out
}

// AwaitDelivered blocks until at least n messages have been delivered or
// the timeout elapses, and reports whether the count was reached.
func (c *ManualChannel) AwaitDelivered(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		have := len(c.delivered)
		c.mu.Unlock()
		if have >= n {
			return true
		}

		select {
		case <-deadline.C:
			return false
		case <-c.notify:
		}
	}
}

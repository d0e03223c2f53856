package engine

import (
	"fmt"
	"math/rand"
	"sync"
)

// Event is the synthetic event a process performs on a tick whose inbox
// is empty.
type Event int

const (
	// EventInternal advances the clock without sending anything.
	EventInternal Event = iota
	// EventSendFirst sends one message to the first peer.
	EventSendFirst
	// EventSendSecond sends one message to the second peer.
	EventSendSecond
	// EventSendBoth sends one message to each peer.
	EventSendBoth
)

// String returns the event name for logging and scenario files.
func (e Event) String() string {
	switch e {
	case EventSendFirst:
		return "send-first"
	case EventSendSecond:
		return "send-second"
	case EventSendBoth:
		return "send-both"
	default:
		return "internal"
	}
}

// ParseEvent parses an event name as produced by String.
func ParseEvent(s string) (Event, error) {
	switch s {
	case "internal":
		return EventInternal, nil
	case "send-first":
		return EventSendFirst, nil
	case "send-second":
		return EventSendSecond, nil
	case "send-both":
		return EventSendBoth, nil
	default:
		return EventInternal, fmt.Errorf("unknown event %q", s)
	}
}

// Picker chooses the synthetic event for an idle tick. It is injected
// into the engine so the event distribution stays testable and swappable
// independent of the tick loop. Implemented by UniformPicker (production)
// and testutil.ScriptedPicker (tests and stepped simulations).
type Picker interface {
	Pick() Event
}

// DefaultPickerBound is the default upper bound of the uniform draw.
// With a draw over 1..10 where 1, 2 and 3 map to the send variants,
// internal events come up 7 times in 10.
const DefaultPickerBound = 10

// UniformPicker draws uniformly from 1..bound and maps 1 to send-first,
// 2 to send-second, 3 to send-both, and everything else to internal.
// Raising the bound makes sends rarer; it never drops a send variant.
//
// Thread-safety: Pick is safe for concurrent use, though a single engine
// goroutine is the only expected caller.
type UniformPicker struct {
	mu    sync.Mutex
	bound int
	rng   *rand.Rand
}

// NewUniformPicker creates a picker with the given bound and seed.
// Bounds below 4 are raised to DefaultPickerBound so every variant stays
// reachable.
func NewUniformPicker(bound int, seed int64) *UniformPicker {
	if bound < 4 {
		bound = DefaultPickerBound
	}
	return &UniformPicker{
		bound: bound,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Pick draws one event.
func (p *UniformPicker) Pick() Event {
	p.mu.Lock()
	draw := p.rng.Intn(p.bound) + 1
	p.mu.Unlock()

	switch draw {
	case 1:
		return EventSendFirst
	case 2:
		return EventSendSecond
	case 3:
		return EventSendBoth
	default:
		return EventInternal
	}
}

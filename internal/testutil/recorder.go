package testutil

import (
	"context"
	"sync"

	"github.com/roach88/tempo/internal/eventlog"
)

// MemoryRecorder captures recorded events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []eventlog.Event
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the event.
func (r *MemoryRecorder) Record(_ context.Context, ev eventlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []eventlog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventlog.Event, len(r.events))
	copy(out, r.events)
	return out
}

package testutil

import (
	"sync"

	"github.com/roach88/tempo/internal/engine"
)

// ScriptedPicker replays a fixed sequence of events, then repeats its
// last entry forever. An empty script yields internal events only.
//
// Unlike engine.UniformPicker there is no randomness, which makes
// stepped simulation runs reproducible for golden-trace comparison.
type ScriptedPicker struct {
	mu     sync.Mutex
	script []engine.Event
	next   int
}

// NewScriptedPicker creates a picker replaying the given events.
func NewScriptedPicker(script ...engine.Event) *ScriptedPicker {
	return &ScriptedPicker{script: script}
}

// Pick returns the next scripted event.
func (p *ScriptedPicker) Pick() engine.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.script) == 0 {
		return engine.EventInternal
	}
	ev := p.script[p.next]
	if p.next < len(p.script)-1 {
		p.next++
	}
	return ev
}

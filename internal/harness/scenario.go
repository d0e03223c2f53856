package harness

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tempo/internal/engine"
)

// Scenario describes one simulation: the process topology, how long (or
// how many ticks) each run lasts, and how many runs to execute.
type Scenario struct {
	// Name identifies the scenario; golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Processes lists the simulated processes. At least two are needed
	// for any message exchange.
	Processes []ProcessSpec `yaml:"processes"`

	// Ticks selects stepped mode: every engine advances exactly this
	// many ticks, interleaved in declaration order.
	Ticks int `yaml:"ticks,omitempty"`

	// Duration selects realtime mode: engines free-run at their own
	// rates for this long. Exactly one of Ticks and Duration must be
	// set.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Runs is the number of independent runs (default 1). Each run
	// starts from fresh relay and clock state.
	Runs int `yaml:"runs,omitempty"`

	// DrainLimit bounds each engine's per-tick pending drain.
	// 0 keeps the engine default.
	DrainLimit int `yaml:"drain_limit,omitempty"`

	// Seed makes realtime-mode event picking reproducible per process.
	// Ignored in stepped mode.
	Seed int64 `yaml:"seed,omitempty"`

	// PickerBound overrides the uniform draw's upper bound in realtime
	// mode. 0 keeps the engine default.
	PickerBound int `yaml:"picker_bound,omitempty"`
}

// ProcessSpec describes one simulated process.
type ProcessSpec struct {
	// ID is the process id. Must be unique within the scenario.
	ID string `yaml:"id"`

	// Peers names the processes this one sends to. Defaults to every
	// other process in declaration order.
	Peers []string `yaml:"peers,omitempty"`

	// Rate is the tick rate in ticks per second (realtime mode only).
	// 0 draws a random rate at engine construction.
	Rate int `yaml:"rate,omitempty"`

	// Events scripts the process's synthetic events in stepped mode,
	// by name: internal, send-first, send-second, send-both. The last
	// entry repeats once the script runs out; an empty script means
	// internal events only.
	Events []string `yaml:"events,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks scenario consistency.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(s.Processes) < 2 {
		return fmt.Errorf("need at least two processes, have %d", len(s.Processes))
	}
	if (s.Ticks > 0) == (s.Duration > 0) {
		return fmt.Errorf("exactly one of ticks and duration must be set")
	}
	if s.Runs < 0 {
		return fmt.Errorf("negative runs")
	}

	seen := make(map[string]bool, len(s.Processes))
	for _, p := range s.Processes {
		if p.ID == "" {
			return fmt.Errorf("process with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate process id %q", p.ID)
		}
		seen[p.ID] = true

		for _, ev := range p.Events {
			if _, err := engine.ParseEvent(ev); err != nil {
				return fmt.Errorf("process %s: %w", p.ID, err)
			}
		}
	}

	for _, p := range s.Processes {
		for _, peer := range p.Peers {
			if !seen[peer] {
				return fmt.Errorf("process %s names unknown peer %q", p.ID, peer)
			}
			if peer == p.ID {
				return fmt.Errorf("process %s lists itself as a peer", p.ID)
			}
		}
	}
	return nil
}

// peersFor returns the configured peers for p, defaulting to every other
// process in declaration order.
func (s *Scenario) peersFor(p ProcessSpec) []string {
	if len(p.Peers) > 0 {
		return p.Peers
	}
	peers := make([]string, 0, len(s.Processes)-1)
	for _, other := range s.Processes {
		if other.ID != p.ID {
			peers = append(peers, other.ID)
		}
	}
	return peers
}

// script parses a process's scripted events.
func (p ProcessSpec) script() ([]engine.Event, error) {
	events := make([]engine.Event, 0, len(p.Events))
	for _, name := range p.Events {
		ev, err := engine.ParseEvent(name)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

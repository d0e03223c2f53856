package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/eventlog"
	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/testutil"
)

// Result collects everything a simulation produced.
type Result struct {
	Scenario string
	Runs     []RunResult
}

// RunResult holds one run's recorded events in recording order, which
// in stepped mode is the deterministic global event order.
type RunResult struct {
	Run    int
	Events []eventlog.Event
}

// localRelay adapts an in-process relay to the engine's client-side
// interface.
type localRelay struct {
	r *relay.Relay
}

func (l localRelay) Send(_ context.Context, m message.Message) error {
	return l.r.Send(m)
}

func (l localRelay) DrainPending(_ context.Context, processID string, limit int) ([]message.Message, error) {
	return l.r.DrainPending(processID, limit)
}

// Run executes every run of the scenario and collects the recorded
// events. A nil logger discards engine and relay output, which keeps
// stepped runs quiet for golden comparison.
func Run(ctx context.Context, s *Scenario, logger *slog.Logger) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runs := s.Runs
	if runs <= 0 {
		runs = 1
	}

	result := &Result{Scenario: s.Name}
	for run := 0; run < runs; run++ {
		rr, err := runOnce(ctx, s, run, logger)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", run, err)
		}
		result.Runs = append(result.Runs, rr)
		logger.Info("run completed", "scenario", s.Name, "run", run, "events", len(rr.Events))
	}
	return result, nil
}

func runOnce(ctx context.Context, s *Scenario, run int, logger *slog.Logger) (RunResult, error) {
	r := relay.New(logger)
	defer r.Close()

	log, err := eventlog.Open(":memory:")
	if err != nil {
		return RunResult{}, err
	}
	defer log.Close()

	engines, err := buildEngines(s, run, r, log, logger)
	if err != nil {
		return RunResult{}, err
	}

	if s.Ticks > 0 {
		err = runStepped(ctx, s, engines)
	} else {
		err = runRealtime(ctx, s, engines)
	}
	if err != nil {
		return RunResult{}, err
	}

	events, err := log.AllEvents(ctx, run)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Run: run, Events: events}, nil
}

func buildEngines(s *Scenario, run int, r *relay.Relay, log *eventlog.Log, logger *slog.Logger) ([]*engine.Engine, error) {
	engines := make([]*engine.Engine, 0, len(s.Processes))
	for i, p := range s.Processes {
		opts := []engine.Option{
			engine.WithRun(run),
			engine.WithLogger(logger),
		}
		if s.DrainLimit > 0 {
			opts = append(opts, engine.WithDrainLimit(s.DrainLimit))
		}

		if s.Ticks > 0 {
			// Stepped mode: scripted events, rate irrelevant but fixed
			// so construction never draws randomness.
			script, err := p.script()
			if err != nil {
				return nil, err
			}
			opts = append(opts,
				engine.WithRate(1),
				engine.WithPicker(testutil.NewScriptedPicker(script...)))
		} else {
			if p.Rate > 0 {
				opts = append(opts, engine.WithRate(p.Rate))
			}
			if s.Seed != 0 {
				bound := s.PickerBound
				if bound <= 0 {
					bound = engine.DefaultPickerBound
				}
				opts = append(opts, engine.WithPicker(
					engine.NewUniformPicker(bound, s.Seed+int64(i)+int64(run)*1000)))
			}
		}

		e, err := engine.New(p.ID, s.peersFor(p), localRelay{r}, log, opts...)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// runStepped advances every engine one tick at a time in declaration
// order. Messages sent on a tick are visible to later processes on the
// same tick via their pending drain, exactly as a fast enough live
// recipient would see them.
func runStepped(ctx context.Context, s *Scenario, engines []*engine.Engine) error {
	for tick := 0; tick < s.Ticks; tick++ {
		for _, e := range engines {
			if err := e.Step(ctx); err != nil {
				return fmt.Errorf("process %s tick %d: %w", e.ID(), tick+1, err)
			}
		}
	}
	return nil
}

// runRealtime free-runs every engine for the scenario duration, then
// stops them cooperatively and waits for the loops to finish.
func runRealtime(ctx context.Context, s *Scenario, engines []*engine.Engine) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(engines))
	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			if err := e.Run(runCtx); err != nil {
				errs <- fmt.Errorf("process %s: %w", e.ID(), err)
			}
		}(e)
	}

	select {
	case <-time.After(s.Duration):
	case <-ctx.Done():
	}
	for _, e := range engines {
		e.Stop()
	}
	cancel()
	wg.Wait()

	close(errs)
	for err := range errs {
		return err
	}
	return nil
}

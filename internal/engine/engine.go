package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tempo/internal/clock"
	"github.com/roach88/tempo/internal/eventlog"
	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
)

// Relay is the engine's view of the message relay. Implemented by the
// HTTP client in internal/transport and by the in-process adapter in
// internal/harness.
type Relay interface {
	// Send submits a message for a recipient. Errors that carry a
	// *relay.Fault are relay-internal failures; anything else means the
	// transport itself is unreachable.
	Send(ctx context.Context, m message.Message) error

	// DrainPending pops up to limit buffered messages for processID.
	// A limit <= 0 drains everything.
	DrainPending(ctx context.Context, processID string, limit int) ([]message.Message, error)
}

// Recorder persists one event per tick. Implemented by *eventlog.Log.
type Recorder interface {
	Record(ctx context.Context, ev eventlog.Event) error
}

// MaxRate bounds the randomly drawn tick rate: 1..6 ticks per second.
const MaxRate = 6

// DefaultDrainLimit bounds how many pending messages one tick pulls from
// the relay.
const DefaultDrainLimit = 32

// Engine drives one simulated process: it advances the Lamport clock
// every tick, consumes received messages via the receive rule, and
// otherwise emits a randomly picked synthetic event.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Deliver(): safe from any goroutine (the monitor stream feeds it)
//   - Stop(): safe from any goroutine
//
// All clock mutations happen on the Run goroutine; the clock itself is
// additionally lock-protected so observers can read it concurrently.
type Engine struct {
	id       string
	peers    []string
	clock    *clock.Clock
	relay    Relay
	recorder Recorder
	picker   Picker
	logger   *slog.Logger

	rate       int
	interval   time.Duration
	drainLimit int
	run        int // run number stamped on recorded events

	inboxMu sync.Mutex
	inbox   []message.Message

	ticks   atomic.Int64
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithPicker replaces the synthetic event picker. Tests inject a
// scripted picker here.
func WithPicker(p Picker) Option {
	return func(e *Engine) { e.picker = p }
}

// WithRate fixes the tick rate in ticks per second. Without this option
// the engine draws a rate uniformly from [1, MaxRate] at construction,
// giving each process its own pace.
func WithRate(rate int) Option {
	return func(e *Engine) { e.rate = rate }
}

// WithDrainLimit bounds the per-tick pending drain. A limit <= 0 makes
// the drain unbounded.
func WithDrainLimit(limit int) Option {
	return func(e *Engine) { e.drainLimit = limit }
}

// WithRun stamps recorded events with a run number (used by the
// multi-run simulation harness).
func WithRun(run int) Option {
	return func(e *Engine) { e.run = run }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine for process id exchanging messages with peers.
// At least one peer is required; with a single peer the send-second and
// send-both variants collapse onto it.
func New(id string, peers []string, r Relay, rec Recorder, opts ...Option) (*Engine, error) {
	if id == "" {
		return nil, errors.New("engine: empty process id")
	}
	if len(peers) == 0 {
		return nil, errors.New("engine: at least one peer required")
	}
	if r == nil {
		return nil, errors.New("engine: nil relay")
	}

	e := &Engine{
		id:         id,
		peers:      append([]string(nil), peers...),
		clock:      clock.New(),
		relay:      r,
		recorder:   rec,
		logger:     slog.Default(),
		drainLimit: DefaultDrainLimit,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.rate <= 0 {
		e.rate = rand.Intn(MaxRate) + 1
	}
	e.interval = time.Second / time.Duration(e.rate)
	if e.picker == nil {
		e.picker = NewUniformPicker(DefaultPickerBound, time.Now().UnixNano())
	}

	e.logger = e.logger.With("process", e.id)
	return e, nil
}

// ID returns the process id.
func (e *Engine) ID() string { return e.id }

// Rate returns the tick rate in ticks per second.
func (e *Engine) Rate() int { return e.rate }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *clock.Clock { return e.clock }

// Ticks returns how many ticks have completed.
func (e *Engine) Ticks() int64 { return e.ticks.Load() }

// Deliver appends a message pushed by the monitor stream to the inbox.
// The tick loop consumes it like any drained pending message.
func (e *Engine) Deliver(m message.Message) {
	e.inboxMu.Lock()
	e.inbox = append(e.inbox, m)
	e.inboxMu.Unlock()
}

// InboxLen returns the current inbox length.
func (e *Engine) InboxLen() int {
	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()
	return len(e.inbox)
}

// Stop clears the run flag. The current tick always completes; Run
// returns before the next one starts.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Run executes the tick loop until Stop is called, the context is
// cancelled between ticks, or a tick fails fatally. A transport failure
// terminates the engine with the underlying error; there are no retries.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	e.logger.Info("engine started", "rate", e.rate, "peers", e.peers)

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	for e.running.Load() {
		if err := e.Step(ctx); err != nil {
			e.logger.Error("engine terminating", "error", err)
			return err
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.interval)

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", "reason", "context", "ticks", e.ticks.Load())
			return nil
		case <-timer.C:
		}
	}

	e.logger.Info("engine stopped", "reason", "run flag", "ticks", e.ticks.Load())
	return nil
}

// Step executes exactly one tick of the algorithm:
//
//  1. Drain pending messages for this process into the inbox.
//  2. If the inbox is non-empty, consume its oldest message: a parseable
//     embedded clock value L sets clock = max(clock, L) + 1; an
//     unparseable body skips the merge and the tick advances the clock
//     by one like an internal event.
//  3. Otherwise pick a synthetic event. Send variants emit one message
//     per named peer embedding the pre-increment clock value; every
//     branch then advances the clock exactly once.
//
// The clock after a Step is always strictly greater than before it.
func (e *Engine) Step(ctx context.Context) error {
	drained, err := e.relay.DrainPending(ctx, e.id, e.drainLimit)
	if err != nil {
		return fmt.Errorf("drain pending: %w", err)
	}

	e.inboxMu.Lock()
	e.inbox = append(e.inbox, drained...)
	var m message.Message
	received := len(e.inbox) > 0
	var backlog int
	if received {
		m = e.inbox[0]
		e.inbox[0] = message.Message{}
		e.inbox = e.inbox[1:]
		backlog = len(e.inbox)
	}
	e.inboxMu.Unlock()

	tick := e.ticks.Add(1)

	if received {
		e.receive(ctx, tick, m, backlog)
		return nil
	}
	return e.emit(ctx, tick)
}

// receive applies the Lamport receive rule to one inbox message.
func (e *Engine) receive(ctx context.Context, tick int64, m message.Message, backlog int) {
	var now int64
	if peerClock, ok := message.ParseClock(m.Body); ok {
		now = e.clock.Observe(peerClock)
	} else {
		// No merge possible; the tick still counts as a local event.
		e.logger.Warn("message body carries no clock value", "sender", m.Sender)
		now = e.clock.Tick()
	}

	e.logger.Info("received message",
		"sender", m.Sender, "body", m.Body, "inbox", backlog, "clock", now)
	e.record(ctx, eventlog.Event{
		Process:  e.id,
		Run:      e.run,
		Tick:     tick,
		Kind:     eventlog.KindReceived,
		Peers:    m.Sender,
		Body:     m.Body,
		QueueLen: backlog,
		Clock:    now,
		WallTime: time.Now(),
	})
}

// emit performs one synthetic event tick.
func (e *Engine) emit(ctx context.Context, tick int64) error {
	ev := e.picker.Pick()

	var targets []string
	switch ev {
	case EventSendFirst:
		targets = []string{e.peer(0)}
	case EventSendSecond:
		targets = []string{e.peer(1)}
	case EventSendBoth:
		targets = []string{e.peer(0), e.peer(1)}
	}

	// The body embeds the pre-increment clock value.
	pre := e.clock.Now()
	for _, target := range targets {
		if err := e.send(ctx, target, pre); err != nil {
			return err
		}
	}

	// Exactly one advance per tick regardless of how many messages went
	// out.
	now := e.clock.Tick()

	if len(targets) == 0 {
		e.logger.Info("internal event", "clock", now)
		e.record(ctx, eventlog.Event{
			Process:  e.id,
			Run:      e.run,
			Tick:     tick,
			Kind:     eventlog.KindInternal,
			Clock:    now,
			WallTime: time.Now(),
		})
		return nil
	}

	e.logger.Info("sent message", "recipients", targets, "clock", now)
	e.record(ctx, eventlog.Event{
		Process:  e.id,
		Run:      e.run,
		Tick:     tick,
		Kind:     eventlog.KindSent,
		Peers:    strings.Join(targets, ","),
		Body:     message.ClockBody(pre),
		Clock:    now,
		WallTime: time.Now(),
	})
	return nil
}

// send submits one clock-carrying message. Relay-internal faults are
// logged and absorbed; transport failures are fatal and propagate.
func (e *Engine) send(ctx context.Context, recipient string, clockValue int64) error {
	m := message.NewClockMessage(e.id, recipient, clockValue)
	if err := e.relay.Send(ctx, m); err != nil {
		var fault *relay.Fault
		if errors.As(err, &fault) {
			e.logger.Error("relay rejected message", "recipient", recipient, "error", err)
			return nil
		}
		return fmt.Errorf("send to %s: %w", recipient, err)
	}
	return nil
}

// peer returns the i-th peer, collapsing onto the first one when the
// topology has fewer peers than the drawn event names.
func (e *Engine) peer(i int) string {
	if i >= len(e.peers) {
		return e.peers[0]
	}
	return e.peers[i]
}

// record persists one tick event. Recording is diagnostics, not
// protocol: a failure is reported but does not stop the engine.
func (e *Engine) record(ctx context.Context, ev eventlog.Event) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.Error("failed to record event", "kind", ev.Kind, "error", err)
	}
}

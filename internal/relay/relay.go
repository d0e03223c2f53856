package relay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/tempo/internal/message"
)

// DeliveryChannel abstracts a recipient's open stream. The relay pushes
// messages through Deliver, re-checks Live before every push decision,
// and watches Done to notice disconnects while idle.
//
// Implementations: the SSE response stream in internal/transport, and the
// manual channels in internal/testutil.
type DeliveryChannel interface {
	// Deliver pushes one message to the recipient. An error means the
	// stream is unusable and triggers eviction.
	Deliver(m message.Message) error

	// Live reports whether the channel is still believed usable.
	Live() bool

	// Done is closed when the channel is disconnected. It lets the
	// streaming loop block without polling while the queue is empty.
	Done() <-chan struct{}
}

// recipient holds all per-recipient relay state. Everything in here is
// guarded by mu; the relay-level mutex never protects these fields.
type recipient struct {
	mu      sync.Mutex
	pending []message.Message // offline buffer, drained by DrainPending
	channel DeliveryChannel   // nil when unregistered
	queue   *messageQueue     // active delivery queue; non-nil iff channel is
	gen     uint64            // registration generation, detects replacement
}

// Relay brokers message delivery between processes. It owns the active
// client registry and both queue sets; see the package documentation for
// the queue discipline.
//
// All methods are safe for concurrent use.
type Relay struct {
	logger *slog.Logger

	mu         sync.Mutex
	recipients map[string]*recipient
	closed     bool
}

// New creates an empty relay. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:     logger,
		recipients: make(map[string]*recipient),
	}
}

// recipient returns the state record for id, creating it on first use.
func (r *Relay) recipient(id string) (*recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, newClosedFault()
	}
	rec, ok := r.recipients[id]
	if !ok {
		rec = &recipient{}
		r.recipients[id] = rec
	}
	return rec, nil
}

// Send routes a message to its recipient's queue.
//
// If the recipient has a live registered channel the message goes to the
// active delivery queue; otherwise to the pending queue. A registered
// channel that reports not-live is evicted here and the message falls
// through to the pending path - the caller still sees success, liveness
// problems never surface to senders.
//
// Send returns an error only for relay faults (malformed message, relay
// shut down). It never blocks on delivery.
func (r *Relay) Send(m message.Message) error {
	if m.Recipient == "" {
		return newMalformedFault("", "message has no recipient")
	}
	if m.Sender == "" {
		return newMalformedFault(m.Recipient, "message has no sender")
	}

	rec, err := r.recipient(m.Recipient)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.channel != nil {
		if rec.channel.Live() && rec.queue.Enqueue(m) {
			r.logger.Debug("message queued for delivery",
				"sender", m.Sender, "recipient", m.Recipient)
			return nil
		}
		// Dead channel, or its queue closed mid-teardown.
		r.evictLocked(m.Recipient, rec)
	}

	rec.pending = append(rec.pending, m)
	r.logger.Debug("message buffered as pending",
		"sender", m.Sender, "recipient", m.Recipient, "pending", len(rec.pending))
	return nil
}

// RegisterStream registers ch as processID's delivery channel and runs
// the streaming loop until the channel disconnects, a delivery fails, or
// the registration is replaced by a newer one. It blocks for the lifetime
// of the stream; each live recipient therefore occupies one caller
// goroutine (or worker) for its whole registration.
//
// A stale registration for the same processID is replaced, not merged:
// the old stream's queue is closed, which makes its loop exit.
//
// The registry entry is removed on every exit path.
func (r *Relay) RegisterStream(processID string, ch DeliveryChannel) error {
	if processID == "" {
		return newRegistrationFault("", "empty process id")
	}
	if ch == nil {
		return newRegistrationFault(processID, "nil delivery channel")
	}

	rec, err := r.recipient(processID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.channel != nil {
		r.logger.Warn("replacing stale stream registration", "recipient", processID)
		r.evictLocked(processID, rec)
	}
	q := newMessageQueue()
	rec.channel = ch
	rec.queue = q
	rec.gen++
	gen := rec.gen
	rec.mu.Unlock()

	// Cleanup must run on every exit path. The generation check keeps a
	// replaced stream's teardown from evicting its successor.
	defer func() {
		rec.mu.Lock()
		if rec.gen == gen && rec.channel != nil {
			r.evictLocked(processID, rec)
		}
		rec.mu.Unlock()
	}()

	r.logger.Info("stream registered", "recipient", processID)
	return r.stream(processID, ch, q)
}

// stream drains the active delivery queue in FIFO order, blocking on the
// queue's signal channel between bursts.
func (r *Relay) stream(processID string, ch DeliveryChannel, q *messageQueue) error {
	for {
		for {
			m, ok := q.TryDequeue()
			if !ok {
				break
			}
			if !ch.Live() {
				return nil
			}
			if err := ch.Deliver(m); err != nil {
				return fmt.Errorf("deliver to %s: %w", processID, err)
			}
			r.logger.Debug("message delivered", "sender", m.Sender, "recipient", processID)
		}

		if q.Closed() {
			// Registration replaced or relay shut down.
			return nil
		}

		select {
		case <-ch.Done():
			return nil
		case <-q.Wait():
		}
	}
}

// DrainPending pops up to limit messages from the front of processID's
// pending queue and returns them in FIFO order. The pop is destructive.
// A limit <= 0 drains the whole queue.
func (r *Relay) DrainPending(processID string, limit int) ([]message.Message, error) {
	if processID == "" {
		return nil, newMalformedFault("", "empty process id")
	}

	rec, err := r.recipient(processID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	n := len(rec.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]message.Message, n)
	copy(out, rec.pending[:n])

	// Nil out drained slots so the backing array releases them.
	for i := 0; i < n; i++ {
		rec.pending[i] = message.Message{}
	}
	rec.pending = rec.pending[n:]
	if len(rec.pending) == 0 {
		rec.pending = nil
	}

	r.logger.Debug("pending drained", "recipient", processID, "count", n)
	return out, nil
}

// Live reports whether processID currently has a registered channel.
func (r *Relay) Live(processID string) bool {
	r.mu.Lock()
	rec, ok := r.recipients[processID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.channel != nil
}

// PendingLen returns the current pending queue length for processID.
func (r *Relay) PendingLen(processID string) int {
	r.mu.Lock()
	rec, ok := r.recipients[processID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.pending)
}

// ActiveLen returns the current active delivery queue length for
// processID, or 0 when the recipient is unregistered.
func (r *Relay) ActiveLen(processID string) int {
	r.mu.Lock()
	rec, ok := r.recipients[processID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.queue == nil {
		return 0
	}
	return rec.queue.Len()
}

// Close shuts the relay down: all streaming loops are woken and exit,
// and subsequent operations return a relay-closed fault. Queued messages
// are discarded - the relay makes no durability guarantees.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	recs := make([]*recipient, 0, len(r.recipients))
	ids := make([]string, 0, len(r.recipients))
	for id, rec := range r.recipients {
		recs = append(recs, rec)
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for i, rec := range recs {
		rec.mu.Lock()
		if rec.channel != nil {
			r.evictLocked(ids[i], rec)
		}
		rec.mu.Unlock()
	}
	r.logger.Info("relay closed")
}

// evictLocked removes the registry entry for a recipient whose channel is
// gone. Callers must hold rec.mu.
func (r *Relay) evictLocked(id string, rec *recipient) {
	if rec.queue != nil {
		if abandoned := rec.queue.Len(); abandoned > 0 {
			r.logger.Warn("abandoning undelivered messages on eviction",
				"recipient", id, "count", abandoned)
		}
		rec.queue.Close()
	}
	rec.channel = nil
	rec.queue = nil
	r.logger.Info("registry entry evicted", "recipient", id)
}

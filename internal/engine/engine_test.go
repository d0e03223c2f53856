package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/eventlog"
	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/testutil"
)

// fakeRelay is an in-memory engine.Relay with scriptable failures.
type fakeRelay struct {
	mu       sync.Mutex
	pending  map[string][]message.Message
	sent     []message.Message
	sendErr  error
	drainErr error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{pending: make(map[string][]message.Message)}
}

func (f *fakeRelay) Send(_ context.Context, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeRelay) DrainPending(_ context.Context, processID string, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.drainErr != nil {
		return nil, f.drainErr
	}
	q := f.pending[processID]
	n := len(q)
	if limit > 0 && limit < n {
		n = limit
	}
	out := append([]message.Message(nil), q[:n]...)
	f.pending[processID] = q[n:]
	return out, nil
}

func (f *fakeRelay) buffer(m message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[m.Recipient] = append(f.pending[m.Recipient], m)
}

func (f *fakeRelay) sentMessages() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Message(nil), f.sent...)
}

func newTestEngine(t *testing.T, r engine.Relay, rec engine.Recorder, opts ...engine.Option) *engine.Engine {
	t.Helper()
	opts = append([]engine.Option{engine.WithRate(engine.MaxRate)}, opts...)
	e, err := engine.New("1", []string{"2", "3"}, r, rec, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_Validation(t *testing.T) {
	r := newFakeRelay()

	_, err := engine.New("", []string{"2"}, r, nil)
	assert.Error(t, err, "empty id")

	_, err = engine.New("1", nil, r, nil)
	assert.Error(t, err, "no peers")

	_, err = engine.New("1", []string{"2"}, nil, nil)
	assert.Error(t, err, "nil relay")
}

func TestNew_RandomRateInBounds(t *testing.T) {
	r := newFakeRelay()
	for i := 0; i < 20; i++ {
		e, err := engine.New("1", []string{"2"}, r, nil)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, e.Rate(), 1)
		assert.LessOrEqual(t, e.Rate(), engine.MaxRate)
	}
}

func TestStep_ClockStrictlyIncreases(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(
			engine.EventInternal,
			engine.EventSendFirst,
			engine.EventSendBoth,
			engine.EventInternal,
		)))

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		before := e.Clock().Now()
		require.NoError(t, e.Step(ctx))
		assert.Greater(t, e.Clock().Now(), before, "tick %d", i)
	}
}

func TestStep_ReceiveRule(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec)

	// clock starts at 1; receiving L=5 gives max(1,5)+1 = 6.
	r.buffer(message.New("2", "1", message.ClockBody(5)))
	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, int64(6), e.Clock().Now())

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.KindReceived, events[0].Kind)
	assert.Equal(t, "2", events[0].Peers)
	assert.Equal(t, int64(6), events[0].Clock)
	assert.Equal(t, 0, events[0].QueueLen)
}

func TestStep_ReceiveStaleClock(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil)

	// Warm the clock past the incoming value.
	for i := 0; i < 9; i++ {
		e.Clock().Tick()
	}
	require.Equal(t, int64(10), e.Clock().Now())

	r.buffer(message.New("2", "1", message.ClockBody(3)))
	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, int64(11), e.Clock().Now(), "max(10,3)+1")
}

func TestStep_UnparseableBodySkipsMerge(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec)

	r.buffer(message.New("2", "1", "free-form chat text"))
	require.NoError(t, e.Step(context.Background()))

	// No merge, but the tick still advances the clock and the event is
	// still recorded.
	assert.Equal(t, int64(2), e.Clock().Now())
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.KindReceived, events[0].Kind)
}

func TestStep_ReceiveConsumesOldestFirst(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec)

	for i := 0; i < 3; i++ {
		r.buffer(message.New("2", "1", fmt.Sprintf("note %d", i)))
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.Step(ctx))
	}

	events := rec.Events()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("note %d", i), ev.Body)
		assert.Equal(t, 2-i, ev.QueueLen, "backlog shrinks by one per tick")
	}
}

func TestStep_SendEmbedsPreIncrementClock(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendFirst)))

	require.Equal(t, int64(1), e.Clock().Now())
	require.NoError(t, e.Step(context.Background()))

	sent := r.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "2", sent[0].Recipient)

	v, ok := message.ParseClock(sent[0].Body)
	require.True(t, ok)
	assert.Equal(t, int64(1), v, "body carries the pre-increment clock")
	assert.Equal(t, int64(2), e.Clock().Now(), "clock advanced once after the send")
}

func TestStep_SendBothAdvancesOnce(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendBoth)))

	require.NoError(t, e.Step(context.Background()))

	sent := r.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "2", sent[0].Recipient)
	assert.Equal(t, "3", sent[1].Recipient)

	// Two messages, one clock advance, one recorded event.
	assert.Equal(t, int64(2), e.Clock().Now())
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.KindSent, events[0].Kind)
	assert.Equal(t, "2,3", events[0].Peers)
}

func TestStep_SendSecondTargetsSecondPeer(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendSecond)))

	require.NoError(t, e.Step(context.Background()))

	sent := r.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "3", sent[0].Recipient)
}

func TestStep_SinglePeerCollapse(t *testing.T) {
	r := newFakeRelay()
	e, err := engine.New("1", []string{"2"}, r, nil,
		engine.WithRate(1),
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendSecond, engine.EventSendBoth)))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Step(ctx))
	require.NoError(t, e.Step(ctx))

	for _, m := range r.sentMessages() {
		assert.Equal(t, "2", m.Recipient)
	}
}

func TestStep_InternalEventRecorded(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventInternal)))

	require.NoError(t, e.Step(context.Background()))

	assert.Empty(t, r.sentMessages())
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventlog.KindInternal, events[0].Kind)
	assert.Equal(t, int64(2), events[0].Clock)
}

func TestStep_ReceivePreemptsSynthetic(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendBoth)))

	r.buffer(message.New("3", "1", message.ClockBody(2)))
	require.NoError(t, e.Step(context.Background()))

	assert.Empty(t, r.sentMessages(), "a non-empty inbox suppresses synthetic events")
}

func TestStep_DrainLimitRespected(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil, engine.WithDrainLimit(2))

	for i := 0; i < 5; i++ {
		r.buffer(message.New("2", "1", message.ClockBody(int64(i))))
	}

	require.NoError(t, e.Step(context.Background()))
	// Two drained, one consumed, one still in the inbox.
	assert.Equal(t, 1, e.InboxLen())
}

func TestStep_TransportFailureIsFatal(t *testing.T) {
	r := newFakeRelay()
	r.drainErr = errors.New("connection refused")
	e := newTestEngine(t, r, nil)

	err := e.Step(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")
}

func TestStep_SendTransportFailureIsFatal(t *testing.T) {
	r := newFakeRelay()
	r.sendErr = errors.New("broken pipe")
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendFirst)))

	err := e.Step(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "broken pipe")
}

func TestStep_RelayFaultAbsorbed(t *testing.T) {
	r := newFakeRelay()
	r.sendErr = &relay.Fault{Code: relay.FaultMalformedMessage, Message: "bad message"}
	e := newTestEngine(t, r, nil,
		engine.WithPicker(testutil.NewScriptedPicker(engine.EventSendFirst)))

	// A FAILURE status from the relay is reported but not fatal.
	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, int64(2), e.Clock().Now(), "the tick still completes")
}

func TestRun_StopEndsLoop(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return e.Ticks() >= 2 },
		3*time.Second, time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_ContextCancelEndsLoop(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Ticks() >= 1 },
		3*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestRun_FatalErrorPropagates(t *testing.T) {
	r := newFakeRelay()
	e := newTestEngine(t, r, nil)
	r.mu.Lock()
	r.drainErr = errors.New("relay unreachable")
	r.mu.Unlock()

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "relay unreachable")
}

func TestDeliver_FeedsInbox(t *testing.T) {
	r := newFakeRelay()
	rec := testutil.NewMemoryRecorder()
	e := newTestEngine(t, r, rec)

	e.Deliver(message.New("3", "1", message.ClockBody(9)))
	assert.Equal(t, 1, e.InboxLen())

	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, int64(10), e.Clock().Now(), "max(1,9)+1")
	assert.Equal(t, 0, e.InboxLen())
}

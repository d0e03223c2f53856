package transport_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
	"github.com/roach88/tempo/internal/transport"
)

const waitFor = 5 * time.Second

func newTestServer(t *testing.T) (*relay.Relay, *transport.Client) {
	t.Helper()

	r := relay.New(nil)
	srv := httptest.NewServer(transport.NewServer(r, nil).Handler())
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return r, transport.NewClient(srv.URL, nil)
}

func TestClient_SendBuffersForOfflineRecipient(t *testing.T) {
	r, c := newTestServer(t)
	ctx := context.Background()

	err := c.Send(ctx, message.New("1", "2", "the local clock time is 5"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingLen("2"))
}

func TestClient_SendMalformedReturnsFault(t *testing.T) {
	_, c := newTestServer(t)

	err := c.Send(context.Background(), message.Message{Sender: "1", Body: "no recipient"})
	require.Error(t, err)
	assert.True(t, relay.IsMalformed(err), "FAILURE status must map back to a relay fault")
}

func TestClient_SendUnreachableIsTransportError(t *testing.T) {
	c := transport.NewClient("http://127.0.0.1:1", nil)

	err := c.Send(context.Background(), message.New("1", "2", "x"))
	require.Error(t, err)
	assert.False(t, relay.IsMalformed(err))
	assert.False(t, relay.IsClosed(err))
}

func TestClient_DrainPending(t *testing.T) {
	r, c := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Send(message.New("1", "2", message.ClockBody(int64(i)))))
	}

	got, err := c.DrainPending(ctx, "2", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		v, ok := message.ParseClock(m.Body)
		require.True(t, ok)
		assert.Equal(t, int64(i), v, "drain must preserve FIFO order")
	}

	rest, err := c.DrainPending(ctx, "2", 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	empty, err := c.DrainPending(ctx, "2", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClient_Monitor_StreamsMessages(t *testing.T) {
	r, c := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan message.Message, 16)
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- c.Monitor(ctx, "2", func(m message.Message) {
			received <- m
		})
	}()

	// Wait for the registration to land before sending.
	require.Eventually(t, func() bool { return r.Live("2") },
		waitFor, 5*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Send(message.New("1", "2", message.ClockBody(int64(i)))))
	}

	for i := 0; i < 3; i++ {
		select {
		case m := <-received:
			v, ok := message.ParseClock(m.Body)
			require.True(t, ok)
			assert.Equal(t, int64(i), v, "stream must preserve FIFO order")
			assert.Equal(t, "1", m.Sender)
		case <-time.After(waitFor):
			t.Fatalf("message %d never arrived on the stream", i)
		}
	}

	// Live sends never touch the pending queue.
	assert.Equal(t, 0, r.PendingLen("2"))

	// Client disconnect tears down the registration.
	cancel()
	select {
	case err := <-monitorDone:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(waitFor):
		t.Fatal("monitor did not return after cancel")
	}
	require.Eventually(t, func() bool { return !r.Live("2") },
		waitFor, 5*time.Millisecond, "registry entry must be removed on disconnect")
}

func TestClient_Monitor_ReplacedByNewRegistration(t *testing.T) {
	r, c := newTestServer(t)

	oldCtx, oldCancel := context.WithCancel(context.Background())
	defer oldCancel()
	oldDone := make(chan error, 1)
	go func() {
		oldDone <- c.Monitor(oldCtx, "2", func(message.Message) {})
	}()
	require.Eventually(t, func() bool { return r.Live("2") }, waitFor, 5*time.Millisecond)

	// A second monitor for the same process replaces the first.
	newCtx, newCancel := context.WithCancel(context.Background())
	defer newCancel()
	received := make(chan message.Message, 1)
	newDone := make(chan error, 1)
	go func() {
		newDone <- c.Monitor(newCtx, "2", func(m message.Message) { received <- m })
	}()

	// The old stream ends once the relay closes its queue and its next
	// wake observes the teardown; the new one keeps delivering.
	require.Eventually(t, func() bool { return r.Live("2") }, waitFor, 5*time.Millisecond)
	require.NoError(t, r.Send(message.New("1", "2", message.ClockBody(9))))

	select {
	case m := <-received:
		v, _ := message.ParseClock(m.Body)
		assert.Equal(t, int64(9), v)
	case <-time.After(waitFor):
		t.Fatal("successor stream received nothing")
	}

	newCancel()
	select {
	case <-newDone:
	case <-time.After(waitFor):
		t.Fatal("successor monitor did not return")
	}
}

func TestServer_Run_GracefulShutdown(t *testing.T) {
	r := relay.New(nil)
	s := transport.NewServer(r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("server did not shut down")
	}
}

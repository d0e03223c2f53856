package relay

import (
	"sync"

	"github.com/roach88/tempo/internal/message"
)

// messageQueue is a thread-safe FIFO queue of messages for one recipient's
// active delivery stream.
//
// The queue is unbounded: senders must never block on a slow recipient.
//
// The queue uses a buffered signal channel for wake-on-enqueue. The
// streaming loop selects on Wait() instead of busy-polling; a buffer of
// one coalesces bursts of signals, so the loop drains with TryDequeue
// after every wake.
type messageQueue struct {
	mu     sync.Mutex
	msgs   []message.Message
	closed bool
	signal chan struct{} // signals message availability (buffered, size 1)
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		msgs:   make([]message.Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a message to the back of the queue and wakes any waiter.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *messageQueue) Enqueue(m message.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.msgs = append(q.msgs, m)

	// Non-blocking send: a pending token already covers this enqueue.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns false if the queue is empty.
func (q *messageQueue) TryDequeue() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return message.Message{}, false
	}

	m := q.msgs[0]

	// Nil out the slot so the backing array doesn't retain the message's
	// strings until reallocation.
	q.msgs[0] = message.Message{}

	if len(q.msgs) == 1 {
		q.msgs = q.msgs[:0]
	} else {
		q.msgs = q.msgs[1:]
	}

	return m, true
}

// Wait returns a channel that signals when messages may be available.
// Use with select alongside the delivery channel's Done():
//
//	select {
//	case <-ch.Done():
//	    return
//	case <-q.Wait():
//	    // drain with TryDequeue
//	}
func (q *messageQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Closed reports whether the queue has been closed.
func (q *messageQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes all waiters. Enqueue after Close
// returns false; messages still in the queue are abandoned (the registry
// eviction path logs how many).
func (q *messageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

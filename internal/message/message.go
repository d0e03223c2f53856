// Package message defines the immutable chat message exchanged between
// processes and the body convention that embeds a sender's logical clock
// value.
package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// clockBodyPrefix is the protocol convention for messages generated by a
// send event: the body carries the sender's pre-send logical clock value
// as trailing text. Receivers parse it to apply the Lamport receive rule.
const clockBodyPrefix = "the local clock time is "

// Message is an immutable chat message. Created once by the sending
// process, consumed exactly once by the recipient's tick loop.
//
// Timestamp is a wall-clock string carried for diagnostics only; it is
// never used for ordering (that's what the logical clock is for).
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
}

// New creates a message with a fresh UUIDv7 ID and the current wall-clock
// timestamp.
func New(sender, recipient, body string) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

// NewClockMessage creates a message whose body embeds the given logical
// clock value per the protocol convention.
func NewClockMessage(sender, recipient string, clock int64) Message {
	return New(sender, recipient, ClockBody(clock))
}

// ClockBody renders the body text for a send event carrying a logical
// clock value.
func ClockBody(clock int64) string {
	return fmt.Sprintf("%s%d", clockBodyPrefix, clock)
}

// ParseClock extracts the embedded logical clock value from a message
// body. Returns false if the body does not follow the protocol convention
// or the trailing value is not a non-negative integer; such messages are
// still delivered, the receiver just skips the clock-update step.
func ParseClock(body string) (int64, bool) {
	rest, ok := strings.CutPrefix(body, clockBodyPrefix)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

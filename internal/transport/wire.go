package transport

import "github.com/roach88/tempo/internal/message"

// Operation statuses on the wire.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// SendRequest is the body of POST /v1/messages.
type SendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp,omitempty"`
}

// SendResponse reports the outcome of a send. Code carries the relay
// fault code on FAILURE so clients can reconstruct the fault taxonomy.
type SendResponse struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PendingResponse is the body of GET /v1/pending/:recipient.
type PendingResponse struct {
	Status   string            `json:"status"`
	Code     string            `json:"code,omitempty"`
	Error    string            `json:"error,omitempty"`
	Messages []message.Message `json:"messages"`
}

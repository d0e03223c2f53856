// Package transport carries the relay's three operations over HTTP:
//
//   - POST /v1/messages          submit a message (SendMessage)
//   - GET  /v1/pending/:id       bounded destructive drain (GetPendingMessages)
//   - GET  /v1/monitor/:id       server-push message stream (MonitorMessages)
//
// The monitor endpoint streams server-sent events; the open response IS
// the recipient's delivery channel. Client disconnect cancels the request
// context, which the relay's streaming loop observes as not-live.
//
// Each live monitor stream pins one server goroutine for its whole
// registration, on top of the short-lived send/drain requests. The HTTP
// server spawns goroutines per connection rather than using a fixed
// worker pool, so the number of simultaneously live recipients is bounded
// by file descriptors and memory, not by a pool size.
//
// The package also implements the legacy delimited-text frame codec
// (VERSION§LENGTH§OPCODE§args...) for interoperability with the
// raw-socket transport variant; see frame.go.
package transport

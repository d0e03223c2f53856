// Package relay implements the message relay at the center of the
// simulated network: it accepts messages for recipients, holds them in
// per-recipient queues, and streams them to a recipient's live delivery
// channel or buffers them while the recipient is offline.
//
// ARCHITECTURE:
//
// Per-recipient state:
// Each recipient has a pending queue (offline buffer, drained by an
// explicit pull), an active delivery queue (drained by the recipient's
// streaming loop), and at most one registered delivery channel. A message
// lands in exactly one of the two queues, decided by the registry state at
// enqueue time.
//
// Wake-on-enqueue streaming:
// The streaming loop inside RegisterStream blocks on a per-recipient
// signal channel rather than busy-polling. Send wakes the loop; the loop
// drains the active queue in FIFO order and pushes each message over the
// delivery channel. The loop exits when the channel reports not-live,
// when delivery fails, or when the registration is replaced - and the
// registry entry is removed on every exit path.
//
// Liveness and eviction:
// A registry entry means "believed live", not "guaranteed live". Every
// Send re-checks the channel; a dead channel is evicted and the message
// is rerouted to the pending queue, with the sender still seeing success.
//
// Locking discipline:
// The relay-level mutex only guards the recipient map. All queue and
// registry mutations for one recipient happen under that recipient's own
// mutex, making push-then-pop and check-then-evict sequences atomic per
// recipient without cross-recipient contention.
package relay

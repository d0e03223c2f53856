// Package engine implements the clock engine that drives one simulated
// process.
//
// Each tick, the engine pulls its pending messages from the relay into a
// local inbox, then either consumes the oldest inbox message (applying
// the Lamport receive rule to the clock value embedded in the body) or,
// with an empty inbox, draws a synthetic event from an injected picker:
// an internal event, a send to one peer, or a send to both. Every tick
// advances the logical clock exactly once.
//
// The inbox has two feeders: the tick loop's own drain of the relay's
// pending queue, and an optional monitor stream goroutine that calls
// Deliver as messages arrive over the live delivery channel. The tick
// loop is complete without the monitor, which is also what keeps stepped
// simulation runs deterministic.
//
// Cancellation is cooperative: a run flag checked once per tick, plus
// context checks between ticks. Mid-tick work (both sends of a
// send-both event) always completes once started.
package engine

// Package harness runs whole simulations in-process: one relay plus a
// set of clock engines, for a configured number of runs.
//
// Two execution modes exist:
//
// Stepped mode (ticks > 0) advances every engine one tick at a time in
// declaration order on a single goroutine, with scripted event pickers.
// No wall clock, no goroutine interleaving, no randomness - the recorded
// event sequence is fully deterministic and suitable for golden-file
// comparison.
//
// Realtime mode (duration > 0) starts every engine's own tick loop
// concurrently, lets the simulation run for the configured duration, and
// then stops the engines cooperatively. Event pickers are seeded per
// process, so a fixed seed reproduces each process's event choices even
// though the cross-process interleaving stays nondeterministic.
//
// Every run gets a fresh relay and a fresh in-memory event log; the
// collected per-run events are the simulation's result.
package harness

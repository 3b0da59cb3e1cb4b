// Package harness runs scripted lesson scenarios against the full
// engine stack and compares the resulting journal transcript against
// golden files.
//
// A scenario is a lesson source plus an ordered list of deliveries
// (gestures, ticks, stop). Every scenario runs in a fresh in-memory
// store with a stepping clock and sequential session ids, so the same
// scenario always produces a byte-identical transcript.
//
// Transcripts capture what the spec cares about: the gap-free event
// journal in seq order, the terminal status, and the final state.
// Wall-clock timestamps are deliberately left out; they are exercised
// by the store tests and would only make transcripts brittle.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
package harness

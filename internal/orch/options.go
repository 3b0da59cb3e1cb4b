package orch

import (
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHookTimeout bounds each hook invocation's wall-clock time.
func WithHookTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.hookTimeout = d
		}
	}
}

// WithRetryBudget sets how many consecutive timeout/resource aborts a
// session survives before it is failed.
func WithRetryBudget(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.retryBudget = n
		}
	}
}

// WithCompletionEvent overrides the script-emitted event type that
// completes a lesson.
func WithCompletionEvent(typ string) Option {
	return func(o *Orchestrator) {
		if typ != "" {
			o.completionEvent = typ
		}
	}
}

// WithIdleTimeout enables the janitor: sessions with no delivery for d
// are stopped. Zero disables eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.idleTimeout = d
	}
}

// WithNowFunc substitutes the wall clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator substitutes the session id source, for tests.
func WithIDGenerator(g SessionIDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.idgen = g
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

package orch

import (
	"errors"
	"fmt"
)

// UnknownScriptError is returned by StartSession for a script id the
// registry cannot resolve (never loaded, or retired).
type UnknownScriptError struct {
	ScriptID string
}

func (e *UnknownScriptError) Error() string {
	return fmt.Sprintf("unknown script %q", e.ScriptID)
}

// UnknownSessionError is returned for a session id that exists neither
// in memory nor in the store.
type UnknownSessionError struct {
	SessionID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown session %q", e.SessionID)
}

// SessionNotRunningError is returned when delivery is attempted against
// a session in a terminal state. The transport layer gets the last
// known status so it can decide on retry or backoff; delivery is never
// silently dropped.
type SessionNotRunningError struct {
	SessionID string
	Status    Status
}

func (e *SessionNotRunningError) Error() string {
	return fmt.Sprintf("session %s is not running (status %s)", e.SessionID, e.Status)
}

// IsSessionNotRunning reports whether err is a SessionNotRunningError.
// Uses errors.As to handle wrapped errors.
func IsSessionNotRunning(err error) bool {
	var se *SessionNotRunningError
	return errors.As(err, &se)
}

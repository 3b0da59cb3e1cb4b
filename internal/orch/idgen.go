package orch

import "github.com/google/uuid"

// SessionIDGenerator mints session ids. Swappable so tests get
// deterministic ids.
type SessionIDGenerator interface {
	NewID() string
}

// UUIDv7Generator issues time-ordered UUIDv7 ids, so session ids sort
// by creation time in the store.
type UUIDv7Generator struct{}

func (UUIDv7Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

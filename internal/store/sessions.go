package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted form of a session.
type SessionRecord struct {
	SessionID     string
	ScriptID      string
	ScriptVersion int64
	Status        string
	StateJSON     []byte
	StartedAt     time.Time
	LastEventAt   *time.Time
	StoppedAt     *time.Time
}

// CreateSession inserts the initial row for a new session.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	stateJSON := rec.StateJSON
	if len(stateJSON) == 0 {
		stateJSON = []byte("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(session_id, script_id, script_version, status, state, started_at, last_event_at, stopped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID,
		rec.ScriptID,
		rec.ScriptVersion,
		rec.Status,
		string(stateJSON),
		formatTime(rec.StartedAt),
		nullableTime(rec.LastEventAt),
		nullableTime(rec.StoppedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession loads a session row. Returns ErrNotFound for an unknown id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, script_id, script_version, status, state, started_at, last_event_at, stopped_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID)

	var rec SessionRecord
	var stateText, startedAt string
	var lastEventAt, stoppedAt *string
	err := row.Scan(
		&rec.SessionID,
		&rec.ScriptID,
		&rec.ScriptVersion,
		&rec.Status,
		&stateText,
		&startedAt,
		&lastEventAt,
		&stoppedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	rec.StateJSON = []byte(stateText)
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if rec.LastEventAt, err = parseNullableTime(lastEventAt); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if rec.StoppedAt, err = parseNullableTime(stoppedAt); err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &rec, nil
}

package store

import (
	"context"
	"fmt"
	"time"
)

// Event is one immutable journal record. Seq is strictly increasing
// per session with no gaps; ordering never relies on Timestamp.
type Event struct {
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// Commit is the atomic unit written after a successful hook call: the
// call's events plus the session-row update. Either everything lands
// or nothing does.
type Commit struct {
	SessionID string
	Events    []Event

	// StateJSON replaces the session's state column when non-nil.
	StateJSON []byte

	// Status replaces the session's status column when non-empty.
	Status string

	LastEventAt *time.Time
	StoppedAt   *time.Time
}

// AppendCommit appends the commit's events and applies its session-row
// updates in one transaction. Event seqs must already be assigned (the
// bus reserves them); the composite primary key rejects a duplicate seq
// rather than silently reordering.
func (s *Store) AppendCommit(ctx context.Context, c Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, ev := range c.Events {
		payloadJSON, err := marshalPayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("append commit: event seq %d: %w", ev.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (session_id, seq, event_type, payload, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`,
			c.SessionID,
			ev.Seq,
			ev.Type,
			payloadJSON,
			formatTime(ev.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append commit: insert event seq %d: %w", ev.Seq, err)
		}
	}

	if c.StateJSON != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET state = ? WHERE session_id = ?`,
			string(c.StateJSON), c.SessionID,
		); err != nil {
			return fmt.Errorf("append commit: update state: %w", err)
		}
	}
	if c.Status != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE session_id = ?`,
			c.Status, c.SessionID,
		); err != nil {
			return fmt.Errorf("append commit: update status: %w", err)
		}
	}
	if c.LastEventAt != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_event_at = ? WHERE session_id = ?`,
			formatTime(*c.LastEventAt), c.SessionID,
		); err != nil {
			return fmt.Errorf("append commit: update last_event_at: %w", err)
		}
	}
	if c.StoppedAt != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET stopped_at = ? WHERE session_id = ?`,
			formatTime(*c.StoppedAt), c.SessionID,
		); err != nil {
			return fmt.Errorf("append commit: update stopped_at: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append commit: commit: %w", err)
	}
	return nil
}

// MaxSeq returns the highest assigned seq for a session, 0 if the
// journal is empty. The bus seeds its per-session clock from this.
func (s *Store) MaxSeq(ctx context.Context, sessionID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM events WHERE session_id = ?`,
		sessionID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return max, nil
}

// ListEvents returns a session's journal slice matching the filter, in
// seq order. Returns an empty slice, never nil.
func (s *Store) ListEvents(ctx context.Context, sessionID string, f EventFilter) ([]Event, error) {
	query, args := buildEventQuery(sessionID, f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var ev Event
		var payloadText, ts string
		if err := rows.Scan(&ev.SessionID, &ev.Seq, &ev.Type, &payloadText, &ts); err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		if ev.Payload, err = unmarshalPayload(payloadText); err != nil {
			return nil, fmt.Errorf("list events: seq %d: %w", ev.Seq, err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("list events: seq %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

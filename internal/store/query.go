package store

import "strings"

// EventFilter narrows a journal read. Zero value means the whole
// journal.
type EventFilter struct {
	// Type keeps only events of this exact type.
	Type string

	// AfterSeq keeps only events with seq > AfterSeq. This is the
	// restart point for resumable subscriptions.
	AfterSeq int64

	// Limit caps the result count; 0 means no cap.
	Limit int
}

// buildEventQuery compiles a filter into SQL. Reads always ORDER BY
// seq ASC so replay is deterministic.
func buildEventQuery(sessionID string, f EventFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT session_id, seq, event_type, payload, timestamp FROM events WHERE session_id = ?`)
	args := []any{sessionID}

	if f.Type != "" {
		sb.WriteString(` AND event_type = ?`)
		args = append(args, f.Type)
	}
	if f.AfterSeq > 0 {
		sb.WriteString(` AND seq > ?`)
		args = append(args, f.AfterSeq)
	}

	sb.WriteString(` ORDER BY seq ASC`)

	if f.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	return sb.String(), args
}

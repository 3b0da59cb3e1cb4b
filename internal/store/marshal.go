package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// timeFormat is the column representation for timestamps. RFC 3339
// with nanoseconds, always UTC.
const timeFormat = time.RFC3339Nano

// marshalPayload converts an event payload to JSON TEXT for storage.
// Go's json.Marshal sorts map keys, so equal payloads always store
// byte-identically (stable golden transcripts).
func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload decodes a stored payload column.
func unmarshalPayload(text string) (map[string]any, error) {
	if text == "" {
		return map[string]any{}, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, nil
}

// formatTime renders a timestamp column value.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime reads a timestamp column value.
func parseTime(text string) (time.Time, error) {
	t, err := time.Parse(timeFormat, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", text, err)
	}
	return t, nil
}

// nullableTime renders an optional timestamp column.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseNullableTime reads an optional timestamp column.
func parseNullableTime(text *string) (*time.Time, error) {
	if text == nil || *text == "" {
		return nil, nil
	}
	t, err := parseTime(*text)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

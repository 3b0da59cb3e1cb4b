// Package state implements the per-session key/value store.
//
// A session's state is an insertion-ordered mapping from string keys to
// JSON-representable values. Hooks never touch the committed map
// directly: writes accumulate in a Delta and the orchestrator applies
// the whole Delta only after the hook call succeeds, so partial updates
// are never observable.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Map is an insertion-ordered key→value mapping.
//
// Keys keep the order of first insertion; overwriting a key keeps its
// original position. Values are JSON-representable: bool, float64,
// string, []any, map[string]any. Nested maps have no defined order
// (they originate from Lua tables, which are unordered).
//
// Map is not safe for concurrent use. The orchestrator's per-session
// single-writer loop is the only mutator.
type Map struct {
	keys []string
	vals map[string]any
}

// New creates an empty state map.
func New() *Map {
	return &Map{vals: make(map[string]any)}
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order. The slice is a copy.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// set stores a value, recording insertion order for new keys.
func (m *Map) set(key string, val any) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

// Snapshot returns a deep copy of the map. Mutating the copy (or
// values reachable from it) never affects the original.
func (m *Map) Snapshot() *Map {
	out := &Map{
		keys: make([]string, len(m.keys)),
		vals: make(map[string]any, len(m.vals)),
	}
	copy(out.keys, m.keys)
	for k, v := range m.vals {
		out.vals[k] = deepCopy(v)
	}
	return out
}

// ToDict returns the state as a plain map plus its key order.
// Used to hand a read-only view across the sandbox boundary.
func (m *Map) ToDict() map[string]any {
	out := make(map[string]any, len(m.vals))
	for k, v := range m.vals {
		out[k] = deepCopy(v)
	}
	return out
}

// MarshalJSON encodes the map as a JSON object with keys in insertion
// order. Nested objects use encoding/json's sorted-key order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal state key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.vals[k])
		if err != nil {
			return nil, fmt.Errorf("marshal state value for %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FromJSON decodes a JSON object into a Map, preserving the document's
// key order as the insertion order.
func FromJSON(data []byte) (*Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode state: expected object, got %v", tok)
	}

	m := New()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode state key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode state: non-string key %v", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("decode state value for %q: %w", key, err)
		}
		m.set(key, val)
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	return m, nil
}

// deepCopy clones a JSON-representable value.
func deepCopy(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = deepCopy(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = deepCopy(elem)
		}
		return out
	default:
		// Scalars (bool, float64, string, nil) are immutable.
		return val
	}
}

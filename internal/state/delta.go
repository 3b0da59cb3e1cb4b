package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxValueBytes bounds the JSON-encoded size of a single state value.
// Oversized values are rejected at write time, before anything is
// buffered, so a runaway script cannot bloat the session row.
const MaxValueBytes = 64 * 1024

// Op is a single pending write.
type Op struct {
	Key   string
	Value any
}

// Delta is the ordered batch of writes produced by one hook
// invocation. It is applied to the committed Map only after the hook
// returns without error; on any failure the whole Delta is discarded.
type Delta struct {
	ops []Op
}

// Set appends a write. Later writes to the same key win.
func (d *Delta) Set(key string, val any) {
	d.ops = append(d.ops, Op{Key: key, Value: val})
}

// Get returns the pending value for key, honoring last-write-wins.
// Used for read-your-writes visibility inside a single hook call.
func (d *Delta) Get(key string) (any, bool) {
	for i := len(d.ops) - 1; i >= 0; i-- {
		if d.ops[i].Key == key {
			return d.ops[i].Value, true
		}
	}
	return nil, false
}

// Len returns the number of buffered writes.
func (d *Delta) Len() int {
	return len(d.ops)
}

// Ops returns the buffered writes in order. The slice is a copy.
func (d *Delta) Ops() []Op {
	out := make([]Op, len(d.ops))
	copy(out, d.ops)
	return out
}

// Apply validates every op, then applies them all in order. If any op
// fails validation no key is touched, preserving all-or-nothing
// semantics even for a Delta assembled outside the sandbox.
func (m *Map) Apply(d *Delta) error {
	if d == nil {
		return nil
	}
	for _, op := range d.ops {
		if err := ValidateValue(op.Value); err != nil {
			return fmt.Errorf("state key %q: %w", op.Key, err)
		}
	}
	for _, op := range d.ops {
		m.set(op.Key, deepCopy(op.Value))
	}
	return nil
}

// ValidateValue checks that a value is JSON-representable, nil-free,
// and within the per-value size bound. nil is rejected rather than
// stored: a present-but-nil key would shadow the default argument of
// every later read.
func ValidateValue(v any) error {
	if err := checkNoNil(v); err != nil {
		return err
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("value is not JSON-representable: %w", err)
	}
	if len(encoded) > MaxValueBytes {
		return fmt.Errorf("value is %d bytes encoded, limit is %d", len(encoded), MaxValueBytes)
	}
	return nil
}

func checkNoNil(v any) error {
	switch val := v.(type) {
	case nil:
		return errors.New("nil is not storable")
	case []any:
		for i, item := range val {
			if err := checkNoNil(item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case map[string]any:
		for k, item := range val {
			if err := checkNoNil(item); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
	}
	return nil
}

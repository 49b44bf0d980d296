package settings

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"time"
)

// snapshot is an immutable view of the settings table.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

var current atomic.Pointer[snapshot]

func init() {
	current.Store(&snapshot{values: map[string]json.RawMessage{}})
}

// replace swaps in a new snapshot built from values. Blank keys are dropped.
func replace(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		if k == "" {
			continue
		}
		next[k] = bytes.Clone(v)
	}
	current.Store(&snapshot{updatedAt: updatedAt.UTC(), values: next})
}

// UpdatedAt returns the newest updated_at seen by the last refresh.
func UpdatedAt() time.Time {
	return current.Load().updatedAt
}

// Value returns a copy of the raw value stored for key.
func Value(key string) (json.RawMessage, bool) {
	v, ok := current.Load().values[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

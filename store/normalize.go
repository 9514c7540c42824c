package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Normalize converts an arbitrary Go value into the JSON data model used by
// stores: objects become map[string]any, numbers float64, arrays objects
// keyed by index. Nil leaves and empty objects are pruned; an entirely empty
// value normalizes to nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch value.(type) {
	case string, bool, float64:
		return value, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			p := prune(c)
			if p == nil {
				delete(t, k)
				continue
			}
			t[k] = p
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		m := make(map[string]any, len(t))
		for i, c := range t {
			if p := prune(c); p != nil {
				m[strconv.Itoa(i)] = p
			}
		}
		if len(m) == 0 {
			return nil
		}
		return m
	default:
		return v
	}
}

// IsObject reports whether v is an object in the JSON data model.
func IsObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// Equal reports whether two normalized values are structurally equal.
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, c := range m {
		out[k] = Clone(c)
	}
	return out
}

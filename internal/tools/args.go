package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// Args is a decoded tool-argument object.
type Args map[string]any

// ParseArgs decodes JSON argument text. Empty input yields an empty map.
// Anything that is not a JSON object is an error.
func ParseArgs(raw string) (Args, error) {
	if raw == "" {
		return Args{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid arguments: expected object, got %s", jsonKind(v))
	}
	return Args(obj), nil
}

// String returns the string value of key, or def when absent or mistyped.
func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

// Float returns the numeric value of key, or def.
func (a Args) Float(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int returns the integer value of key, or def.
func (a Args) Int(key string, def int) int {
	f := a.Float(key, math.NaN())
	if math.IsNaN(f) {
		return def
	}
	return int(f)
}

// Bool returns the boolean value of key, or def.
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

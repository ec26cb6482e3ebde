// Package values coerces loosely typed map values coming from storage rows,
// cached JSON documents, and request bodies.
package values

import (
	"fmt"
	"strconv"
	"strings"

	"cragcoach/internal/shared/json"
)

// Float returns v as a float64. Numeric strings are parsed; anything else yields ok=false.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case jsonx.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FloatOr returns Float(v) or fallback.
func FloatOr(v any, fallback float64) float64 {
	if f, ok := Float(v); ok {
		return f
	}
	return fallback
}

// String returns v as a trimmed string. nil yields "".
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case []byte:
		return strings.TrimSpace(string(s))
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// Map returns v as map[string]any, or nil when it is not a map.
// JSON object text is decoded.
func Map(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case string:
		return decodeMap([]byte(m))
	case []byte:
		return decodeMap(m)
	default:
		return nil
	}
}

func decodeMap(data []byte) map[string]any {
	var out map[string]any
	if err := jsonx.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// Strings returns v as a list of non-empty strings. Accepts []string, []any,
// JSON array text, and comma separated text.
func Strings(v any) []string {
	var out []string
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		for _, item := range s {
			if t := strings.TrimSpace(item); t != "" {
				out = append(out, t)
			}
		}
	case []any:
		for _, item := range s {
			if t := String(item); t != "" {
				out = append(out, t)
			}
		}
	case string:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var decoded []any
			if err := jsonx.Unmarshal([]byte(trimmed), &decoded); err == nil {
				return Strings(decoded)
			}
		}
		return Strings(strings.Split(trimmed, ","))
	default:
		if t := String(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Slice returns v as []any. Typed map slices are widened; JSON array text is decoded.
func Slice(v any) []any {
	switch s := v.(type) {
	case nil:
		return nil
	case []any:
		return s
	case []map[string]any:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out
	case string:
		var decoded []any
		if err := jsonx.Unmarshal([]byte(s), &decoded); err != nil {
			return nil
		}
		return decoded
	default:
		return nil
	}
}

// Maps returns the map entries of Slice(v), skipping non-map items.
func Maps(v any) []map[string]any {
	items := Slice(v)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m := Map(item); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Int returns v truncated to int, or fallback when it is not numeric.
func Int(v any, fallback int) int {
	if f, ok := Float(v); ok {
		return int(f)
	}
	return fallback
}

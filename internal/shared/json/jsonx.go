package jsonx

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Thin wrapper so hot paths can swap JSON implementations in one place.
// Map keys are emitted in sorted order, which keeps cached payloads byte-stable.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
	Valid         = json.Valid
)

type RawMessage = json.RawMessage
type Number = json.Number

// Sanitize walks a generic value tree and replaces anything the encoder cannot
// represent natively with its string form. Times become RFC3339 strings.
func Sanitize(v any) any {
	switch typed := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return typed
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case *time.Time:
		if typed == nil {
			return nil
		}
		return typed.UTC().Format(time.RFC3339)
	case time.Duration:
		return typed.String()
	case error:
		return typed.Error()
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = Sanitize(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = Sanitize(value)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = Sanitize(value)
		}
		return out
	case []string:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = value
		}
		return out
	case json.Marshaler:
		if _, err := typed.MarshalJSON(); err == nil {
			return typed
		}
		return fmt.Sprint(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		if _, err := json.Marshal(typed); err == nil {
			return typed
		}
		return fmt.Sprint(typed)
	}
}

// MarshalString encodes v after sanitizing it and returns the JSON text.
func MarshalString(v any) (string, error) {
	data, err := json.Marshal(Sanitize(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

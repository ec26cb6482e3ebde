package jsonx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalStringSortsKeysAndStringifiesTimes(t *testing.T) {
	ts := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	out, err := MarshalString(map[string]any{
		"b":    1,
		"a":    ts,
		"err":  errors.New("boom"),
		"list": []any{ts, "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"2024-01-05T10:00:00Z","b":1,"err":"boom","list":["2024-01-05T10:00:00Z","x"]}`, out)
}

func TestSanitizeFallsBackToStringForUnencodableValues(t *testing.T) {
	ch := make(chan int)
	got := Sanitize(map[string]any{"ch": ch})
	m, ok := got.(map[string]any)
	require.True(t, ok)
	_, isString := m["ch"].(string)
	assert.True(t, isString)
}

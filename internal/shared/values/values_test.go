package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	f, ok := Float(int64(5))
	assert.True(t, ok)
	assert.Equal(t, 5.0, f)

	f, ok = Float(" 3.5 ")
	assert.True(t, ok)
	assert.Equal(t, 3.5, f)

	_, ok = Float("V5")
	assert.False(t, ok)
	assert.Equal(t, 2.0, FloatOr(nil, 2))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, []string{"boulder", "sport"}, Strings([]any{"boulder", " sport ", ""}))
	assert.Equal(t, []string{"boulder", "trad"}, Strings(`["boulder","trad"]`))
	assert.Equal(t, []string{"boulder", "trad"}, Strings("boulder, trad"))
	assert.Nil(t, Strings(""))
	assert.Nil(t, Strings(nil))
}

func TestMapAndSlice(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, Map(`{"a":1}`))
	assert.Nil(t, Map("not json"))
	assert.Nil(t, Map(42))

	rows := []map[string]any{{"route_name": "Midnight Lightning"}}
	assert.Len(t, Slice(rows), 1)
	assert.Equal(t, rows, Maps(rows))
	assert.Len(t, Maps([]any{map[string]any{}, "skip"}), 1)
	assert.Equal(t, 7, Int(7.9, 0))
	assert.Equal(t, -1, Int("x", -1))
}

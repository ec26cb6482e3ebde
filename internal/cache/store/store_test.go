package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mem, err := NewMemory(128)
	require.NoError(t, err)
	bdg, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mem.Close()
		_ = bdg.Close()
	})
	return map[string]Store{"memory": mem, "badger": bdg}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "climbing_context:1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetEx(ctx, "climbing_context:1", `{"a":1}`, time.Hour))
			require.NoError(t, s.SetEx(ctx, "climbing_context:1:conv-a", "x", time.Hour))
			require.NoError(t, s.SetEx(ctx, "climbing_context:12", "y", time.Hour))

			value, ok, err := s.Get(ctx, "climbing_context:1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"a":1}`, value)

			keys, err := s.Keys(ctx, "climbing_context:1:*")
			require.NoError(t, err)
			assert.Equal(t, []string{"climbing_context:1:conv-a"}, keys)

			keys, err = s.Keys(ctx, "climbing_context:*")
			require.NoError(t, err)
			assert.Len(t, keys, 3)

			exists, err := s.Exists(ctx, "climbing_context:12")
			require.NoError(t, err)
			assert.True(t, exists)

			ok, err = s.Expire(ctx, "climbing_context:12", 2*time.Hour)
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = s.Expire(ctx, "missing", time.Hour)
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := s.Delete(ctx, "climbing_context:1", "climbing_context:1:conv-a", "missing")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			_, ok, err = s.Get(ctx, "climbing_context:1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryExpiresLazily(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemory(8)
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return now }

	require.NoError(t, mem.SetEx(ctx, "k", "v", time.Minute))
	now = now.Add(30 * time.Second)
	ok, err := mem.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(45 * time.Second)
	_, ok, _ = mem.Get(ctx, "k")
	assert.True(t, ok, "refreshed ttl should keep the key alive")

	now = now.Add(time.Minute)
	_, ok, _ = mem.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, mem.Len())
}

func TestMatch(t *testing.T) {
	assert.True(t, Match("climbing_context:7:*", "climbing_context:7:conv-1"))
	assert.False(t, Match("climbing_context:7:*", "climbing_context:70"))
	assert.True(t, Match("climbing_context:?", "climbing_context:7"))
	assert.True(t, Match("climbing_context:7:*", "climbing_context:7:team/a"))
	assert.True(t, Match("climbing_context:7:team?a", "climbing_context:7:team/a"))
	assert.False(t, Match("[ab]", "x"))
	assert.Equal(t, "climbing_context:7:", literalPrefix("climbing_context:7:*"))
	assert.Equal(t, "exact", literalPrefix("exact"))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "memcached"})
	require.Error(t, err)

	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &Guarded{}, s)
	require.NoError(t, s.Close())
}

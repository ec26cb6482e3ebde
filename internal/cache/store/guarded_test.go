package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "cragcoach/internal/errors"
)

type failingStore struct {
	*Memory
	calls int
}

func (f *failingStore) Get(context.Context, string) (string, bool, error) {
	f.calls++
	return "", false, errors.New("connection reset")
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	mem, err := NewMemory(4)
	require.NoError(t, err)
	inner := &failingStore{Memory: mem}
	breaker := cerrors.NewCircuitBreaker("test", cerrors.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})
	g := NewGuarded(inner, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := g.Get(ctx, "k")
		require.Error(t, err)
	}
	assert.Equal(t, cerrors.StateOpen, g.Breaker().State())

	_, _, err = g.Get(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cerrors.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the backend")
}

func TestGuardedIgnoresCancellation(t *testing.T) {
	mem, err := NewMemory(4)
	require.NoError(t, err)
	g := NewGuarded(mem, cerrors.NewCircuitBreaker("test", cerrors.CircuitBreakerConfig{FailureThreshold: 1}))
	g.mark(context.Canceled)
	assert.Equal(t, cerrors.StateClosed, g.Breaker().State())
}

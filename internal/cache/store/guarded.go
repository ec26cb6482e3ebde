package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	cerrors "cragcoach/internal/errors"
)

// Guarded wraps a Store with a circuit breaker so a failing backend is
// skipped quickly instead of stalling every request.
type Guarded struct {
	inner   Store
	breaker *cerrors.CircuitBreaker
}

// NewGuarded decorates inner with breaker.
func NewGuarded(inner Store, breaker *cerrors.CircuitBreaker) *Guarded {
	if breaker == nil {
		breaker = cerrors.NewCircuitBreaker("cache-store", cerrors.DefaultCircuitBreakerConfig())
	}
	return &Guarded{inner: inner, breaker: breaker}
}

// Breaker exposes the underlying breaker for health reporting.
func (g *Guarded) Breaker() *cerrors.CircuitBreaker {
	return g.breaker
}

func (g *Guarded) allow() error {
	if err := g.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %w", cerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// mark records err against the breaker. Caller cancellation is not a backend fault.
func (g *Guarded) mark(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	g.breaker.Mark(err)
}

func (g *Guarded) Get(ctx context.Context, key string) (string, bool, error) {
	if err := g.allow(); err != nil {
		return "", false, err
	}
	value, ok, err := g.inner.Get(ctx, key)
	g.mark(err)
	return value, ok, err
}

func (g *Guarded) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := g.allow(); err != nil {
		return err
	}
	err := g.inner.SetEx(ctx, key, value, ttl)
	g.mark(err)
	return err
}

func (g *Guarded) Delete(ctx context.Context, keys ...string) (int, error) {
	if err := g.allow(); err != nil {
		return 0, err
	}
	n, err := g.inner.Delete(ctx, keys...)
	g.mark(err)
	return n, err
}

func (g *Guarded) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := g.allow(); err != nil {
		return nil, err
	}
	keys, err := g.inner.Keys(ctx, pattern)
	g.mark(err)
	return keys, err
}

func (g *Guarded) Exists(ctx context.Context, key string) (bool, error) {
	if err := g.allow(); err != nil {
		return false, err
	}
	ok, err := g.inner.Exists(ctx, key)
	g.mark(err)
	return ok, err
}

func (g *Guarded) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := g.allow(); err != nil {
		return false, err
	}
	ok, err := g.inner.Expire(ctx, key, ttl)
	g.mark(err)
	return ok, err
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}

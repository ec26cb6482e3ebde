// Package store provides the key-value backends behind the context cache.
//
// Every backend stores opaque string values with a per-key TTL and supports
// glob-style key listing (`*` and `?`), which the cache manager uses for
// user-wide invalidation.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/danwakefield/fnmatch"
)

// Store is a TTL-aware key-value store.
type Store interface {
	// Get returns the value for key. A missing or expired key is ("", false, nil).
	Get(ctx context.Context, key string) (string, bool, error)
	// SetEx stores value under key for ttl. ttl <= 0 stores without expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys lists live keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Exists reports whether key is live.
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the TTL of an existing key. It reports false if the key is absent.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Close() error
}

// Match reports whether key matches the glob pattern with Redis KEYS
// semantics: `*` and `?` also match `/`.
func Match(pattern, key string) bool {
	return fnmatch.Match(pattern, key, 0)
}

// literalPrefix returns the part of pattern before the first wildcard.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Package contextcache caches formatted climbing context documents per user
// and conversation.
//
// The cache is an optimization: every operation is best-effort. Store and
// decoding failures are logged and reported as a miss or as false, never as
// an error, so callers can always fall back to regenerating context.
package contextcache

import (
	"context"
	"time"

	"cragcoach/internal/async"
	"cragcoach/internal/cache/store"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	jsonx "cragcoach/internal/shared/json"
)

const (
	// DefaultPrefix namespaces context entries in a shared store.
	DefaultPrefix = "climbing_context:"
	// DefaultTTL is the lifetime of a cached document.
	DefaultTTL = time.Hour
)

// Document is a cached context document in its JSON value form.
type Document = map[string]any

// Generator produces a fresh document on a cache miss.
type Generator func(ctx context.Context) (Document, error)

// Config controls key layout and expiry.
type Config struct {
	Prefix string
	TTL    time.Duration
	// RefreshOnRead extends the TTL of an entry every time it is served.
	RefreshOnRead bool
}

// Manager reads and writes context documents through a Store.
type Manager struct {
	store   store.Store
	prefix  string
	ttl     time.Duration
	touch   bool
	logger  logging.Logger
	metrics *observability.MetricsCollector
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(logger) }
}

// WithMetrics records hit/miss/error counts on collector.
func WithMetrics(collector *observability.MetricsCollector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// NewManager creates a Manager over s. Zero config values use the defaults.
func NewManager(s store.Store, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		touch:  cfg.RefreshOnRead,
		logger: logging.NewComponentLogger("context-cache"),
	}
	if m.prefix == "" {
		m.prefix = DefaultPrefix
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the entry lifetime applied on writes.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// BuildKey returns the store key for a user, or for one of the user's
// conversations when conversationID is non-empty.
func (m *Manager) BuildKey(userID, conversationID string) string {
	if conversationID == "" {
		return m.prefix + userID
	}
	return m.prefix + userID + ":" + conversationID
}

// Get returns the cached document. A missing, expired or unreadable entry is a miss.
func (m *Manager) Get(ctx context.Context, userID, conversationID string) (Document, bool) {
	key := m.BuildKey(userID, conversationID)
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("Cache read failed for user %s (key %s): %v", userID, key, err)
		m.metrics.RecordCacheLookup(ctx, "error")
		return nil, false
	}
	if !ok {
		m.metrics.RecordCacheLookup(ctx, "miss")
		return nil, false
	}
	var doc Document
	if err := jsonx.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
		m.logger.Warn("Discarding undecodable cache entry for user %s (key %s): %v", userID, key, err)
		m.metrics.RecordCacheLookup(ctx, "error")
		return nil, false
	}
	m.metrics.RecordCacheLookup(ctx, "hit")
	if m.touch {
		if _, err := m.store.Expire(ctx, key, m.ttl); err != nil {
			m.logger.Debug("TTL refresh on read failed for %s: %v", key, err)
		}
	}
	return doc, true
}

// Set writes doc with the configured TTL. It reports whether the write succeeded.
func (m *Manager) Set(ctx context.Context, userID string, doc Document, conversationID string) bool {
	key := m.BuildKey(userID, conversationID)
	payload, err := jsonx.Marshal(jsonx.Sanitize(doc))
	if err != nil {
		m.logger.Error("Failed to encode context for user %s: %v", userID, err)
		return false
	}
	if err := m.store.SetEx(ctx, key, string(payload), m.ttl); err != nil {
		m.logger.Warn("Cache write failed for user %s (key %s): %v", userID, key, err)
		return false
	}
	return true
}

// Invalidate removes cached context. With a conversation id only that entry
// is deleted. Without one, every entry of the user is deleted: the user key
// plus a pattern scan over the user's conversation keys, which costs
// O(matching keys) against the store.
func (m *Manager) Invalidate(ctx context.Context, userID, conversationID string) bool {
	userKey := m.BuildKey(userID, conversationID)
	keys := []string{userKey}
	if conversationID == "" {
		scoped, err := m.store.Keys(ctx, userKey+":*")
		if err != nil {
			m.logger.Warn("Cache key scan failed for user %s: %v", userID, err)
			return false
		}
		keys = append(keys, scoped...)
	}
	removed, err := m.store.Delete(ctx, keys...)
	if err != nil {
		m.logger.Warn("Cache invalidation failed for user %s: %v", userID, err)
		return false
	}
	m.logger.Debug("Invalidated %d cache entries for user %s", removed, userID)
	return true
}

// RefreshTTL resets the TTL of an existing entry. It returns false when the entry is absent.
func (m *Manager) RefreshTTL(ctx context.Context, userID, conversationID string) bool {
	key := m.BuildKey(userID, conversationID)
	ok, err := m.store.Expire(ctx, key, m.ttl)
	if err != nil {
		m.logger.Warn("TTL refresh failed for user %s (key %s): %v", userID, key, err)
		return false
	}
	return ok
}

// GetOrPopulate serves the cached document or calls generate exactly once on
// a miss. A non-empty generated document is cached and returned. Generator
// errors and panics are logged and reported as absent.
func (m *Manager) GetOrPopulate(ctx context.Context, userID, conversationID string, generate Generator) (Document, bool) {
	if doc, ok := m.Get(ctx, userID, conversationID); ok {
		return doc, true
	}
	if generate == nil {
		return nil, false
	}
	var doc Document
	err := async.Safe(m.logger, "context-generator", func() error {
		var genErr error
		doc, genErr = generate(ctx)
		return genErr
	})
	if err != nil {
		m.logger.Error("Context generation failed for user %s: %v", userID, err)
		return nil, false
	}
	if len(doc) == 0 {
		return nil, false
	}
	m.Set(ctx, userID, doc, conversationID)
	return doc, true
}

// Update writes data for the user. With merge it is deep-merged over the
// current entry (data wins on conflicts); without merge it is a plain Set.
func (m *Manager) Update(ctx context.Context, userID string, data Document, conversationID string, merge bool) bool {
	if merge {
		if existing, ok := m.Get(ctx, userID, conversationID); ok {
			data = DeepMerge(existing, data)
		}
	}
	return m.Set(ctx, userID, data, conversationID)
}

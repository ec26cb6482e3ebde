package store

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryMaxEntries = 10_000

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store backed by a bounded LRU. Expired entries are
// evicted lazily on access.
type Memory struct {
	mu    sync.Mutex
	cache *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

// NewMemory creates an in-process store holding at most maxEntries keys.
func NewMemory(maxEntries int) (*Memory, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMemoryMaxEntries
	}
	cache, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Memory{cache: cache, now: time.Now}, nil
}

func (m *Memory) lookup(key string) (memoryEntry, bool) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(m.now()) {
		m.cache.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	return entry.value, ok, nil
}

func (m *Memory) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.cache.Add(key, entry)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, key := range keys {
		if _, ok := m.lookup(key); ok {
			m.cache.Remove(key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, key := range m.cache.Keys() {
		if !Match(pattern, key) {
			continue
		}
		if _, ok := m.lookup(key); ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.lookup(key)
	if !ok {
		return false, nil
	}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	m.cache.Add(key, entry)
	return true, nil
}

// Len returns the number of entries, including ones not yet lazily expired.
func (m *Memory) Len() int {
	return m.cache.Len()
}

func (m *Memory) Close() error {
	m.cache.Purge()
	return nil
}

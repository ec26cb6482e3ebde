package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"cragcoach/internal/async"
	"cragcoach/internal/logging"
)

// BadgerConfig configures the embedded on-disk store.
type BadgerConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	InMemory       bool          `mapstructure:"in_memory" yaml:"in_memory"`
	SyncWrites     bool          `mapstructure:"sync_writes" yaml:"sync_writes"`
	GCInterval     time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
	GCDiscardRatio float64       `mapstructure:"gc_discard_ratio" yaml:"gc_discard_ratio"`
}

// badgerLogger adapts the printf logger to badger's logging interface.
type badgerLogger struct {
	logger logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(format, args...) }

// Badger is a Store on an embedded BadgerDB. Expiry uses badger's native
// per-entry TTL.
type Badger struct {
	db     *badger.DB
	logger logging.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

// OpenBadger opens (or creates) a Badger store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger store: path is required for persistent database")
	}
	logger := logging.NewComponentLogger("cache-badger")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	b := &Badger{db: db, logger: logger}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		b.stopGC = make(chan struct{})
		b.gcDone = make(chan struct{})
		async.Go(logger, "badger-gc", func() { b.runGC(cfg.GCInterval, ratio) })
	}
	return b, nil
}

func (b *Badger) runGC(interval time.Duration, ratio float64) {
	defer close(b.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			if err := b.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC failed: %v", err)
			}
		}
	}
}

func (b *Badger) Get(_ context.Context, key string) (string, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger get %s: %w", key, err)
	}
	return string(value), true, nil
}

func (b *Badger) SetEx(_ context.Context, key, value string, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Delete(_ context.Context, keys ...string) (int, error) {
	removed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if _, err := txn.Get([]byte(key)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue
				}
				return err
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger delete: %w", err)
	}
	return removed, nil
}

func (b *Badger) Keys(_ context.Context, pattern string) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(literalPrefix(pattern))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if item.IsDeletedOrExpired() {
				continue
			}
			key := string(item.KeyCopy(nil))
			if Match(pattern, key) {
				out = append(out, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger keys %s: %w", pattern, err)
	}
	sort.Strings(out)
	return out, nil
}

func (b *Badger) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *Badger) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	found := false
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		found = true
		return txn.SetEntry(entry)
	})
	if err != nil {
		return false, fmt.Errorf("badger expire %s: %w", key, err)
	}
	return found, nil
}

func (b *Badger) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.gcDone
	}
	return b.db.Close()
}

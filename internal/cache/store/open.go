package store

import (
	"context"
	"fmt"
	"strings"

	cerrors "cragcoach/internal/errors"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend          string       `mapstructure:"backend" yaml:"backend"`
	MaxEntries       int          `mapstructure:"max_entries" yaml:"max_entries"`
	Badger           BadgerConfig `mapstructure:"badger" yaml:"badger"`
	Redis            RedisConfig  `mapstructure:"redis" yaml:"redis"`
	FailureThreshold int          `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

// Open builds the configured backend wrapped in a circuit breaker.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		inner Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		inner, err = NewMemory(cfg.MaxEntries)
	case BackendBadger:
		inner, err = OpenBadger(cfg.Badger)
	case BackendRedis:
		inner, err = NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	breakerCfg := cerrors.DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.FailureThreshold
	}
	return NewGuarded(inner, cerrors.NewCircuitBreaker("cache-store", breakerCfg)), nil
}

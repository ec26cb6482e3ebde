// Package config loads cragcoach configuration from defaults, an optional
// YAML file and CRAGCOACH_* environment variables.
package config

import (
	"time"

	"cragcoach/internal/cache/store"
	"cragcoach/internal/observability"
)

const (
	EnvPrefix  = "CRAGCOACH"
	ConfigName = "cragcoach"
)

// Config is the complete process configuration.
type Config struct {
	Server        ServerConfig         `mapstructure:"server" yaml:"server"`
	Cache         CacheConfig          `mapstructure:"cache" yaml:"cache"`
	Database      DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Context       ContextConfig        `mapstructure:"context" yaml:"context"`
	Events        EventsConfig         `mapstructure:"events" yaml:"events"`
	Chat          ChatConfig           `mapstructure:"chat" yaml:"chat"`
	LLM           LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Scheduler     SchedulerConfig      `mapstructure:"scheduler" yaml:"scheduler"`
	Observability observability.Config `mapstructure:"observability" yaml:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
}

// CacheConfig configures the context cache and its backing store.
type CacheConfig struct {
	store.Config `mapstructure:",squash" yaml:",inline"`

	Prefix        string        `mapstructure:"prefix" yaml:"prefix" validate:"required"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
	RefreshOnRead bool          `mapstructure:"refresh_on_read" yaml:"refresh_on_read"`
}

// DatabaseConfig selects the climbing data repository.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required"`
}

// ContextConfig tunes aggregation and refresh.
type ContextConfig struct {
	ActivityWindowDays int `mapstructure:"activity_window_days" yaml:"activity_window_days" validate:"gt=0"`
	ChatHistoryLimit   int `mapstructure:"chat_history_limit" yaml:"chat_history_limit" validate:"gte=0"`
	BulkBatchSize      int `mapstructure:"bulk_batch_size" yaml:"bulk_batch_size" validate:"gt=0"`
}

// EventsConfig tunes the SSE event manager.
type EventsConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval" validate:"gt=0"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" validate:"gt=0"`
	CancelWait        time.Duration `mapstructure:"cancel_wait" yaml:"cancel_wait" validate:"gt=0"`
}

// ChatConfig configures per-user chat quotas. A zero QuotaPerMinute
// disables the quota.
type ChatConfig struct {
	QuotaPerMinute int `mapstructure:"quota_per_minute" yaml:"quota_per_minute" validate:"gte=0"`
	QuotaBurst     int `mapstructure:"quota_burst" yaml:"quota_burst" validate:"gte=0"`
}

// LLMConfig configures the model client. Provider "echo" answers offline.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider" validate:"oneof=openai echo"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Model      string        `mapstructure:"model" yaml:"model" validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// SchedulerConfig configures the periodic bulk refresh.
type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Spec              string        `mapstructure:"spec" yaml:"spec" validate:"required_if=Enabled true"`
	ActiveWindow      time.Duration `mapstructure:"active_window" yaml:"active_window" validate:"gte=0"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout" validate:"gte=0"`
	ConcurrencyPolicy string        `mapstructure:"concurrency_policy" yaml:"concurrency_policy" validate:"omitempty,oneof=skip delay"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    30 * time.Second,
			MaxUploadBytes: 5 << 20,
		},
		Cache: CacheConfig{
			Config: store.Config{
				Backend:    store.BackendMemory,
				MaxEntries: 10_000,
				Badger: store.BadgerConfig{
					Path:           "data/cache",
					GCInterval:     10 * time.Minute,
					GCDiscardRatio: 0.5,
				},
				Redis: store.RedisConfig{
					Addr:         "localhost:6379",
					DialTimeout:  5 * time.Second,
					ScanPageSize: 100,
				},
				FailureThreshold: 5,
			},
			Prefix: "climbing_context:",
			TTL:    time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "cragcoach.db",
		},
		Context: ContextConfig{
			ActivityWindowDays: 30,
			ChatHistoryLimit:   10,
			BulkBatchSize:      50,
		},
		Events: EventsConfig{
			HeartbeatInterval: 15 * time.Second,
			CleanupInterval:   30 * time.Second,
			CancelWait:        time.Second,
		},
		Chat: ChatConfig{
			QuotaPerMinute: 20,
			QuotaBurst:     5,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxRetries: 3,
			Timeout:    2 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Spec:              "*/30 * * * *",
			ActiveWindow:      7 * 24 * time.Hour,
			RunTimeout:        10 * time.Minute,
			ConcurrencyPolicy: "skip",
		},
		Observability: observability.DefaultConfig(),
	}
}

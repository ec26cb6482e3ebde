package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	cerrors "cragcoach/internal/errors"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cragcoach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, meta, err := Load(WithSearchPaths(t.TempDir()))
	require.NoError(t, err)

	assert.Empty(t, meta.File)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "climbing_context:", cfg.Cache.Prefix)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Second, cfg.Events.HeartbeatInterval)
	assert.Equal(t, 50, cfg.Context.BulkBatchSize)
}

func TestLoadFileThenEnvThenOverrides(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9090"
cache:
  backend: redis
  ttl: 10m
  redis:
    addr: cache:6379
context:
  bulk_batch_size: 20
llm:
  provider: echo
`)
	t.Setenv("CRAGCOACH_CONTEXT_BULK_BATCH_SIZE", "25")
	t.Setenv("CRAGCOACH_EVENTS_HEARTBEAT_INTERVAL", "5s")

	cfg, meta, err := Load(WithFile(path), WithOverrides(map[string]any{"server.addr": ":7070"}))
	require.NoError(t, err)

	assert.Equal(t, path, meta.File)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 25, cfg.Context.BulkBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Events.HeartbeatInterval)
	assert.Equal(t, "echo", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.Events.CleanupInterval)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, `
cache:
  backend: memcached
  ttl: 0s
context:
  bulk_batch_size: 0
`)
	_, _, err := Load(WithFile(path))
	require.Error(t, err)
	assert.True(t, cerrors.IsKind(err, cerrors.KindValidation))

	msg := cerrors.UserMessage(err)
	assert.Contains(t, msg, "cache.ttl must be greater than 0")
	assert.Contains(t, msg, "context.bulk_batch_size must be greater than 0")
	assert.Contains(t, msg, `cache.backend must be one of memory, badger, redis (got "memcached")`)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"negative heartbeat", func(c *Config) { c.Events.HeartbeatInterval = -time.Second }, "events.heartbeat_interval"},
		{"badger without path", func(c *Config) { c.Cache.Backend = "badger"; c.Cache.Badger.Path = "" }, "cache.badger.path"},
		{"badger in memory", func(c *Config) { c.Cache.Backend = "badger"; c.Cache.Badger.Path = ""; c.Cache.Badger.InMemory = true }, ""},
		{"scheduler without spec", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Spec = "" }, "scheduler.spec"},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "loud" }, "observability.logging.level"},
		{"bad llm url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "llm.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var classified *cerrors.Error
			require.ErrorAs(t, err, &classified)
			assert.Contains(t, classified.Fields, tt.field)
		})
	}
}

func TestRenderRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-live-123"
	cfg.Cache.Redis.Password = "hunter2"
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "postgres://coach:secret@db:5432/climb"

	out, err := Render(cfg)
	require.NoError(t, err)
	text := string(out)
	assert.NotContains(t, text, "sk-live-123")
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "secret@")
	assert.Contains(t, text, "postgres://coach:********@db:5432/climb")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	cache := decoded["cache"].(map[string]any)
	assert.Equal(t, "memory", cache["backend"])
	assert.Equal(t, "climbing_context:", cache["prefix"])

	assert.Equal(t, "sk-live-123", cfg.LLM.APIKey)
}

package config

import (
	"net/url"

	"gopkg.in/yaml.v3"
)

const redacted = "********"

// Render encodes cfg as YAML with secrets masked.
func Render(cfg Config) ([]byte, error) {
	return yaml.Marshal(Redact(cfg))
}

// Redact returns a copy of cfg with credentials masked.
func Redact(cfg Config) Config {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = redacted
	}
	if cfg.Cache.Redis.Password != "" {
		cfg.Cache.Redis.Password = redacted
	}
	cfg.Database.DSN = redactDSN(cfg.Database.DSN)
	cfg.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)
	return cfg
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"cragcoach/internal/cache/store"
	cerrors "cragcoach/internal/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports every invalid setting in one validation error.
func Validate(cfg Config) error {
	var problems, fields []string
	add := func(field, msg string) {
		fields = append(fields, field)
		problems = append(problems, field+" "+msg)
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			add(fieldPath(fe.Namespace()), describe(fe))
		}
	}

	switch strings.ToLower(cfg.Cache.Backend) {
	case store.BackendMemory:
		if cfg.Cache.MaxEntries <= 0 {
			add("cache.max_entries", "must be greater than 0")
		}
	case store.BackendBadger:
		if !cfg.Cache.Badger.InMemory && strings.TrimSpace(cfg.Cache.Badger.Path) == "" {
			add("cache.badger.path", "is required")
		}
	case store.BackendRedis:
		if strings.TrimSpace(cfg.Cache.Redis.Addr) == "" {
			add("cache.redis.addr", "is required")
		}
	default:
		add("cache.backend", fmt.Sprintf("must be one of memory, badger, redis (got %q)", cfg.Cache.Backend))
	}

	switch strings.ToLower(cfg.Observability.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("observability.logging.level", "must be one of debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Observability.Logging.Format) {
	case "json", "text":
	default:
		add("observability.logging.format", "must be json or text")
	}
	if tracing := cfg.Observability.Tracing; tracing.Enabled {
		if tracing.Exporter != "otlp" && tracing.Exporter != "zipkin" {
			add("observability.tracing.exporter", "must be otlp or zipkin")
		}
		if tracing.SampleRate < 0 || tracing.SampleRate > 1 {
			add("observability.tracing.sample_rate", "must be between 0 and 1")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return cerrors.Validation("config.validate", "invalid configuration: "+strings.Join(problems, "; "), fields...)
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of %s (got %v)", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag()
	}
}

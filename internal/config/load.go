package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Metadata describes where the loaded configuration came from.
type Metadata struct {
	File string // config file used, empty when none was found
}

type loadOptions struct {
	file        string
	searchPaths []string
	overrides   map[string]any
}

// Option customizes Load.
type Option func(*loadOptions)

// WithFile loads exactly this file; a missing file is an error.
func WithFile(path string) Option {
	return func(o *loadOptions) { o.file = path }
}

// WithSearchPaths replaces the directories searched for cragcoach.yaml.
func WithSearchPaths(paths ...string) Option {
	return func(o *loadOptions) { o.searchPaths = paths }
}

// WithOverrides applies dotted-key values above every other source.
func WithOverrides(values map[string]any) Option {
	return func(o *loadOptions) { o.overrides = values }
}

// Load resolves the configuration. Precedence, lowest first: defaults,
// config file, CRAGCOACH_* environment, overrides. The result is validated.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{searchPaths: []string{".", "$HOME/.cragcoach"}}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	if err := setDefaults(v, Default()); err != nil {
		return Config{}, Metadata{}, err
	}

	v.SetConfigType("yaml")
	if options.file != "" {
		v.SetConfigFile(options.file)
	} else {
		v.SetConfigName(ConfigName)
		for _, p := range options.searchPaths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.file != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range options.overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, Metadata{File: v.ConfigFileUsed()}, nil
}

// setDefaults registers every leaf of defaults so environment variables can
// override keys that no config file mentions.
func setDefaults(v *viper.Viper, defaults Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	flatten("", tree, func(key string, value any) { v.SetDefault(key, value) })
	return nil
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, value := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(key, nested, set)
			continue
		}
		set(key, value)
	}
}

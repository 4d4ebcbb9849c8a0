// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads credgate configuration.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, DATABASE_URL, CREDGATE_* environment variables, then command
// line flags that were explicitly set. Nested keys in environment variables
// are separated by a double underscore, so CREDGATE_DIRECTORY__BIND_DN sets
// directory.bind_dn.
package config

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credgate/internal/auth"
	"github.com/holomush/credgate/internal/directory"
	"github.com/holomush/credgate/internal/store"
)

// EnvPrefix prefixes every credgate environment variable.
const EnvPrefix = "CREDGATE_"

// Config is the full credgate configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Directory DirectoryConfig `koanf:"directory"`
	Auth      AuthConfig      `koanf:"auth"`
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
}

// DatabaseConfig locates the credential database.
type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" jsonschema:"oneof_type=string;integer"`
	ConnectRetries uint64        `koanf:"connect_retries"`
	MaxConns       int32         `koanf:"max_conns"`
}

// PoolOptions converts the database settings for store.Connect.
func (d DatabaseConfig) PoolOptions() store.PoolOptions {
	return store.PoolOptions{
		ConnectTimeout: d.ConnectTimeout,
		Retries:        d.ConnectRetries,
		MaxConns:       d.MaxConns,
	}
}

// DirectoryConfig enables and describes the LDAP directory.
type DirectoryConfig struct {
	Enabled          bool `koanf:"enabled"`
	directory.Config `koanf:",squash"`
}

// AuthConfig tunes credential handling.
type AuthConfig struct {
	// Order lists authenticators by name, tried first to last.
	Order            []string `koanf:"order"`
	EmailDomain      string   `koanf:"email_domain"`
	PBKDF2Iterations int      `koanf:"pbkdf2_iterations"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level"`
}

// ServerConfig holds listen addresses for the serve command.
type ServerConfig struct {
	Addr        string        `koanf:"addr"`
	MetricsAddr string        `koanf:"metrics_addr"`
	ReadTimeout time.Duration `koanf:"read_timeout" jsonschema:"oneof_type=string;integer"`
}

// defaults are loaded before any other source.
var defaults = map[string]any{
	"database.connect_timeout": store.DefaultConnectTimeout.String(),
	"database.connect_retries": store.DefaultConnectRetries,
	"database.max_conns":       0,
	"directory.enabled":        false,
	"directory.use_tls":        false,
	"directory.search_filter":  directory.DefaultSearchFilter,
	"directory.id_attribute":   directory.DefaultIDAttribute,
	"directory.timeout":        directory.DefaultTimeout.String(),
	"auth.order":               []string{auth.SourceLocal, auth.SourceDirectory},
	"auth.email_domain":        auth.DefaultEmailDomain,
	"auth.pbkdf2_iterations":   auth.DefaultPBKDF2Iterations,
	"log.format":               "json",
	"log.level":                "info",
	"server.addr":              "127.0.0.1:8080",
	"server.metrics_addr":      "127.0.0.1:9100",
	"server.read_timeout":      "10s",
}

// flagKeys maps command line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"database-url": "database.url",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"addr":         "server.addr",
	"metrics-addr": "server.metrics_addr",
	"auth-order":   "auth.order",
}

// Load reads configuration from path (skipped when empty), the environment
// and flags (skipped when nil), then validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateFile(data); err != nil {
			return nil, oops.With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		if err := k.Set("database.url", url); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", "database.url").Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey turns CREDGATE_AUTH__ORDER=local,directory into auth.order=[local directory].
func envKey(key, value string) (string, any) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	name = strings.ReplaceAll(name, "__", ".")
	if name == "auth.order" {
		return name, splitList(value)
	}
	return name, value
}

func flagKey(flags *pflag.FlagSet) func(f *pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		if key == "auth.order" {
			return key, splitList(f.Value.String())
		}
		return key, posflag.FlagVal(flags, f)
	}
}

func splitList(s string) []string {
	s = strings.Trim(s, "[]")
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required (or set DATABASE_URL)")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("log.format", c.Log.Format).
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}

	if len(c.Auth.Order) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("auth.order must list at least one authenticator")
	}
	seen := make(map[string]bool, len(c.Auth.Order))
	for _, name := range c.Auth.Order {
		if name != auth.SourceLocal && name != auth.SourceDirectory {
			return oops.Code("CONFIG_INVALID").With("authenticator", name).
				Errorf("auth.order: unknown authenticator %q", name)
		}
		if seen[name] {
			return oops.Code("CONFIG_INVALID").With("authenticator", name).
				Errorf("auth.order: %q listed twice", name)
		}
		seen[name] = true
	}

	if c.Auth.PBKDF2Iterations < auth.DefaultPBKDF2Iterations {
		return oops.Code("CONFIG_INVALID").With("auth.pbkdf2_iterations", c.Auth.PBKDF2Iterations).
			Errorf("auth.pbkdf2_iterations must be at least %d", auth.DefaultPBKDF2Iterations)
	}

	if c.Directory.Enabled {
		if err := c.Directory.Config.WithDefaults().Validate(); err != nil {
			return oops.With("section", "directory").Wrap(err)
		}
	}
	return nil
}

// Authenticators returns the configured order with disabled sources removed.
func (c *Config) Authenticators() []string {
	out := make([]string, 0, len(c.Auth.Order))
	for _, name := range c.Auth.Order {
		if name == auth.SourceDirectory && !c.Directory.Enabled {
			continue
		}
		out = append(out, name)
	}
	return slices.Clip(out)
}

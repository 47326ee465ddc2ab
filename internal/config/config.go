// Package config loads the service configuration.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. built-in defaults
//  2. a TOML file: the explicit path, else ./threads.toml when present
//  3. environment variables prefixed THREADS_ (THREADS_STORE_BACKEND sets
//     store.backend, THREADS_STORE_SQLITE_PATH sets store.sqlite_path)
//  4. explicit overrides, normally the command line flags that were set
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is the config file looked for when none is given.
const DefaultPath = "./threads.toml"

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "THREADS_"

// Backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server struct {
		Addr            string        `koanf:"addr"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"server"`

	Store struct {
		Backend     string `koanf:"backend"`
		SQLitePath  string `koanf:"sqlite_path"`
		BadgerDir   string `koanf:"badger_dir"`
		PostgresDSN string `koanf:"postgres_dsn"`
	} `koanf:"store"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Metrics struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"metrics"`
}

// Defaults returns the built-in configuration values keyed by path.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":3000",
		"server.shutdown_timeout": "10s",
		"store.backend":           BackendSQLite,
		"store.sqlite_path":       "./threads.db",
		"store.badger_dir":        "./threads.badger",
		"store.postgres_dsn":      "",
		"log.level":               "info",
		"metrics.enabled":         true,
	}
}

// Load builds and validates the configuration. An explicit path must
// exist; the default path is skipped when absent. Keys in overrides use
// the dotted form.
func Load(path string, overrides map[string]any) (*Config, error) {
	cfg, err := Resolve(path, overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve layers the sources like Load without validating the result.
func Resolve(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultPath); err == nil {
		if err := k.Load(file.Provider(DefaultPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", DefaultPath, err)
		}
	}

	// Only the first underscore separates section from key, so
	// THREADS_SERVER_SHUTDOWN_TIMEOUT maps to server.shutdown_timeout.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite backend"))
		}
	case BackendBadger:
		if c.Store.BadgerDir == "" {
			errs = append(errs, errors.New("store.badger_dir is required for the badger backend"))
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q (must be memory, sqlite, badger or postgres)", c.Store.Backend))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q (must be debug, info, warn or error)", s)
	}
	return l, nil
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threads.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "./threads.db", cfg.Store.SQLitePath)
	assert.Equal(t, "./threads.badger", cfg.Store.BadgerDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:8080"
shutdown_timeout = "3s"

[store]
backend = "badger"
badger_dir = "/var/lib/threads"

[metrics]
enabled = false
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/threads", cfg.Store.BadgerDir)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[store]
backend = "badger"
`)
	t.Setenv("THREADS_STORE_BACKEND", "memory")
	t.Setenv("THREADS_LOG_LEVEL", "debug")
	t.Setenv("THREADS_SERVER_SHUTDOWN_TIMEOUT", "1m")
	t.Setenv("THREADS_STORE_SQLITE_PATH", "/tmp/env.db")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/tmp/env.db", cfg.Store.SQLitePath)
}

func TestLoad_OverridesWin(t *testing.T) {
	t.Setenv("THREADS_STORE_BACKEND", "badger")

	cfg, err := Load("", map[string]any{
		"store.backend":     "sqlite",
		"store.sqlite_path": "flag.db",
	})
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "flag.db", cfg.Store.SQLitePath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"unknown backend", map[string]any{"store.backend": "mongo"}, `unknown store.backend "mongo"`},
		{"postgres without dsn", map[string]any{"store.backend": "postgres"}, "store.postgres_dsn is required"},
		{"sqlite without path", map[string]any{"store.sqlite_path": ""}, "store.sqlite_path is required"},
		{"badger without dir", map[string]any{"store.backend": "badger", "store.badger_dir": ""}, "store.badger_dir is required"},
		{"bad level", map[string]any{"log.level": "loud"}, `invalid log.level "loud"`},
		{"empty addr", map[string]any{"server.addr": ""}, "server.addr is required"},
		{"zero timeout", map[string]any{"server.shutdown_timeout": "0s"}, "server.shutdown_timeout must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	l, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}

func TestResolve_SkipsValidation(t *testing.T) {
	cfg, err := Resolve("", map[string]any{"store.backend": "postgres"})
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Error(t, cfg.Validate())
}

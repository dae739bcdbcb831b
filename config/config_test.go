package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pollstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.EnforceUniqueness)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: Badger
  data_dir: /tmp/polls/../polls
  enforce_uniqueness: true
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/polls", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.EnforceUniqueness)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("POLLSTORE_STORAGE_BACKEND", "sqlite")
	t.Setenv("POLLSTORE_STORAGE_DSN", "/tmp/env.db")

	cfg, err := LoadConfig(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "storage:\n  backend: cassandra\n"},
		{"s3 without bucket", "storage:\n  backend: s3\n"},
		{"sqlite without dsn", "storage:\n  backend: sqlite\n  dsn: \"\"\n"},
		{"bad log format", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_AfterOverride(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	cfg.Storage.Backend = " Badger "
	cfg.Storage.DataDir = ""
	assert.Error(t, Validate(cfg))

	cfg.Storage.DataDir = "/tmp/polls/"
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/polls", cfg.Storage.DataDir)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "AgenticCoder", cfg.AppName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Bus.ProcessIntervalMs)
	assert.Equal(t, 3, cfg.Bus.MaxRetries)
	assert.Equal(t, 30000, cfg.Bus.MaxBackoffMs)
	assert.Equal(t, 15000, cfg.Stdio.TimeoutMs)
	assert.Equal(t, "content-length", cfg.Stdio.Framing)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app_name: TestCore
log_level: debug
server:
  port: 9090
bus:
  max_retries: 5
stdio:
  timeout_ms: 20000
  framing: newline
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "TestCore", cfg.AppName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Bus.MaxRetries)
	assert.Equal(t, 20000, cfg.Stdio.TimeoutMs)
	assert.Equal(t, "newline", cfg.Stdio.Framing)

	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Bus.ProcessIntervalMs)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGENTICCODER_SERVER_PORT", "7777")
	t.Setenv("AGENTICCODER_DATABASE_PASSWORD", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Database.Password)
}

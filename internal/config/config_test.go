package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Streaming.Interval)
	assert.Equal(t, 8000, cfg.Streaming.MinBytes)
	assert.Equal(t, 100, cfg.Queue.Capacity)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.InactivityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.SweepInterval)
	assert.False(t, cfg.Database.Enabled)
	assert.Empty(t, cfg.Engines.TranslationBaseURL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: "9000"
  allowed_origins: ["https://a.example"]
streaming:
  interval: 250ms
  min_bytes: 4000
queue:
  capacity: 10
database:
  enabled: true
  host: db.internal
log:
  level: debug
`)
	t.Setenv("PORT", "9100")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example, https://c.example ,")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.Streaming.Interval)
	assert.Equal(t, 4000, cfg.Streaming.MinBytes)
	assert.Equal(t, 10, cfg.Queue.Capacity)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "host=db.internal port=5432 user=call_translator password=secret dbname=call_translator sslmode=disable",
		cfg.Database.DSN())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeFile(t, "server: ["))
	assert.ErrorContains(t, err, "parse config file")

	t.Setenv("STREAM_INTERVAL", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "STREAM_INTERVAL")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Queue.Capacity = 0
	cfg.Storage.Enabled = true
	cfg.Auth.Enabled = true
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.capacity")
	assert.Contains(t, err.Error(), "storage config missing")
	assert.Contains(t, err.Error(), "auth.issuer")
	assert.Contains(t, err.Error(), "log.level")
}

func TestApplyEnv_Booleans(t *testing.T) {
	env := map[string]string{"MINIO_ENABLED": "true", "MINIO_USE_SSL": "1", "AUTH_ENABLED": "maybe"}
	cfg := Default()
	err := cfg.applyEnv(func(k string) string { return env[k] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ENABLED")
	assert.True(t, cfg.Storage.Enabled)
	assert.True(t, cfg.Storage.UseSSL)
}

func TestNewLogger(t *testing.T) {
	logger, err := LogConfig{Level: "warn", Development: true}.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = LogConfig{Level: "nope"}.NewLogger()
	assert.Error(t, err)
}

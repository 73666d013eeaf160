package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-secret"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.Secret = testSecret
	return cfg
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.WebSocket.BufferSize)
	assert.Equal(t, 100, cfg.WebSocket.RateLimitPerMinute)
	assert.Equal(t, time.Hour, cfg.Passage.CacheTTL)

	// No secret ships by default.
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = -1 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"read timeout below ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero rate limit", func(c *Config) { c.WebSocket.RateLimitPerMinute = 0 }},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"empty passage url", func(c *Config) { c.Passage.BaseURL = "" }},
		{"zero cache size without redis", func(c *Config) { c.Passage.CacheSize = 0 }},
		{"missing websocket section", func(c *Config) { c.WebSocket = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_ValidatePostgres(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = "host=localhost user=studysync dbname=studysync sslmode=disable"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRedisCacheAllowsZeroSize(t *testing.T) {
	cfg := validConfig()
	cfg.Passage.CacheSize = 0
	cfg.Passage.RedisAddr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STUDYSYNC_AUTH_SECRET", testSecret)
	t.Setenv("STUDYSYNC_HTTP_PORT", "9090")
	t.Setenv("STUDYSYNC_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("STUDYSYNC_PASSAGE_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, "redis:6379", cfg.Passage.RedisAddr)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "studysync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"http": {"port": 7000, "host": "127.0.0.1"},
		"database": {"path": "/tmp/studies.db", "timeout": "10s"},
		"auth": {"secret": "`+testSecret+`"},
		"websocket": {"buffer_size": 32}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, "/tmp/studies.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Second, cfg.Database.Timeout)
	assert.Equal(t, 32, cfg.WebSocket.BufferSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "studysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 7000\nauth:\n  secret: "+testSecret+"\n"), 0o600))
	t.Setenv("STUDYSYNC_HTTP_PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.HTTP.Port)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STUDYSYNC_AUTH_SECRET="+testSecret+"\nSTUDYSYNC_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STUDYSYNC_AUTH_SECRET")
		os.Unsetenv("STUDYSYNC_LOG_LEVEL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	// Valid file but no secret anywhere.
	noSecret := filepath.Join(dir, "nosecret.json")
	require.NoError(t, os.WriteFile(noSecret, []byte(`{"http": {"port": 8081}}`), 0o600))
	_, err = Load(noSecret)
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

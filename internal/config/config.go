package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. STUDYSYNC_HTTP_PORT.
const EnvPrefix = "STUDYSYNC"

// Config is the full service configuration.
type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Passage   *PassageConfig   `mapstructure:"passage"`
	Log       *LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the study store. Driver "sqlite" uses Path;
// driver "postgres" uses DSN.
type DatabaseConfig struct {
	Driver  string        `mapstructure:"driver"`
	Path    string        `mapstructure:"path"`
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebSocketConfig tunes the gateway. BufferSize is the per-connection
// outbox depth; a connection whose outbox fills is dropped.
type WebSocketConfig struct {
	PingInterval       time.Duration `mapstructure:"ping_interval"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	BufferSize         int           `mapstructure:"buffer_size"`
	MaxMessageSize     int64         `mapstructure:"max_message_size"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// PassageConfig configures verse lookups. A non-empty RedisAddr switches
// the cache from in-process LRU to redis.
type PassageConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

// DefaultConfig returns settings suitable for a single classroom-scale node.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:  "sqlite",
			Path:    "./studysync.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:       30 * time.Second,
			ReadTimeout:        60 * time.Second,
			WriteTimeout:       10 * time.Second,
			BufferSize:         100,
			MaxMessageSize:     64 * 1024,
			RateLimitPerMinute: 100,
		},
		Auth: &AuthConfig{
			Issuer:   "studysync",
			TokenTTL: 24 * time.Hour,
		},
		Passage: &PassageConfig{
			BaseURL:   "https://api.scripture.api",
			Timeout:   5 * time.Second,
			CacheTTL:  time.Hour,
			CacheSize: 512,
		},
		Log: &LogConfig{
			Level: "info",
			Env:   "production",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}
	if c.WebSocket.RateLimitPerMinute <= 0 {
		return errors.New("WebSocket rate limit must be positive")
	}

	if c.Auth == nil {
		return errors.New("auth configuration is required")
	}
	if len(c.Auth.Secret) < 16 {
		return errors.New("auth secret must be at least 16 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.Passage == nil {
		return errors.New("passage configuration is required")
	}
	if c.Passage.BaseURL == "" {
		return errors.New("passage base url cannot be empty")
	}
	if c.Passage.Timeout <= 0 || c.Passage.CacheTTL <= 0 {
		return errors.New("passage timeout and cache ttl must be positive")
	}
	if c.Passage.RedisAddr == "" && c.Passage.CacheSize <= 0 {
		return errors.New("passage cache size must be positive")
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Load resolves configuration with precedence env > file > defaults.
// A .env file in the working directory is loaded into the environment
// first when present. path may be empty.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.rate_limit_per_minute", d.WebSocket.RateLimitPerMinute)
	v.SetDefault("websocket.allowed_origins", d.WebSocket.AllowedOrigins)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("passage.base_url", d.Passage.BaseURL)
	v.SetDefault("passage.timeout", d.Passage.Timeout)
	v.SetDefault("passage.cache_ttl", d.Passage.CacheTTL)
	v.SetDefault("passage.cache_size", d.Passage.CacheSize)
	v.SetDefault("passage.redis_addr", d.Passage.RedisAddr)
	v.SetDefault("passage.redis_password", d.Passage.RedisPassword)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.env", d.Log.Env)
}

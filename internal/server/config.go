// Package server provides configuration loading with environment overrides
// and sanitized defaults for the duochat service.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds the runtime settings. Values come from the environment via
// go-env tags; empty or nonsense values fall back to defaults in sanitize.
type Config struct {
	Port                   string `env:"SERVER_PORT,default=:8080"`
	DataDir                string `env:"DATA_DIR,default=./data"`
	AllowedOrigins         string `env:"ALLOWED_ORIGINS"`
	Users                  string `env:"CHAT_USERS"`
	MaxMessageSize         int64  `env:"MAX_MESSAGE_SIZE"`
	GraceSeconds           int    `env:"PRESENCE_GRACE_SECONDS"`
	RateLimitBurst         int    `env:"RATE_LIMIT_BURST"`
	RateLimitRefillSeconds int    `env:"RATE_LIMIT_REFILL_SECONDS"`
	LogLevel               string `env:"LOG_LEVEL,default=info"`
}

// LoadConfig reads the configuration from the environment and applies
// defaults. It fails only on an unparseable variable or an invalid user
// pair.
func LoadConfig() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.sanitize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewConfig returns a Config populated with defaults, used by tests and as
// a baseline for programmatic setup.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.sanitize()
	return cfg
}

func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.AllowedOrigins == "" {
		c.AllowedOrigins = "http://localhost:8080"
	}
	if c.Users == "" {
		c.Users = "alpha,beta"
	}
	if c.MaxMessageSize <= 0 {
		// The original deployment shipped images inline, so the ceiling is
		// generous.
		c.MaxMessageSize = 10 << 20
	}
	if c.GraceSeconds <= 0 {
		c.GraceSeconds = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 20
	}
	if c.RateLimitRefillSeconds <= 0 {
		c.RateLimitRefillSeconds = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	users := c.UserList()
	if len(users) != 2 {
		return fmt.Errorf("CHAT_USERS must name exactly two identities, got %q", c.Users)
	}
	if users[0] == users[1] {
		return fmt.Errorf("CHAT_USERS identities must differ, got %q", c.Users)
	}
	return nil
}

// UserList returns the configured chat identities.
func (c *Config) UserList() []string {
	parts := strings.Split(c.Users, ",")
	users := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			users = append(users, trimmed)
		}
	}
	return users
}

// UserPair returns the two configured identities. Call only after validate.
func (c *Config) UserPair() (string, string) {
	users := c.UserList()
	return users[0], users[1]
}

// Origins returns the configured origin allow-list entries.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Grace is the delay between a user's last connection closing and that user
// being declared offline.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// RefillInterval is the token refill window for the per-connection rate
// limiter.
func (c *Config) RefillInterval() time.Duration {
	return time.Duration(c.RateLimitRefillSeconds) * time.Second
}

// SlogLevel maps the configured level string onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

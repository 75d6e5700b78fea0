package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is loaded from the environment.
type Config struct {
	Addr      string `env:"PICTURES_ADDR,default=:3000"`
	AssetsDir string `env:"PICTURES_ASSETS_DIR"`
	LogLevel  string `env:"PICTURES_LOG_LEVEL,default=info"`
	LogFormat string `env:"PICTURES_LOG_FORMAT,default=json"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	KeyPrefix     string `env:"PICTURES_KEY_PREFIX,default=pictures:"`

	PruneInterval time.Duration `env:"PICTURES_PRUNE_INTERVAL,default=30s"`
	IdleTTL       time.Duration `env:"PICTURES_IDLE_TTL,default=5m"`
	RateLimit     float64       `env:"PICTURES_RATE_LIMIT,default=20"`
	RateBurst     int           `env:"PICTURES_RATE_BURST,default=40"`

	ShutdownTimeout time.Duration `env:"PICTURES_SHUTDOWN_TIMEOUT,default=10s"`
}

func loadConfig() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

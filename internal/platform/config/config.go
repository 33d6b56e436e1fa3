package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" default:"development"`
	Port          string `env:"PORT" default:"8080"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SessionSecret string `env:"SESSION_SECRET"`
	RedisURL      string `env:"REDIS_URL"`
	AMQPURL       string `env:"AMQP_URL"`
	AMQPExchange  string `env:"AMQP_EXCHANGE" default:"realtydesk.events"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	DBMaxConns         int32         `env:"DB_MAX_CONNS" default:"20"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" default:"2"`
	DBMaxConnLifetime  time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
	DBStatementTimeout time.Duration `env:"DB_STATEMENT_TIMEOUT" default:"15s"`
	// DBMigrationLockID is the advisory lock migrations hold; "realty" in ASCII hex.
	DBMigrationLockID int64 `env:"DB_MIGRATION_LOCK_ID" default:"125779751761017"`

	KeepAliveInterval      time.Duration `env:"STREAM_KEEPALIVE_INTERVAL" default:"30s"`
	MaxStreamConnections   int           `env:"MAX_STREAM_CONNECTIONS" default:"10000"`
	MaxStreamsPerRecipient int           `env:"MAX_STREAMS_PER_RECIPIENT" default:"20"`
	MaxStreamsPerIP        int           `env:"MAX_STREAMS_PER_IP" default:"50"`

	// NotificationRetention of 0 disables the in-process sweep.
	NotificationRetention time.Duration `env:"NOTIFICATION_RETENTION" default:"2160h"` // 90 days
	RetentionInterval     time.Duration `env:"NOTIFICATION_RETENTION_INTERVAL" default:"1h"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// IsProduction reports whether the service runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required")
	}
	if len(cfg.SessionSecret) < 16 {
		return errors.New("SESSION_SECRET must be at least 16 characters")
	}

	if cfg.DBMaxConns <= 0 {
		return errors.New("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", cfg.DBMaxConns, cfg.DBMinConns)
	}
	if cfg.DBStatementTimeout < 0 {
		return errors.New("DB_STATEMENT_TIMEOUT must not be negative")
	}
	if cfg.DBMigrationLockID == 0 {
		return errors.New("DB_MIGRATION_LOCK_ID must be non-zero")
	}

	if cfg.KeepAliveInterval < time.Second {
		return fmt.Errorf("STREAM_KEEPALIVE_INTERVAL must be at least 1s, got %s", cfg.KeepAliveInterval)
	}
	if cfg.MaxStreamConnections <= 0 {
		return errors.New("MAX_STREAM_CONNECTIONS must be positive")
	}
	if cfg.MaxStreamsPerRecipient <= 0 {
		return errors.New("MAX_STREAMS_PER_RECIPIENT must be positive")
	}
	if cfg.MaxStreamsPerIP <= 0 {
		return errors.New("MAX_STREAMS_PER_IP must be positive")
	}

	if cfg.NotificationRetention < 0 {
		return errors.New("NOTIFICATION_RETENTION must not be negative")
	}
	if cfg.NotificationRetention > 0 && cfg.RetentionInterval < time.Minute {
		return fmt.Errorf("NOTIFICATION_RETENTION_INTERVAL must be at least 1m, got %s", cfg.RetentionInterval)
	}

	if cfg.IsProduction() {
		mode, err := sslMode(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
		}
		if mode == "disable" || mode == "allow" {
			return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
		}
	}

	return nil
}

func sslMode(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Query().Get("sslmode")), nil
}

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the eventsync server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Slack    SlackConfig
	Sync     SyncConfig
}

type ServerConfig struct {
	Port      int    `env:"EVENTSYNC_PORT" envDefault:"8080"`
	Env       string `env:"EVENTSYNC_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	RateLimit int    `env:"API_RATE_LIMIT" envDefault:"60"` // requests per key per minute
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
	MigrationsDir   string        `env:"DATABASE_MIGRATIONS_DIR" envDefault:"migrations"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
}

type SlackConfig struct {
	BaseURL           string        `env:"SLACK_API_BASE_URL" envDefault:"https://slack.com/api"`
	Timeout           time.Duration `env:"SLACK_TIMEOUT" envDefault:"20s"`
	RequestsPerSecond float64       `env:"SLACK_REQUESTS_PER_SECOND" envDefault:"1"`
	Burst             int           `env:"SLACK_BURST" envDefault:"5"`
	MaxRetries        int           `env:"SLACK_MAX_RETRIES" envDefault:"2"`
	MaxRetryDelay     time.Duration `env:"SLACK_MAX_RETRY_DELAY" envDefault:"30s"`
	ChannelPrefix     string        `env:"SLACK_CHANNEL_PREFIX" envDefault:""`
	ChannelRemoval    bool          `env:"SLACK_CHANNEL_REMOVAL" envDefault:"false"`

	// InviteChannelIDs maps a workspace id to the channel new invitees join,
	// written as "T123:C456,T789:C012". Unlisted workspaces use #general.
	InviteChannelIDs map[string]string `env:"SLACK_INVITE_CHANNEL_IDS"`
}

type SyncConfig struct {
	Interval    time.Duration `env:"SYNC_INTERVAL" envDefault:"1h"`
	Concurrency int           `env:"SYNC_CONCURRENCY" envDefault:"1"`
	RunOnStart  bool          `env:"SYNC_RUN_ON_START" envDefault:"true"`
	LockTTL     time.Duration `env:"SYNC_LOCK_TTL" envDefault:"55m"`
	SuspendTTL  time.Duration `env:"SYNC_SUSPEND_TTL" envDefault:"168h"`
	CohortsFile string        `env:"COHORTS_FILE" envDefault:"cohorts.yaml"`
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Load reads configuration from environment variables (and a .env file when
// present) and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	// Local development convenience; a missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogLevel returns the slog level for the configured LOG_LEVEL.
func (c *Config) LogLevel() slog.Level {
	return validLogLevels[strings.ToLower(c.Server.LogLevel)]
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if _, ok := validLogLevels[strings.ToLower(c.Server.LogLevel)]; !ok {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}
	if c.Server.RateLimit < 1 {
		return fmt.Errorf("API_RATE_LIMIT must be at least 1, got %d", c.Server.RateLimit)
	}

	if !strings.HasPrefix(c.Slack.BaseURL, "http://") && !strings.HasPrefix(c.Slack.BaseURL, "https://") {
		return fmt.Errorf("SLACK_API_BASE_URL must start with http:// or https://, got %q", c.Slack.BaseURL)
	}
	if c.Slack.RequestsPerSecond <= 0 {
		return fmt.Errorf("SLACK_REQUESTS_PER_SECOND must be positive, got %v", c.Slack.RequestsPerSecond)
	}
	if c.Slack.Burst < 1 {
		return fmt.Errorf("SLACK_BURST must be at least 1, got %d", c.Slack.Burst)
	}
	for ws, ch := range c.Slack.InviteChannelIDs {
		if ws == "" || ch == "" {
			return fmt.Errorf("SLACK_INVITE_CHANNEL_IDS entries must be workspace:channel, got %q:%q", ws, ch)
		}
	}
	if c.Slack.MaxRetries < 0 {
		return fmt.Errorf("SLACK_MAX_RETRIES must not be negative, got %d", c.Slack.MaxRetries)
	}

	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("SYNC_CONCURRENCY must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.LockTTL <= 0 {
		return fmt.Errorf("SYNC_LOCK_TTL must be positive, got %s", c.Sync.LockTTL)
	}
	if c.Sync.SuspendTTL <= 0 {
		return fmt.Errorf("SYNC_SUSPEND_TTL must be positive, got %s", c.Sync.SuspendTTL)
	}
	if c.Sync.CohortsFile == "" {
		return fmt.Errorf("COHORTS_FILE is required")
	}

	return nil
}

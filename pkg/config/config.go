package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for pixelsmith.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (tokens, keys, passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Discord  DiscordConfig  `yaml:"discord"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token string `yaml:"-" env:"DISCORD_TOKEN"` // Secret - not in YAML

	// GuildID restricts slash-command registration to one guild when set.
	// Empty means global registration (slower to propagate).
	GuildID string `yaml:"guild_id" env:"DISCORD_GUILD_ID" env-default:""`

	// StaffLogChannelID is an optional channel that receives operator
	// detail for upstream and persistence failures. Empty disables it.
	StaffLogChannelID string `yaml:"staff_log_channel_id" env:"STAFF_LOG_CHANNEL_ID" env-default:""`
}

// OpenAIConfig holds image-generation API configuration.
type OpenAIConfig struct {
	APIKey  string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model   string `yaml:"model" env:"OPENAI_IMAGE_MODEL" env-default:"gpt-image-1"`

	// DefaultSize and DefaultQuality apply when a command does not pick
	// its own size/quality.
	DefaultSize    string `yaml:"default_size" env:"IMAGE_SIZE" env-default:"1024x1024"`
	DefaultQuality string `yaml:"default_quality" env:"IMAGE_QUALITY" env-default:"medium"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"pixelsmith"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"pixelsmith"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds a postgres connection URL from the individual fields.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds optional Redis configuration. Redis is only needed
// when Limits.Backend is "redis"; an empty host disables the client.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	// DataDir is the root directory for stored artifact bytes. Created
	// on startup if missing.
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"data/images"`
}

// LimitsConfig holds usage-limiting policy. Day and month windows are
// always UTC; the values here are deployment policy, not per-request
// options.
type LimitsConfig struct {
	// Backend selects the quota counter implementation: "ledger" derives
	// counts from the generations table, "redis" keeps atomic counters
	// in Redis.
	Backend string `yaml:"backend" env:"LIMITS_BACKEND" env-default:"ledger"`

	MaxDailyImagesPerUser int     `yaml:"max_daily_images_per_user" env:"MAX_DAILY_IMAGES_PER_USER" env-default:"5"`
	CostPerImageUsd       float64 `yaml:"cost_per_image_usd" env:"COST_PER_IMAGE_USD" env-default:"0.04"`
	MaxMonthlyCostUsd     float64 `yaml:"max_monthly_cost_usd" env:"MAX_MONTHLY_COST_USD" env-default:"20"`
	HistoryPerUser        int     `yaml:"history_per_user" env:"HISTORY_PER_USER" env-default:"10"`

	// MaxConcurrentGenerations bounds in-flight calls to the image API
	// across all users.
	MaxConcurrentGenerations int `yaml:"max_concurrent_generations" env:"MAX_CONCURRENT_GENERATIONS" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on
// the returned Config. If config.yaml does not exist, configuration comes
// from environment variables alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Limits.Backend {
	case "ledger", "redis":
	default:
		return fmt.Errorf("invalid limits backend %q (want \"ledger\" or \"redis\")", c.Limits.Backend)
	}
	if c.Limits.Backend == "redis" && c.Redis.Host == "" {
		return fmt.Errorf("limits backend is redis but REDIS_HOST is not set")
	}
	if c.Limits.MaxDailyImagesPerUser <= 0 {
		return fmt.Errorf("max_daily_images_per_user must be positive")
	}
	if c.Limits.CostPerImageUsd < 0 {
		return fmt.Errorf("cost_per_image_usd must not be negative")
	}
	if c.Limits.HistoryPerUser <= 0 {
		return fmt.Errorf("history_per_user must be positive")
	}
	if c.Limits.MaxConcurrentGenerations <= 0 {
		return fmt.Errorf("max_concurrent_generations must be positive")
	}
	return nil
}

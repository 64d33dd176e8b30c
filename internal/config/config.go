package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	DBURL       string `mapstructure:"DB_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`

	// Labels that make a remote issue eligible for import.
	BeginnerLabels []string `mapstructure:"BEGINNER_LABELS"`

	SyncInterval     time.Duration `mapstructure:"SYNC_INTERVAL"`
	SweepInterval    time.Duration `mapstructure:"SWEEP_INTERVAL"`
	ReminderInterval time.Duration `mapstructure:"REMINDER_INTERVAL"`

	// Hours before expiry at which a claim counts as expiring soon.
	ClaimGraceHours int `mapstructure:"CLAIM_GRACE_HOURS"`

	CacheTTL time.Duration `mapstructure:"CACHE_TTL"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("BEGINNER_LABELS", []string{
		"good first issue",
		"good-first-issue",
		"beginner-friendly",
		"beginner friendly",
		"help wanted",
		"first-timers-only",
	})
	viper.SetDefault("SYNC_INTERVAL", "6h")
	viper.SetDefault("SWEEP_INTERVAL", "1h")
	viper.SetDefault("REMINDER_INTERVAL", "6h")
	viper.SetDefault("CLAIM_GRACE_HOURS", 24)
	viper.SetDefault("CACHE_TTL", "5m")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields. The GitHub token is optional: unauthenticated
	// requests work for public repositories, just with a smaller quota.
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is a required configuration field")
	}
	if cfg.ClaimGraceHours <= 0 {
		return nil, errors.New("CLAIM_GRACE_HOURS must be a positive number of hours")
	}

	return &cfg, nil
}

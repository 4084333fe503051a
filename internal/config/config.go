package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Provider ProviderConfig `yaml:"provider"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSec int `yaml:"write_timeout_seconds"`
	ShutdownSec     int `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings (queue, rate gate, events)
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig holds dispatcher tuning knobs
type DispatchConfig struct {
	SendRatePerSecond  int `yaml:"send_rate_per_second"`
	FetchBatchSize     int `yaml:"fetch_batch_size"`
	FetchTimeoutSec    int `yaml:"fetch_timeout_seconds"`
	IdleChecks         int `yaml:"idle_checks"`
	PublishPageSize    int `yaml:"publish_page_size"`
	SnapshotEvery      int `yaml:"snapshot_every"`
	CommitTimeoutSec   int `yaml:"commit_timeout_seconds"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_seconds"`
}

// SweepConfig holds the scheduled-campaign sweep settings
type SweepConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	BatchSize       int  `yaml:"batch_size"`
}

// ProviderConfig holds the outbound message provider settings
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// NotifyConfig holds event publication settings
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutSec == 0 {
		cfg.Server.ReadTimeoutSec = 15
	}
	if cfg.Server.WriteTimeoutSec == 0 {
		cfg.Server.WriteTimeoutSec = 30
	}
	if cfg.Server.ShutdownSec == 0 {
		cfg.Server.ShutdownSec = 20
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Dispatch.SendRatePerSecond == 0 {
		cfg.Dispatch.SendRatePerSecond = 50
	}
	if cfg.Dispatch.FetchBatchSize == 0 {
		cfg.Dispatch.FetchBatchSize = 10
	}
	if cfg.Dispatch.FetchTimeoutSec == 0 {
		cfg.Dispatch.FetchTimeoutSec = 2
	}
	if cfg.Dispatch.IdleChecks == 0 {
		cfg.Dispatch.IdleChecks = 3
	}
	if cfg.Dispatch.PublishPageSize == 0 {
		cfg.Dispatch.PublishPageSize = 100
	}
	if cfg.Dispatch.SnapshotEvery == 0 {
		cfg.Dispatch.SnapshotEvery = 5
	}
	if cfg.Dispatch.CommitTimeoutSec == 0 {
		cfg.Dispatch.CommitTimeoutSec = 10
	}
	if cfg.Dispatch.ShutdownTimeoutSec == 0 {
		cfg.Dispatch.ShutdownTimeoutSec = 30
	}
	if cfg.Sweep.IntervalSeconds == 0 {
		cfg.Sweep.IntervalSeconds = 30
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = 50
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = "campaign.events"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SEND_RATE_PER_SECOND"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			cfg.Dispatch.SendRatePerSecond = rate
		}
	}

	return cfg, nil
}

// Validate checks that required settings are present
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (or set DATABASE_URL)")
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required (or set PROVIDER_BASE_URL)")
	}
	if cfg.Dispatch.SendRatePerSecond <= 0 {
		return fmt.Errorf("dispatch.send_rate_per_second must be positive")
	}
	return nil
}

// FetchTimeout returns the dispatch fetch timeout as a duration
func (cfg *DispatchConfig) FetchTimeout() time.Duration {
	return time.Duration(cfg.FetchTimeoutSec) * time.Second
}

// CommitTimeout returns the post-send commit timeout as a duration
func (cfg *DispatchConfig) CommitTimeout() time.Duration {
	return time.Duration(cfg.CommitTimeoutSec) * time.Second
}

// SweepInterval returns the sweep interval as a duration
func (cfg *SweepConfig) SweepInterval() time.Duration {
	return time.Duration(cfg.IntervalSeconds) * time.Second
}

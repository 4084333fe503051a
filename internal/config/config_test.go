package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  shutdown_timeout_seconds: 10

database:
  url: "postgres://localhost/campaigns?sslmode=disable"
  max_open_conns: 40

redis:
  url: "redis://localhost:6380/1"

dispatch:
  send_rate_per_second: 25
  fetch_batch_size: 20
  idle_checks: 5
  snapshot_every: 10

sweep:
  enabled: true
  interval_seconds: 15
  batch_size: 10

provider:
  base_url: "https://gateway.example.com"
  api_key: "test-api-key"
  timeout_seconds: 45

notify:
  enabled: true
  channel: "events.test"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Test server config
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.ShutdownSec)

	// Test database config
	assert.Equal(t, "postgres://localhost/campaigns?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns)

	// Test redis config
	assert.Equal(t, "redis://localhost:6380/1", cfg.Redis.URL)

	// Test dispatch config
	assert.Equal(t, 25, cfg.Dispatch.SendRatePerSecond)
	assert.Equal(t, 20, cfg.Dispatch.FetchBatchSize)
	assert.Equal(t, 5, cfg.Dispatch.IdleChecks)
	assert.Equal(t, 10, cfg.Dispatch.SnapshotEvery)

	// Test sweep config
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, 15, cfg.Sweep.IntervalSeconds)
	assert.Equal(t, 10, cfg.Sweep.BatchSize)

	// Test provider config
	assert.Equal(t, "https://gateway.example.com", cfg.Provider.BaseURL)
	assert.Equal(t, "test-api-key", cfg.Provider.APIKey)
	assert.Equal(t, 45, cfg.Provider.TimeoutSeconds)

	// Test notify config
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, "events.test", cfg.Notify.Channel)
}

func TestLoadDefaults(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
provider:
  base_url: "https://gateway.example.com"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Verify defaults are applied
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 50, cfg.Dispatch.SendRatePerSecond)
	assert.Equal(t, 10, cfg.Dispatch.FetchBatchSize)
	assert.Equal(t, 3, cfg.Dispatch.IdleChecks)
	assert.Equal(t, 5, cfg.Dispatch.SnapshotEvery)
	assert.Equal(t, 30, cfg.Sweep.IntervalSeconds)
	assert.Equal(t, 30, cfg.Provider.TimeoutSeconds)
	assert.Equal(t, "campaign.events", cfg.Notify.Channel)
}

func TestLoadFromEnv(t *testing.T) {
	// Create a minimal config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database:
  url: "postgres://file-host/campaigns"

provider:
  base_url: "https://file-url.com"
  api_key: "file-key"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("DATABASE_URL", "postgres://env-host/campaigns")
	t.Setenv("PROVIDER_API_KEY", "env-key")
	t.Setenv("SEND_RATE_PER_SECOND", "75")

	cfg, err := LoadFromEnv(configPath)
	require.NoError(t, err)

	// Environment variables should override file values
	assert.Equal(t, "postgres://env-host/campaigns", cfg.Database.URL)
	assert.Equal(t, "env-key", cfg.Provider.APIKey)
	assert.Equal(t, "https://file-url.com", cfg.Provider.BaseURL)
	assert.Equal(t, 75, cfg.Dispatch.SendRatePerSecond)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.Error(t, cfg.Validate())

	cfg.Database.URL = "postgres://localhost/campaigns"
	assert.Error(t, cfg.Validate())

	cfg.Provider.BaseURL = "https://gateway.example.com"
	assert.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	d := DispatchConfig{FetchTimeoutSec: 2, CommitTimeoutSec: 10}
	assert.Equal(t, 2*time.Second, d.FetchTimeout())
	assert.Equal(t, 10*time.Second, d.CommitTimeout())

	s := SweepConfig{IntervalSeconds: 120}
	assert.Equal(t, 120*time.Second, s.SweepInterval())
}

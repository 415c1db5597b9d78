package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=" // 32 bytes

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SYNC_CREDENTIALS_KEY", testKey)

	yamlContent := `
app:
  name: bookingsync
database:
  driver: sqlite3
  path: "test.db"
credentials:
  key: "${SYNC_CREDENTIALS_KEY}"
api:
  auth:
    enabled: true
    api_keys:
      - key: "k1"
        name: "cron"
        permissions: ["sync:trigger"]
sync:
  anchor_timezone: Europe/Berlin
  rate_limit_delay: 30s
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, testKey, cfg.Credentials.Key)
	assert.Equal(t, "Europe/Berlin", cfg.Sync.AnchorTimezone)
	assert.Equal(t, 30*time.Second, cfg.Sync.RateLimitDelay)

	// defaults
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.OutboundMaxAttempts)
	assert.Equal(t, 3, cfg.Sync.InboundMaxAttempts)
	assert.Equal(t, time.Hour, cfg.Sync.MaxBackoff)
	assert.Equal(t, 30, cfg.Sync.FullSync.DaysBack)
	assert.Equal(t, 90, cfg.Sync.FullSync.DaysForward)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 24*time.Hour, cfg.Database.Backup.Interval)
	assert.False(t, cfg.Database.Backup.Enabled)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{
			Database:    DatabaseConfig{Driver: "sqlite3", Path: "x.db"},
			Credentials: CredentialsConfig{Key: testKey},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing key", mutate: func(c *Config) { c.Credentials.Key = "" }, wantErr: true},
		{name: "short key", mutate: func(c *Config) { c.Credentials.Key = "c2hvcnQ=" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Sync.AnchorTimezone = "Nowhere/City" }, wantErr: true},
		{name: "file log without path", mutate: func(c *Config) { c.Logging.Output = "file" }, wantErr: true},
		{name: "auth without keys", mutate: func(c *Config) { c.API.Auth.Enabled = true }, wantErr: true},
		{name: "backup without path", mutate: func(c *Config) { c.Database.Backup.Enabled = true }, wantErr: true},
		{name: "bad public url", mutate: func(c *Config) { c.API.PublicBaseURL = "not a url" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

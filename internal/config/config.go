package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"bookingsync/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	API         APIConfig         `yaml:"api"`
	Sync        SyncConfig        `yaml:"sync"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Providers   ProvidersConfig   `yaml:"providers"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Output   string `yaml:"output" validate:"omitempty,oneof=stdout stderr file"`
	FilePath string `yaml:"file_path" validate:"required_if=Output file"`
}

type DatabaseConfig struct {
	Driver       string       `yaml:"driver" validate:"oneof=sqlite3 postgres"`
	Path         string       `yaml:"path" validate:"required_if=Driver sqlite3"`
	DSN          string       `yaml:"dsn" validate:"required_if=Driver postgres"`
	MaxOpenConns int          `yaml:"max_open_conns" validate:"gte=0"`
	Backup       BackupConfig `yaml:"backup"`
}

// BackupConfig schedules sqlite snapshots.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path" validate:"required_if=Enabled true"`
	RetentionDays int           `yaml:"retention_days" validate:"gte=0"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	HTTP          APIHTTPConfig      `yaml:"http"`
	GRPC          APIGRPCConfig      `yaml:"grpc"`
	Auth          APIAuthConfig      `yaml:"auth"`
	RateLimit     APIRateLimitConfig `yaml:"rate_limit"`
	PublicBaseURL string             `yaml:"public_base_url" validate:"omitempty,url"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port" validate:"gt=0,lt=65536"`
}

type APIGRPCConfig struct {
	Port       int  `yaml:"port" validate:"gte=0,lt=65536"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys" validate:"dive"`
}

type APIClientKey struct {
	Key         string   `yaml:"key" validate:"required"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type SyncConfig struct {
	BatchSize           int            `yaml:"batch_size" validate:"gt=0"`
	OutboundMaxAttempts int            `yaml:"outbound_max_attempts" validate:"gt=0"`
	InboundMaxAttempts  int            `yaml:"inbound_max_attempts" validate:"gt=0"`
	InitialBackoff      time.Duration  `yaml:"initial_backoff"`
	MaxBackoff          time.Duration  `yaml:"max_backoff"`
	RateLimitDelay      time.Duration  `yaml:"rate_limit_delay"`
	ClaimLease          time.Duration  `yaml:"claim_lease"`
	LockTTL             time.Duration  `yaml:"lock_ttl"`
	AnchorTimezone      string         `yaml:"anchor_timezone"`
	HTTPTimeout         time.Duration  `yaml:"http_timeout"`
	ProviderRPS         float64        `yaml:"provider_rps"`
	ProviderBurst       int            `yaml:"provider_burst"`
	FullSync            FullSyncConfig `yaml:"full_sync"`
}

type FullSyncConfig struct {
	DaysBack               int `yaml:"days_back" validate:"gte=0"`
	DaysForward            int `yaml:"days_forward" validate:"gte=0"`
	DefaultIntervalMinutes int `yaml:"default_interval_minutes" validate:"gt=0"`
}

type CredentialsConfig struct {
	Key string `yaml:"key" validate:"required"`
}

type SchedulerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Outbound string `yaml:"outbound"`
	Inbound  string `yaml:"inbound"`
	FullSync string `yaml:"full_sync"`
}

// ProvidersConfig overrides provider API endpoints, mostly for sandboxes.
type ProvidersConfig struct {
	BookeoBaseURL     string `yaml:"bookeo_base_url"`
	SimplyBookBaseURL string `yaml:"simplybook_base_url"`
	GoogleBaseURL     string `yaml:"google_base_url"`
}

var validate = validator.New()

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	key, err := base64.StdEncoding.DecodeString(c.Credentials.Key)
	if err != nil {
		return fmt.Errorf("credentials.key must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("credentials.key must decode to 32 bytes, got %d", len(key))
	}

	if _, err := models.NewAnchorZone(c.Sync.AnchorTimezone); err != nil {
		return err
	}

	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth.enabled requires at least one api key")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bookingsync"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Driver == "sqlite3" && c.Database.Path == "" {
		c.Database.Path = "data/bookingsync.db"
	}
	if c.Database.Backup.Enabled && c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "data/backups"
	}
	if c.Database.Backup.Interval == 0 {
		c.Database.Backup.Interval = 24 * time.Hour
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	// Sync defaults
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.OutboundMaxAttempts == 0 {
		c.Sync.OutboundMaxAttempts = models.DefaultOutboundMaxAttempts
	}
	if c.Sync.InboundMaxAttempts == 0 {
		c.Sync.InboundMaxAttempts = models.DefaultInboundMaxAttempts
	}
	if c.Sync.InitialBackoff == 0 {
		c.Sync.InitialBackoff = time.Second
	}
	if c.Sync.MaxBackoff == 0 {
		c.Sync.MaxBackoff = time.Hour
	}
	if c.Sync.RateLimitDelay == 0 {
		c.Sync.RateLimitDelay = models.DefaultRateLimitDelay * time.Second
	}
	if c.Sync.ClaimLease == 0 {
		c.Sync.ClaimLease = 5 * time.Minute
	}
	if c.Sync.LockTTL == 0 {
		c.Sync.LockTTL = 2 * time.Minute
	}
	if c.Sync.AnchorTimezone == "" {
		c.Sync.AnchorTimezone = "UTC"
	}
	if c.Sync.HTTPTimeout == 0 {
		c.Sync.HTTPTimeout = 30 * time.Second
	}
	if c.Sync.ProviderRPS == 0 {
		c.Sync.ProviderRPS = 5
	}
	if c.Sync.ProviderBurst == 0 {
		c.Sync.ProviderBurst = 10
	}
	if c.Sync.FullSync.DaysBack == 0 {
		c.Sync.FullSync.DaysBack = models.FullSyncDaysBack
	}
	if c.Sync.FullSync.DaysForward == 0 {
		c.Sync.FullSync.DaysForward = models.FullSyncDaysForward
	}
	if c.Sync.FullSync.DefaultIntervalMinutes == 0 {
		c.Sync.FullSync.DefaultIntervalMinutes = models.DefaultSyncIntervalMinutes
	}

	if c.Scheduler.Outbound == "" {
		c.Scheduler.Outbound = "@every 1m"
	}
	if c.Scheduler.Inbound == "" {
		c.Scheduler.Inbound = "@every 1m"
	}
	if c.Scheduler.FullSync == "" {
		c.Scheduler.FullSync = "@every 15m"
	}
}

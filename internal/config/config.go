package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"splitsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Backup     BackupConfig     `yaml:"backup"`
	Redis      RedisConfig      `yaml:"redis"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Sync       SyncConfig       `yaml:"sync"`
	Status     StatusConfig     `yaml:"status"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackupConfig controls periodic snapshots of the local store. Snapshots keep
// pending mutations recoverable if the database file is damaged.
type BackupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
}

// RedisConfig is optional. When Address is empty the dead-letter store lives in
// memory and list responses are not cached.
type RedisConfig struct {
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	DeadLetterMax int64         `yaml:"dead_letter_max"`
}

// ServerConfig points at the expense server. BulkURL is the websocket sync endpoint;
// leaving it empty disables the bulk transport and every drain uses per-item requests.
type ServerConfig struct {
	APIURL      string        `yaml:"api_url"`
	BulkURL     string        `yaml:"bulk_url"`
	HealthURL   string        `yaml:"health_url"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type AuthConfig struct {
	UserID       string `yaml:"user_id"`
	TokenFile    string `yaml:"token_file"`
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

type SyncConfig struct {
	Debounce      time.Duration   `yaml:"debounce"`
	ReadTimeout   time.Duration   `yaml:"read_timeout"`
	BulkTimeout   time.Duration   `yaml:"bulk_timeout"`
	ProbeInterval time.Duration   `yaml:"probe_interval"`
	Retry         RetryConfig     `yaml:"retry"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

type RetryConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// StatusConfig exposes the local status API. An empty APIKey leaves it open,
// which is only sensible on a loopback address.
type StatusConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Address   string          `yaml:"address"`
	APIKey    string          `yaml:"api_key"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; only a malformed file is an error.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Server.APIURL == "" {
		return errors.New("server api_url is required")
	}
	if _, err := url.ParseRequestURI(c.Server.APIURL); err != nil {
		return fmt.Errorf("server api_url: %w", err)
	}
	if c.Server.BulkURL != "" {
		u, err := url.Parse(c.Server.BulkURL)
		if err != nil {
			return fmt.Errorf("server bulk_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("server bulk_url must use ws or wss, got %q", u.Scheme)
		}
	}
	if c.Sync.RateLimit.RPS < 0 {
		return errors.New("sync rate_limit rps must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "splitsync"
	}
	if c.Auth.UserID == "" {
		c.Auth.UserID = "me"
	}
	if c.Server.HTTPTimeout == 0 {
		c.Server.HTTPTimeout = 10 * time.Second
	}
	if c.Server.HealthURL == "" && c.Server.APIURL != "" {
		c.Server.HealthURL = c.Server.APIURL + "/health"
	}
	if c.Sync.Debounce == 0 {
		c.Sync.Debounce = models.DefaultDebounceMillis * time.Millisecond
	}
	if c.Sync.ReadTimeout == 0 {
		c.Sync.ReadTimeout = models.DefaultReadTimeoutMillis * time.Millisecond
	}
	if c.Sync.BulkTimeout == 0 {
		c.Sync.BulkTimeout = 30 * time.Second
	}
	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 15 * time.Second
	}
	if c.Sync.Retry.InitialDelay == 0 {
		c.Sync.Retry.InitialDelay = 2 * time.Second
	}
	if c.Sync.Retry.MaxDelay == 0 {
		c.Sync.Retry.MaxDelay = time.Minute
	}
	if c.Sync.Retry.BackoffFactor == 0 {
		c.Sync.Retry.BackoffFactor = 2
	}
	if c.Sync.RateLimit.RPS == 0 {
		c.Sync.RateLimit.RPS = 10
	}
	if c.Sync.RateLimit.Burst == 0 {
		c.Sync.RateLimit.Burst = 5
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = 30 * time.Second
	}
	if c.Redis.DeadLetterMax == 0 {
		c.Redis.DeadLetterMax = 500
	}
	if c.Backup.Enabled {
		if c.Backup.Dir == "" {
			c.Backup.Dir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
		}
		if c.Backup.Interval == 0 {
			c.Backup.Interval = 24 * time.Hour
		}
		if c.Backup.Keep == 0 {
			c.Backup.Keep = 7
		}
	}
	if c.Status.Enabled && c.Status.Address == "" {
		c.Status.Address = "127.0.0.1:8090"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

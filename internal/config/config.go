package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hpungsan/gather/internal/record"
)

// DefaultConfigFile is used when CONFIG_FILE is not set.
const DefaultConfigFile = "config/config.yaml"

// EnvPrefix is the prefix for environment overrides (e.g. GATHER_COLLECTION_INTERVAL).
const EnvPrefix = "gather"

// Config holds application configuration.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Collection CollectionConfig `mapstructure:"collection"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`

	// DataDirectory receives one JSON file per successful cycle.
	DataDirectory string `mapstructure:"data_directory"`

	// StateDirectory holds the SQLite state index (watermark, seen keys, cycle history).
	StateDirectory string `mapstructure:"state_directory"`
}

// APIConfig describes the remote data source.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// BaseURL overrides http://host:port when set.
	BaseURL  string `mapstructure:"base_url"`
	DataPath string `mapstructure:"data_path"`

	// Timeout is the per-request timeout in seconds.
	Timeout int `mapstructure:"timeout"`

	// LimitYn is sent as limitYn; "Y" asks the source to cap each response.
	LimitYn string `mapstructure:"limit_yn"`

	// RequestsPerSecond paces page requests. 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// CollectionConfig controls the collection cycle.
type CollectionConfig struct {
	// Interval between cycle starts, in seconds.
	Interval int `mapstructure:"interval"`

	// MaxRecords is the hard per-cycle ceiling across all pages.
	MaxRecords int `mapstructure:"max_records"`

	// InitialStart is the first window start (YYYY-MM-DDThh:mm:ss).
	// Empty means one hour before the first run.
	InitialStart string `mapstructure:"initial_start"`

	// RetentionCycles is how many commit generations a seen key is kept for.
	RetentionCycles int `mapstructure:"retention_cycles"`

	// KeyFields are the record fields projected into the dedup key.
	KeyFields []string `mapstructure:"key_fields"`

	// CycleTimeout bounds a single cycle's I/O, in seconds.
	CycleTimeout int `mapstructure:"cycle_timeout"`
}

// RetryConfig controls retries of transient remote failures within a cycle.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	InitialBackoffMS int `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `mapstructure:"max_backoff_ms"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`

	// MaxSizeMB rotates the log file once it reaches this size.
	MaxSizeMB int `mapstructure:"max_size_mb"`

	// MaxAgeDays removes rotated files older than this. 0 keeps them.
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// StatusConfig controls the read-only HTTP status server started by `gather run`.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
	Port    int    `mapstructure:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host:     "localhost",
			Port:     8000,
			DataPath: "/api/data",
			Timeout:  30,
			LimitYn:  record.LimitYes,
		},
		Collection: CollectionConfig{
			Interval:        300,
			MaxRecords:      50000,
			RetentionCycles: 288,
			KeyFields:       []string{"id"},
			CycleTimeout:    240,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     10000,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			File:       "logs/collector.log",
			MaxSizeMB:  10,
			MaxAgeDays: 7,
		},
		Status: StatusConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		DataDirectory:  "data/collected",
		StateDirectory: "data/state",
	}
}

// Path returns the config file path from CONFIG_FILE, or the default.
func Path() string {
	if p := strings.TrimSpace(os.Getenv("CONFIG_FILE")); p != "" {
		return p
	}
	return DefaultConfigFile
}

// Load loads configuration from a YAML file with GATHER_* env overrides.
// A missing file yields defaults (plus env overrides).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so env overrides apply even without a file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.host", d.API.Host)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.data_path", d.API.DataPath)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.limit_yn", d.API.LimitYn)
	v.SetDefault("api.requests_per_second", d.API.RequestsPerSecond)

	v.SetDefault("collection.interval", d.Collection.Interval)
	v.SetDefault("collection.max_records", d.Collection.MaxRecords)
	v.SetDefault("collection.initial_start", d.Collection.InitialStart)
	v.SetDefault("collection.retention_cycles", d.Collection.RetentionCycles)
	v.SetDefault("collection.key_fields", d.Collection.KeyFields)
	v.SetDefault("collection.cycle_timeout", d.Collection.CycleTimeout)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_backoff_ms", d.Retry.InitialBackoffMS)
	v.SetDefault("retry.max_backoff_ms", d.Retry.MaxBackoffMS)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("status.enabled", d.Status.Enabled)
	v.SetDefault("status.bind", d.Status.Bind)
	v.SetDefault("status.port", d.Status.Port)

	v.SetDefault("data_directory", d.DataDirectory)
	v.SetDefault("state_directory", d.StateDirectory)
}

// Validate checks invariants the collector relies on.
func (c *Config) Validate() error {
	if c.Collection.Interval <= 0 {
		return fmt.Errorf("collection.interval must be positive")
	}
	if c.Collection.MaxRecords <= 0 {
		return fmt.Errorf("collection.max_records must be positive")
	}
	if c.Collection.RetentionCycles < 1 {
		return fmt.Errorf("collection.retention_cycles must be at least 1")
	}
	if _, err := record.NewKeySpec(c.Collection.KeyFields); err != nil {
		return fmt.Errorf("collection.key_fields: %w", err)
	}
	if c.Collection.InitialStart != "" {
		if _, err := record.ParseAPITime(c.Collection.InitialStart); err != nil {
			return fmt.Errorf("collection.initial_start: %w", err)
		}
	}
	if c.API.LimitYn != record.LimitYes && c.API.LimitYn != record.LimitNo {
		return fmt.Errorf("api.limit_yn must be 'Y' or 'N'")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must not be negative")
	}
	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("logging.max_size_mb must be at least 1")
	}
	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging.max_age_days must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if strings.TrimSpace(c.DataDirectory) == "" {
		return fmt.Errorf("data_directory is required")
	}
	if strings.TrimSpace(c.StateDirectory) == "" {
		return fmt.Errorf("state_directory is required")
	}
	return nil
}

// SourceURL returns the full URL of the data endpoint.
func (c *Config) SourceURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", c.API.Host, c.API.Port)
	}
	return base + c.API.DataPath
}

// IntervalDuration returns the cycle interval.
func (c *Config) IntervalDuration() time.Duration {
	return time.Duration(c.Collection.Interval) * time.Second
}

// CycleTimeoutDuration returns the per-cycle I/O bound. Zero means unbounded.
func (c *Config) CycleTimeoutDuration() time.Duration {
	return time.Duration(c.Collection.CycleTimeout) * time.Second
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.Timeout) * time.Second
}

// InitialStartTime returns the configured first window start, or now-1h.
func (c *Config) InitialStartTime(now time.Time) time.Time {
	if c.Collection.InitialStart != "" {
		if t, err := record.ParseAPITime(c.Collection.InitialStart); err == nil {
			return t
		}
	}
	return now.Add(-time.Hour).Truncate(time.Second)
}

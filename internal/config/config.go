package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Hue             HueConfig         `yaml:"hue"`
	Light           LightConfig       `yaml:"light"`
	Database        DatabaseConfig    `yaml:"database"`
	Snapshot        SnapshotConfig    `yaml:"snapshot"`
	Log             LogConfig         `yaml:"log"`
	Webhook         WebhookConfig     `yaml:"webhook"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	KV              KVConfig          `yaml:"kv"`
	Image           ImageConfig       `yaml:"image"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HueConfig contains Hue bridge connection settings
type HueConfig struct {
	Bridge       string   `yaml:"bridge"`
	Token        string   `yaml:"token"`
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for Hue API requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Bridge requests per second (default: 10)

	// Event stream settings
	EventsEnabled   *bool    `yaml:"events_enabled"`    // Follow changes made outside huelight (default: true)
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)
}

// Events reports whether the bridge event stream should be followed.
func (c *HueConfig) Events() bool {
	return c.EventsEnabled == nil || *c.EventsEnabled
}

// LightConfig selects the light commands address by default
type LightConfig struct {
	ID         int  `yaml:"id"`          // Used when a command names no light (0 = none)
	ColorNamer bool `yaml:"colornamer"`  // Add the nearest colour name to status reports
	SkipEvents bool `yaml:"skip_events"` // Do not publish status events for commands
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SnapshotConfig contains pre-effect snapshot settings
type SnapshotConfig struct {
	Persistent bool     `yaml:"persistent"` // Keep snapshots in SQLite so restores survive restarts
	TTL        Duration `yaml:"ttl"`        // Drop snapshots older than this (0 = keep)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	Colors     bool   `yaml:"colors"`
	File       string `yaml:"file"`        // Also write JSON logs to this file (empty = disabled)
	MaxSizeMB  int    `yaml:"max_size_mb"` // Rotate the log file at this size (default: 10)
	MaxBackups int    `yaml:"max_backups"` // Rotated files to keep (default: 3)
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WebhookConfig contains HTTP command ingress settings
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns the ledger retention as a duration.
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// KVConfig contains key-value store settings
type KVConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"` // Expired entry sweep interval
}

// ImageConfig contains image colour extraction settings
type ImageConfig struct {
	Enabled *bool    `yaml:"enabled"` // default: true
	Timeout Duration `yaml:"timeout"` // Download timeout for image URLs
}

// IsEnabled reports whether image commands are accepted.
func (c *ImageConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data, expanding environment variables and
// applying defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./huelight.sqlite"
	}

	// Hue defaults
	if cfg.Hue.Timeout == 0 {
		cfg.Hue.Timeout = Duration(10 * time.Second)
	}
	if cfg.Hue.RateLimitRPS == 0 {
		cfg.Hue.RateLimitRPS = 10.0 // 10 requests per second
	}
	if cfg.Hue.MinRetryBackoff == 0 {
		cfg.Hue.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Hue.MaxRetryBackoff == 0 {
		cfg.Hue.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Hue.RetryMultiplier == 0 {
		cfg.Hue.RetryMultiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Webhook defaults
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8080
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	if cfg.KV.CleanupInterval == 0 {
		cfg.KV.CleanupInterval = Duration(time.Hour)
	}
	if cfg.Image.Timeout == 0 {
		cfg.Image.Timeout = Duration(10 * time.Second)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Hue.Bridge == "" {
		errs = append(errs, errors.New("hue.bridge is required"))
	}
	if cfg.Hue.Token == "" {
		errs = append(errs, errors.New("hue.token is required"))
	}
	if cfg.Light.ID < 0 {
		errs = append(errs, fmt.Errorf("light.id must not be negative, got %d", cfg.Light.ID))
	}
	if cfg.Hue.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("hue.rate_limit_rps must be positive, got %v", cfg.Hue.RateLimitRPS))
	}
	if cfg.Hue.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("hue.retry_multiplier must be at least 1, got %v", cfg.Hue.RetryMultiplier))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

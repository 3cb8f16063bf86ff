package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/tranche/runtime"
)

// Config represents a tranche.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Query      QueryConfig      `yaml:"query"`
	Storage    StorageConfig    `yaml:"storage"`
	Adapter    AdapterConfig    `yaml:"adapter"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig holds Bulk API connection settings.
type ConnectionConfig struct {
	InstanceURL       string   `yaml:"instance_url"`
	APIVersion        string   `yaml:"api_version"`
	AccessToken       string   `yaml:"access_token"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	Timeout           Duration `yaml:"timeout"`
}

// QueryConfig holds poll-loop and partitioning defaults.
type QueryConfig struct {
	CheckInterval  Duration `yaml:"check_interval"`
	TimeLimit      Duration `yaml:"time_limit"`
	BatchCount     int      `yaml:"batch_count"`
	GracePeriod    Duration `yaml:"grace_period"`
	MaxRestarts    int      `yaml:"max_restarts"`
	Parallelism    int      `yaml:"parallelism"`
	DateField      string   `yaml:"date_field"`
	SingleBatch    bool     `yaml:"single_batch"`
	FilenamePrefix string   `yaml:"filename_prefix"`
}

// StorageConfig holds payload storage settings.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion-notification settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "2h").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "", "fs", "s3", "memory":
	default:
		return fmt.Errorf("storage.backend must be fs, s3 or memory, got %q", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type)
	}
	if c.Connection.RequestsPerSecond < 0 {
		return fmt.Errorf("connection.requests_per_second must be >= 0, got %v", c.Connection.RequestsPerSecond)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	return c.RuntimeConfig().Validate()
}

// RuntimeConfig converts the query section to a runtime.Config.
// Zero values are left for runtime defaults to fill.
func (c *Config) RuntimeConfig() runtime.Config {
	q := c.Query
	return runtime.Config{
		CheckInterval: q.CheckInterval.Duration,
		TimeLimit:     q.TimeLimit.Duration,
		BatchCount:    q.BatchCount,
		GracePeriod:   q.GracePeriod.Duration,
		MaxRestarts:   q.MaxRestarts,
		Parallelism:   q.Parallelism,
		DateField:     q.DateField,
		SingleBatch:   q.SingleBatch,
	}
}

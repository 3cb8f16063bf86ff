// Package cmd provides CLI commands for the tranche binary.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	trancheconfig "github.com/pithecene-io/tranche/cli/config"
)

// FormatFlag selects output format: json, table, yaml.
var FormatFlag = &cli.StringFlag{
	Name:    "format",
	Aliases: []string{"f"},
	Usage:   "Output format: json, table, yaml",
}

// ConfigFlag points at a tranche.yaml file whose values act as flag defaults.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to tranche.yaml (CLI flags override file values)",
	EnvVars: []string{"TRANCHE_CONFIG"},
}

// ReadOnlyFlags returns the shared flags for commands that do not contact the remote service.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag}
}

// storageFlags are shared by every command that opens the payload store.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage-backend",
			Usage: "Payload storage backend: fs, s3 or memory",
		},
		&cli.StringFlag{
			Name:  "storage-path",
			Usage: "Storage path (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "storage-region",
			Usage: "AWS region for S3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "storage-endpoint",
			Usage: "Custom S3 endpoint for MinIO or R2",
		},
		&cli.BoolFlag{
			Name:  "storage-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
	}
}

// queryFlags are the connection, partitioning and notification flags of
// the commands that run a bulk query.
func queryFlags() []cli.Flag {
	flags := []cli.Flag{
		FormatFlag,
		ConfigFlag,
		&cli.StringFlag{
			Name:     "sobject",
			Aliases:  []string{"o"},
			Usage:    "Target object name",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "dir",
			Usage: "Key prefix payloads are written under",
		},
		&cli.TimestampFlag{
			Name:   "from",
			Usage:  "Inclusive range start (default: oldest record)",
			Layout: time.RFC3339,
		},
		&cli.TimestampFlag{
			Name:   "to",
			Usage:  "Exclusive range end (default: now)",
			Layout: time.RFC3339,
		},
		&cli.StringFlag{
			Name:  "query-id",
			Usage: "Query ID (default: generated)",
		},
		// Connection
		&cli.StringFlag{
			Name:    "instance-url",
			Usage:   "Org base URL, e.g. https://na1.salesforce.com",
			EnvVars: []string{"TRANCHE_INSTANCE_URL"},
		},
		&cli.StringFlag{
			Name:  "api-version",
			Usage: "Bulk API version",
		},
		&cli.StringFlag{
			Name:    "access-token",
			Usage:   "Session access token",
			EnvVars: []string{"TRANCHE_ACCESS_TOKEN"},
		},
		&cli.Float64Flag{
			Name:  "requests-per-second",
			Usage: "Request rate cap (0 = unlimited)",
		},
		// Poll loop
		&cli.DurationFlag{
			Name:  "check-interval",
			Usage: "Sleep between status checks",
		},
		&cli.DurationFlag{
			Name:  "time-limit",
			Usage: "Give up and return partial results after this long",
		},
		&cli.IntFlag{
			Name:  "batch-count",
			Usage: "Number of sub-ranges per job",
		},
		&cli.IntFlag{
			Name:  "max-restarts",
			Usage: "Restart depth for stalled jobs (0 uses the default of 3, negative disables)",
		},
		&cli.IntFlag{
			Name:  "parallelism",
			Usage: "Concurrent batch downloads per job",
		},
		&cli.StringFlag{
			Name:  "date-field",
			Usage: "Timestamp column used to partition the range",
		},
		&cli.BoolFlag{
			Name:  "single-batch",
			Usage: "Submit one batch instead of partitioning",
		},
		&cli.StringFlag{
			Name:  "filename-prefix",
			Usage: "Prefix of every payload file name",
		},
		// Adapter
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Completion notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or Redis URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-attempt notification timeout",
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Notification retry attempts",
		},
		// Logging
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress result output",
		},
	}
	return append(flags, storageFlags()...)
}

// loadConfig loads --config when set. A nil config means no file.
func loadConfig(c *cli.Context) (*trancheconfig.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, nil
	}
	return trancheconfig.Load(path)
}

// configVal reads a field from cfg, returning the zero value when cfg is nil.
func configVal[T any](cfg *trancheconfig.Config, get func(*trancheconfig.Config) T) T {
	if cfg == nil {
		var zero T
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set, then the config value, then the flag default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) || configValue == "" {
		return c.String(name)
	}
	return configValue
}

func resolveInt(c *cli.Context, name string, configValue int) int {
	if c.IsSet(name) || configValue == 0 {
		return c.Int(name)
	}
	return configValue
}

func resolveFloat(c *cli.Context, name string, configValue float64) float64 {
	if c.IsSet(name) || configValue == 0 {
		return c.Float64(name)
	}
	return configValue
}

func resolveBool(c *cli.Context, name string, configValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return configValue || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, configValue time.Duration) time.Duration {
	if c.IsSet(name) || configValue == 0 {
		return c.Duration(name)
	}
	return configValue
}

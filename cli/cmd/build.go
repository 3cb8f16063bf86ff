package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tranche/adapter"
	redisadapter "github.com/pithecene-io/tranche/adapter/redis"
	"github.com/pithecene-io/tranche/adapter/webhook"
	trancheconfig "github.com/pithecene-io/tranche/cli/config"
	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/iox"
	"github.com/pithecene-io/tranche/lode"
	"github.com/pithecene-io/tranche/log"
	"github.com/pithecene-io/tranche/runtime"
)

// storageChoice holds resolved payload storage configuration.
type storageChoice struct {
	backend   string // "fs", "s3" or "memory"
	path      string // fs: directory, s3: bucket/prefix
	region    string
	endpoint  string
	pathStyle bool
	prefix    string
}

func resolveStorage(c *cli.Context, cfg *trancheconfig.Config) storageChoice {
	return storageChoice{
		backend:   resolveString(c, "storage-backend", configVal(cfg, func(c *trancheconfig.Config) string { return c.Storage.Backend })),
		path:      resolveString(c, "storage-path", configVal(cfg, func(c *trancheconfig.Config) string { return c.Storage.Path })),
		region:    resolveString(c, "storage-region", configVal(cfg, func(c *trancheconfig.Config) string { return c.Storage.Region })),
		endpoint:  resolveString(c, "storage-endpoint", configVal(cfg, func(c *trancheconfig.Config) string { return c.Storage.Endpoint })),
		pathStyle: resolveBool(c, "storage-s3-path-style", configVal(cfg, func(c *trancheconfig.Config) bool { return c.Storage.S3PathStyle })),
	}
}

func validateStorage(s storageChoice) error {
	switch s.backend {
	case "":
		return errors.New("--storage-backend is required (fs, s3 or memory)")
	case "fs", "s3":
		if s.path == "" {
			return fmt.Errorf("--storage-path is required for the %s backend", s.backend)
		}
	case "memory":
	default:
		return fmt.Errorf("unknown --storage-backend %q (must be fs, s3 or memory)", s.backend)
	}
	if s.backend != "s3" && (s.region != "" || s.endpoint != "" || s.pathStyle) {
		fmt.Fprintf(os.Stderr, "Warning: S3 storage flags ignored for the %s backend\n", s.backend)
	}
	return nil
}

func buildStore(ctx context.Context, s storageChoice) (*lode.PayloadStore, error) {
	if err := validateStorage(s); err != nil {
		return nil, err
	}
	switch s.backend {
	case "fs":
		return lode.NewFSPayloadStore(s.path, s.prefix), nil
	case "s3":
		bucket, prefix := lode.ParseS3Path(s.path)
		return lode.NewS3PayloadStore(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       s.region,
			Endpoint:     s.endpoint,
			UsePathStyle: s.pathStyle,
		}, s.prefix)
	default:
		return lode.NewMemoryPayloadStore(s.prefix), nil
	}
}

// newConnection builds the remote collaborator. Tests replace it with a stub.
var newConnection = func(c *cli.Context, cfg *trancheconfig.Config) (connection.Connection, error) {
	return buildConnection(c, cfg)
}

func buildConnection(c *cli.Context, cfg *trancheconfig.Config) (*connection.Bulk, error) {
	conn := configVal(cfg, func(c *trancheconfig.Config) trancheconfig.ConnectionConfig { return c.Connection })

	instanceURL := resolveString(c, "instance-url", conn.InstanceURL)
	if instanceURL == "" {
		return nil, errors.New("--instance-url is required (or connection.instance_url in config)")
	}
	token := resolveString(c, "access-token", conn.AccessToken)
	if token == "" {
		return nil, errors.New("--access-token is required (or TRANCHE_ACCESS_TOKEN)")
	}

	return connection.NewBulk(connection.BulkConfig{
		InstanceURL:       instanceURL,
		APIVersion:        resolveString(c, "api-version", conn.APIVersion),
		TokenSource:       connection.NewStaticTokenSource(token),
		RequestsPerSecond: resolveFloat(c, "requests-per-second", conn.RequestsPerSecond),
		Burst:             conn.Burst,
		Timeout:           conn.Timeout.Duration,
	})
}

// buildAdapter returns nil when no adapter is configured.
func buildAdapter(c *cli.Context, cfg *trancheconfig.Config) (adapter.Adapter, error) {
	ac := configVal(cfg, func(c *trancheconfig.Config) trancheconfig.AdapterConfig { return c.Adapter })

	kind := resolveString(c, "adapter", ac.Type)
	if kind == "" {
		return nil, nil
	}
	url := resolveString(c, "adapter-url", ac.URL)
	if url == "" {
		return nil, fmt.Errorf("--adapter-url is required for the %s adapter", kind)
	}
	timeout := resolveDuration(c, "adapter-timeout", ac.Timeout.Duration)
	retries := c.Int("adapter-retries")
	if !c.IsSet("adapter-retries") && ac.Retries != nil {
		retries = *ac.Retries
	}

	switch kind {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     url,
			Headers: ac.Headers,
			Timeout: timeout,
			Retries: retries,
		})
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     url,
			Channel: resolveString(c, "adapter-channel", ac.Channel),
			Timeout: timeout,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown --adapter %q (must be webhook or redis)", kind)
	}
}

// resolveRuntimeConfig overlays query flags on the config file's query section.
func resolveRuntimeConfig(c *cli.Context, cfg *trancheconfig.Config) runtime.Config {
	var rc runtime.Config
	if cfg != nil {
		rc = cfg.RuntimeConfig()
	}
	rc.CheckInterval = resolveDuration(c, "check-interval", rc.CheckInterval)
	rc.TimeLimit = resolveDuration(c, "time-limit", rc.TimeLimit)
	rc.BatchCount = resolveInt(c, "batch-count", rc.BatchCount)
	rc.MaxRestarts = resolveInt(c, "max-restarts", rc.MaxRestarts)
	rc.Parallelism = resolveInt(c, "parallelism", rc.Parallelism)
	rc.DateField = resolveString(c, "date-field", rc.DateField)
	rc.SingleBatch = resolveBool(c, "single-batch", rc.SingleBatch)
	return rc
}

func buildLogger(c *cli.Context, cfg *trancheconfig.Config, w io.Writer) *log.Logger {
	level := resolveString(c, "log-level", configVal(cfg, func(c *trancheconfig.Config) string { return c.Log.Level }))
	return log.NewLoggerWithLevel(w, level)
}

// queryOptions builds per-call options from flags.
func queryOptions(c *cli.Context) runtime.QueryOptions {
	opts := runtime.QueryOptions{
		DirectoryPath: c.String("dir"),
		QueryID:       c.String("query-id"),
	}
	if from := c.Timestamp("from"); from != nil {
		opts.From = *from
	}
	if to := c.Timestamp("to"); to != nil {
		opts.To = *to
	}
	if opts.DirectoryPath == "" {
		opts.DirectoryPath = c.String("sobject")
	}
	return opts
}

// session bundles the collaborators of one query command.
type session struct {
	client  *runtime.Client
	adapter adapter.Adapter
	logger  *log.Logger
}

func (s *session) Close() {
	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			s.logger.Warn("adapter close failed", map[string]any{"error": err.Error()})
		}
	}
	iox.DiscardErr(s.logger.Sync)
}

// newSession resolves config and flags and builds a runtime client.
func newSession(ctx context.Context, c *cli.Context) (*session, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	storage := resolveStorage(c, cfg)
	storage.prefix = resolveString(c, "filename-prefix", configVal(cfg, func(c *trancheconfig.Config) string { return c.Query.FilenamePrefix }))
	store, err := buildStore(ctx, storage)
	if err != nil {
		return nil, err
	}

	conn, err := newConnection(c, cfg)
	if err != nil {
		return nil, err
	}

	ad, err := buildAdapter(c, cfg)
	if err != nil {
		return nil, err
	}

	logger := buildLogger(c, cfg, os.Stderr)
	client, err := runtime.NewClient(runtime.ClientConfig{
		Connection:     conn,
		Store:          store,
		Config:         resolveRuntimeConfig(c, cfg),
		Logger:         logger,
		Adapter:        ad,
		StorageBackend: storage.backend,
	})
	if err != nil {
		if ad != nil {
			_ = ad.Close()
		}
		return nil, err
	}
	return &session{client: client, adapter: ad, logger: logger}, nil
}

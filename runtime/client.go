package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/tranche/adapter"
	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/lode"
	"github.com/pithecene-io/tranche/log"
	"github.com/pithecene-io/tranche/metrics"
	"github.com/pithecene-io/tranche/types"
)

// Store persists batch payloads and query manifests.
type Store interface {
	PayloadWriter
	WriteManifest(ctx context.Context, m *lode.Manifest) (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Connection is the remote collaborator (required).
	Connection connection.Connection
	// Store receives payloads and manifests (required).
	Store Store
	// Config controls partitioning, polling, and restarts.
	// Zero fields take their defaults.
	Config Config
	// Clock overrides the system clock (for testing).
	Clock Clock
	// Logger receives poll-loop events. If nil, nothing is logged.
	Logger *log.Logger
	// Adapter, when set, is notified once per query call.
	Adapter adapter.Adapter
	// StorageBackend labels metrics snapshots ("fs", "s3", "memory").
	StorageBackend string
}

// QueryOptions are per-call options.
type QueryOptions struct {
	// DirectoryPath is the key prefix payloads are stored under.
	DirectoryPath string
	// From is the inclusive range start. Zero means the oldest record.
	From time.Time
	// To is the exclusive range end. Zero means now.
	To time.Time
	// CheckInterval overrides Config.CheckInterval when positive.
	CheckInterval time.Duration
	// TimeLimit overrides Config.TimeLimit when positive.
	TimeLimit time.Duration
	// QueryID overrides the generated query ID.
	QueryID string
}

// Client runs bulk queries to completion or until their time limit.
type Client struct {
	conn    connection.Connection
	store   Store
	cfg     Config
	clock   Clock
	logger  *log.Logger
	adapter adapter.Adapter
	backend string
}

// NewClient creates a Client.
func NewClient(cc ClientConfig) (*Client, error) {
	if cc.Connection == nil {
		return nil, errors.New("client requires a connection")
	}
	if cc.Store == nil {
		return nil, errors.New("client requires a store")
	}
	if err := cc.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Client{
		conn:    cc.Connection,
		store:   cc.Store,
		cfg:     cc.Config.withDefaults(),
		clock:   cc.Clock,
		logger:  cc.Logger,
		adapter: cc.Adapter,
		backend: cc.StorageBackend,
	}
	if c.clock == nil {
		c.clock = SystemClock()
	}
	if c.logger == nil {
		c.logger = log.NewNop()
	}
	return c, nil
}

// Query runs soql against sobject and blocks until every batch is
// downloaded, the time limit passes, or ctx is canceled.
//
// The result is non-nil whenever the query was started. On time limit
// expiry the result has TimedOut set and lists the batches that were not
// downloaded; this is not an error. On cancellation the partial result is
// returned together with ctx.Err().
func (c *Client) Query(ctx context.Context, sobject, soql string, opts QueryOptions) (*types.Result, error) {
	if soql == "" {
		return nil, errors.New("query text is required")
	}
	q, err := c.StartQuery(ctx, sobject, soql, opts)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, q, opts)
}

// QueryFields is Query with a query selecting every queryable field of sobject.
func (c *Client) QueryFields(ctx context.Context, sobject string, opts QueryOptions) (*types.Result, error) {
	q, err := c.start(ctx, sobject, opts, func(ctx context.Context, q *Query, r types.TimeRange) error {
		return q.StartWithFields(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, q, opts)
}

// StartQuery starts soql against sobject and returns without polling.
// When sobject holds no records in the requested range the returned Query
// has no jobs and reports finished on its first status check.
func (c *Client) StartQuery(ctx context.Context, sobject, soql string, opts QueryOptions) (*Query, error) {
	return c.start(ctx, sobject, opts, func(ctx context.Context, q *Query, r types.TimeRange) error {
		return q.Start(ctx, soql, r)
	})
}

type startFunc func(ctx context.Context, q *Query, r types.TimeRange) error

func (c *Client) start(ctx context.Context, sobject string, opts QueryOptions, startFn startFunc) (*Query, error) {
	if sobject == "" {
		return nil, errors.New("sobject is required")
	}

	meta := types.NewQueryMeta(sobject)
	if opts.QueryID != "" {
		meta.QueryID = opts.QueryID
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query metadata: %w", err)
	}

	cfg := c.cfg
	if opts.CheckInterval > 0 {
		cfg.CheckInterval = opts.CheckInterval
	}
	if opts.TimeLimit > 0 {
		cfg.TimeLimit = opts.TimeLimit
	}

	logger := c.logger.WithQuery(meta)
	collector := metrics.NewCollector(sobject, meta.QueryID, c.backend)
	collector.IncQueryStarted()
	q := newQuery(c.conn, cfg, c.clock, logger, collector, meta)

	r, ok, err := c.resolveRange(ctx, sobject, cfg.DateField, opts)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.Info("no records to query", map[string]any{"date_field": cfg.DateField})
		return q, nil
	}

	if err := startFn(ctx, q, r); err != nil {
		return nil, err
	}
	logger.Info("query started", map[string]any{
		"range":   r.String(),
		"batches": len(q.jobs[0].batches),
	})
	return q, nil
}

// resolveRange fills a zero From with the oldest record timestamp and a
// zero To with now. ok is false when the object holds no records before
// To.
func (c *Client) resolveRange(ctx context.Context, sobject, dateField string, opts QueryOptions) (r types.TimeRange, ok bool, err error) {
	r = types.TimeRange{Start: opts.From, Stop: opts.To}
	if r.Stop.IsZero() {
		r.Stop = c.clock.Now()
	}
	if r.Start.IsZero() {
		earliest, found, err := c.conn.EarliestTimestamp(ctx, sobject, dateField)
		if err != nil {
			return types.TimeRange{}, false, fmt.Errorf("find oldest %s.%s: %w", sobject, dateField, err)
		}
		if !found {
			return types.TimeRange{}, false, nil
		}
		if !earliest.Before(r.Stop) {
			return types.TimeRange{}, false, nil
		}
		r.Start = earliest
	}
	if r.Empty() {
		return types.TimeRange{}, false, fmt.Errorf("%s: %w", r, ErrInvalidRange)
	}
	return r, true, nil
}

// poll runs the check/download/sleep loop for a started query.
func (c *Client) poll(ctx context.Context, q *Query, opts QueryOptions) (*types.Result, error) {
	for {
		q.collector.IncPoll()
		if q.CheckStatus(ctx).Finished {
			return c.finish(ctx, q, opts.DirectoryPath, false), nil
		}

		elapsed := c.clock.Now().Sub(q.startedAt)
		if elapsed > q.cfg.TimeLimit {
			q.collector.IncQueryTimedOut()
			q.logger.Warn("time limit reached", map[string]any{
				"elapsed":    elapsed.String(),
				"time_limit": q.cfg.TimeLimit.String(),
			})
			return c.finish(ctx, q, opts.DirectoryPath, true), nil
		}

		q.GetResultOrRestart(ctx, c.store, opts.DirectoryPath)

		q.logger.Debug("waiting for batches", map[string]any{"interval": q.cfg.CheckInterval.String()})
		if err := c.clock.Sleep(ctx, q.cfg.CheckInterval); err != nil {
			q.logger.Warn("query canceled", map[string]any{"error": err.Error()})
			return c.finish(context.WithoutCancel(ctx), q, opts.DirectoryPath, false), err
		}
	}
}

// finish runs the final results pass and assembles the envelope. Manifest
// and adapter failures are logged and do not affect the result.
func (c *Client) finish(ctx context.Context, q *Query, directory string, timedOut bool) *types.Result {
	qr := q.GetResults(ctx, c.store, directory)
	completedAt := c.clock.Now()

	res := &types.Result{
		QueryID:           q.ID(),
		SObject:           q.SObject(),
		Filenames:         qr.Filenames,
		UnfinishedBatches: qr.Unfinished,
		DoneJobs:          qr.DoneJobs,
		TimedOut:          timedOut,
		SomeFailed:        q.SomeFailed(),
		Restarts:          q.Restarts(),
		Duration:          completedAt.Sub(q.startedAt),
	}
	q.collector.IncQueryCompleted()

	manifestPath, err := c.store.WriteManifest(ctx, &lode.Manifest{
		ManifestVersion: types.ManifestVersion,
		QueryID:         res.QueryID,
		SObject:         res.SObject,
		Query:           q.SOQL(),
		Range:           q.Range(),
		StartedAt:       q.startedAt,
		CompletedAt:     completedAt,
		Result:          res,
		Jobs:            q.Jobs(),
		Metrics:         q.collector.Snapshot(),
	})
	if err != nil {
		q.logger.Warn("manifest write failed", map[string]any{"error": err.Error()})
	}

	if c.adapter != nil {
		event := adapter.NewQueryCompletedEvent(res, manifestPath, completedAt)
		if err := c.adapter.Publish(ctx, event); err != nil {
			q.logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
		}
	}

	q.logger.Info("query finished", map[string]any{
		"files":       len(res.Filenames),
		"unfinished":  len(res.UnfinishedBatches),
		"done_jobs":   len(res.DoneJobs),
		"timed_out":   res.TimedOut,
		"some_failed": res.SomeFailed,
		"restarts":    res.Restarts,
		"duration":    res.Duration.String(),
	})
	return res
}

package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/log"
	"github.com/pithecene-io/tranche/metrics"
	"github.com/pithecene-io/tranche/types"
)

// QueryResults aggregates one results pass across a query's jobs.
type QueryResults struct {
	// Filenames lists stored payload locations. Payloads salvaged from
	// retired jobs come first, then live jobs in creation order.
	Filenames []string
	// Unfinished lists batches that were not downloaded.
	Unfinished []types.BatchInfo
	// DoneJobs lists live jobs whose batches were all downloaded.
	DoneJobs []types.JobInfo
}

// Query orchestrates the jobs of one user-level query call. It starts with
// one job and gains more when stalled work is restarted.
type Query struct {
	conn      connection.Connection
	cfg       Config
	clock     Clock
	logger    *log.Logger
	collector *metrics.Collector
	meta      *types.QueryMeta

	soql      string
	rng       types.TimeRange
	startedAt time.Time

	// jobs holds every job in creation order, retired ones included.
	jobs []*Job
	// salvaged holds payloads downloaded from retired jobs.
	salvaged []string
	// orphaned holds batches whose replacement could not be submitted.
	orphaned   []types.BatchInfo
	someFailed bool
	restarts   int
}

func newQuery(conn connection.Connection, cfg Config, clock Clock, logger *log.Logger, collector *metrics.Collector, meta *types.QueryMeta) *Query {
	return &Query{
		conn:      conn,
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		collector: collector,
		meta:      meta,
		startedAt: clock.Now(),
	}
}

// FieldsQuery builds a query selecting fields from sobject.
func FieldsQuery(sobject string, fields []string) string {
	return "SELECT " + strings.Join(fields, ", ") + " FROM " + sobject
}

// Start creates the first job for soql over r and submits its batches.
// Submission failures are returned immediately.
func (q *Query) Start(ctx context.Context, soql string, r types.TimeRange) error {
	if r.Empty() {
		return fmt.Errorf("%s: %w", r, ErrInvalidRange)
	}
	q.soql = soql
	q.rng = r
	_, err := q.startJob(ctx, r, q.cfg.SingleBatch, 0)
	return err
}

// StartWithFields is Start with a query selecting every queryable field.
func (q *Query) StartWithFields(ctx context.Context, r types.TimeRange) error {
	fields, err := q.conn.DescribeFields(ctx, q.meta.SObject)
	if err != nil {
		return fmt.Errorf("describe %s: %w", q.meta.SObject, err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("describe %s: no queryable fields", q.meta.SObject)
	}
	return q.Start(ctx, FieldsQuery(q.meta.SObject, fields), r)
}

// startJob creates a job over r, submits its batches, and closes it.
// The job is tracked as soon as it exists remotely.
func (q *Query) startJob(ctx context.Context, r types.TimeRange, single bool, generation int) (*Job, error) {
	job := newJob(q.conn, q.cfg, q.clock, q.logger, q.collector, q.meta.SObject, generation)
	if err := job.Create(ctx); err != nil {
		return nil, err
	}
	q.jobs = append(q.jobs, job)

	err := job.GenerateBatches(ctx, q.soql, r, single)
	job.Close(ctx)
	return job, err
}

// CheckStatus checks every live job. The query is finished when all of them
// are. A failed status check is logged and counts as not finished.
func (q *Query) CheckStatus(ctx context.Context) Status {
	status := Status{Finished: true}
	for _, job := range q.live() {
		st, err := job.CheckStatus(ctx)
		if err != nil {
			q.collector.IncStatusFailure()
			q.logger.Warn("job status failed", map[string]any{
				"job_id": job.ID(),
				"error":  err.Error(),
			})
			status.Finished = false
			continue
		}
		if !st.Finished {
			status.Finished = false
		}
		if st.SomeFailed {
			q.someFailed = true
		}
	}
	status.SomeFailed = q.someFailed
	return status
}

// GetResults downloads whatever is ready across all live jobs and
// aggregates filenames, unfinished batches, and done jobs.
func (q *Query) GetResults(ctx context.Context, store PayloadWriter, directory string) QueryResults {
	res := QueryResults{
		Filenames:  append([]string{}, q.salvaged...),
		Unfinished: []types.BatchInfo{},
		DoneJobs:   []types.JobInfo{},
	}
	for _, job := range q.live() {
		jr := job.GetResults(ctx, store, directory)
		res.Filenames = append(res.Filenames, jr.Filenames...)
		res.Unfinished = append(res.Unfinished, jr.Unfinished...)
		if jr.Done() {
			res.DoneJobs = append(res.DoneJobs, job.Info())
		}
	}
	res.Unfinished = append(res.Unfinished, q.orphaned...)
	return res
}

// GetResultOrRestart runs between poll ticks. Each stalled job has its
// ready batches downloaded; if some remain unfinished and the restart
// limit allows, the job is retired and each unfinished batch is replaced by
// a new job that re-partitions that batch's range.
func (q *Query) GetResultOrRestart(ctx context.Context, store PayloadWriter, directory string) {
	for _, job := range q.live() {
		jr, ok := job.GetAvailableResults(ctx, store, directory)
		if !ok || jr.Done() {
			continue
		}
		if q.cfg.MaxRestarts < 0 || job.generation >= q.cfg.MaxRestarts {
			q.logger.Debug("stalled job not restarted", map[string]any{
				"job_id":     job.ID(),
				"generation": job.generation,
				"unfinished": len(jr.Unfinished),
			})
			continue
		}
		q.restart(ctx, job, jr)
	}
}

func (q *Query) restart(ctx context.Context, job *Job, jr JobResults) {
	job.retire()
	q.salvaged = append(q.salvaged, jr.Filenames...)
	q.collector.IncRestart()
	q.logger.Info("restarting stalled job", map[string]any{
		"job_id":     job.ID(),
		"downloaded": len(jr.Filenames),
		"unfinished": len(jr.Unfinished),
	})

	for _, b := range jr.Unfinished {
		replacement, err := q.startJob(ctx, b.Range, false, job.generation+1)
		if err != nil {
			q.logger.Error("restart submission failed", map[string]any{
				"batch_id": b.BatchID,
				"range":    b.Range.String(),
				"error":    err.Error(),
			})
			if replacement != nil {
				replacement.retire()
			}
			q.orphaned = append(q.orphaned, b)
			continue
		}
		q.restarts++
	}
}

// live returns the jobs that have not been retired.
func (q *Query) live() []*Job {
	out := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if !job.retired {
			out = append(out, job)
		}
	}
	return out
}

// ID returns the query ID.
func (q *Query) ID() string { return q.meta.QueryID }

// SObject returns the target object name.
func (q *Query) SObject() string { return q.meta.SObject }

// SOQL returns the query text before range filtering.
func (q *Query) SOQL() string { return q.soql }

// Range returns the overall time range.
func (q *Query) Range() types.TimeRange { return q.rng }

// Restarts returns the number of replacement jobs submitted.
func (q *Query) Restarts() int { return q.restarts }

// SomeFailed reports whether any status check saw failed records.
func (q *Query) SomeFailed() bool { return q.someFailed }

// Jobs returns snapshots of every job, retired ones included.
func (q *Query) Jobs() []types.JobInfo {
	out := make([]types.JobInfo, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = job.Info()
	}
	return out
}

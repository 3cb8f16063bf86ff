package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/log"
	"github.com/pithecene-io/tranche/metrics"
	"github.com/pithecene-io/tranche/types"
)

// PayloadWriter stores batch payloads under deterministic keys.
type PayloadWriter interface {
	WritePayload(ctx context.Context, directory, jobID, batchID string, payload io.Reader) (string, error)
}

// Status is the outcome of a job or query status check.
type Status struct {
	Finished   bool
	SomeFailed bool
}

// JobResults is the outcome of one results pass over a job's batches.
type JobResults struct {
	// Filenames lists stored payload locations in batch order.
	Filenames []string
	// Unfinished lists batches that were not downloaded in this pass.
	Unfinished []types.BatchInfo
}

// Done reports whether every batch has been downloaded.
func (r JobResults) Done() bool {
	return len(r.Unfinished) == 0
}

// Job owns the batches of one remote job.
type Job struct {
	conn      connection.Connection
	cfg       Config
	clock     Clock
	logger    *log.Logger
	collector *metrics.Collector

	id         string
	sobject    string
	generation int
	batches    []*Batch

	completed int
	total     int
	finished  bool
	closedAt  time.Time
	retired   bool
}

func newJob(conn connection.Connection, cfg Config, clock Clock, logger *log.Logger, collector *metrics.Collector, sobject string, generation int) *Job {
	return &Job{
		conn:       conn,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		collector:  collector,
		sobject:    sobject,
		generation: generation,
	}
}

// Create submits the job and records its remote ID.
func (j *Job) Create(ctx context.Context) error {
	id, err := j.conn.SubmitJob(ctx, j.sobject)
	if err != nil {
		return fmt.Errorf("submit job for %s: %w", j.sobject, err)
	}
	if id == "" {
		return connection.NewTransportError(connection.ErrMalformedResponse, "submit_job",
			fmt.Errorf("response for %s omitted job id", j.sobject))
	}
	j.id = id
	j.logger = j.logger.With("job_id", id)
	j.collector.IncJobCreated()
	j.logger.Info("job created", map[string]any{"generation": j.generation})
	return nil
}

// GenerateBatches submits one batch per sub-range of r, in ascending order.
// With single set, exactly one batch covers r.
func (j *Job) GenerateBatches(ctx context.Context, query string, r types.TimeRange, single bool) error {
	ranges := []types.TimeRange{r}
	if !single {
		ranges = Partition(r, j.cfg.BatchCount)
	}

	for _, sub := range ranges {
		soql := ExtendQuery(query, j.cfg.DateField, sub)
		b := newBatch(j.conn, j.id, j.sobject, soql, sub)
		if err := b.Create(ctx); err != nil {
			return err
		}
		j.batches = append(j.batches, b)
		j.collector.IncBatchSubmitted()
		j.logger.Debug("batch submitted", map[string]any{
			"batch_id": b.ID(),
			"query":    soql,
		})
	}
	return nil
}

// Close marks the remote job closed. A failure is logged and otherwise
// ignored: closing affects remote accounting only. The close time is
// recorded either way so stall detection still applies.
func (j *Job) Close(ctx context.Context) {
	j.closedAt = j.clock.Now()
	if err := j.conn.CloseJob(ctx, j.id); err != nil {
		j.collector.IncCloseFailure()
		j.logger.Warn("close job failed", map[string]any{"error": err.Error()})
		return
	}
	j.collector.IncJobClosed()
}

// CheckStatus fetches the remote counters. Finished is strict equality of
// the remote completed and total counts in this response; local batch state
// is not consulted.
func (j *Job) CheckStatus(ctx context.Context) (Status, error) {
	st, err := j.conn.GetJobStatus(ctx, j.id)
	if err != nil {
		return Status{}, fmt.Errorf("job %s status: %w", j.id, err)
	}
	j.completed = st.Completed
	j.total = st.Total
	j.finished = st.Completed == st.Total
	return Status{
		Finished:   j.finished,
		SomeFailed: st.FailedRecords > 0 || st.Failed > 0,
	}, nil
}

// GetResults checks every batch and downloads those that are finished.
// Batches that are not finished, or whose status check or download fails,
// are reported unfinished. Safe to call repeatedly: downloaded batches are
// not fetched again.
func (j *Job) GetResults(ctx context.Context, store PayloadWriter, directory string) JobResults {
	filenames := make([]string, len(j.batches))

	if j.cfg.Parallelism > 1 && len(j.batches) > 1 {
		var g errgroup.Group
		g.SetLimit(j.cfg.Parallelism)
		for i, b := range j.batches {
			g.Go(func() error {
				filenames[i] = j.collect(ctx, b, store, directory)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, b := range j.batches {
			filenames[i] = j.collect(ctx, b, store, directory)
		}
	}

	var res JobResults
	for i, name := range filenames {
		if name == "" {
			res.Unfinished = append(res.Unfinished, j.batches[i].Info())
			continue
		}
		res.Filenames = append(res.Filenames, name)
	}
	return res
}

// collect runs the status check and download for one batch and returns
// the stored location, or "" when the batch is not available.
func (j *Job) collect(ctx context.Context, b *Batch, store PayloadWriter, directory string) string {
	if b.Downloaded() {
		return b.filename
	}

	finished, _, err := b.CheckStatus(ctx)
	if err != nil {
		j.collector.IncStatusFailure()
		j.logger.Warn("batch status failed", map[string]any{
			"batch_id": b.ID(),
			"error":    err.Error(),
		})
		return ""
	}
	if !finished {
		return ""
	}

	filename, err := b.GetResult(ctx, store, directory)
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			j.collector.IncDownloadFailure()
		}
		j.logger.Warn("batch download failed", map[string]any{
			"batch_id": b.ID(),
			"error":    err.Error(),
		})
		return ""
	}
	j.collector.IncBatchDownloaded()
	return filename
}

// GetAvailableResults runs GetResults only when the job is stalled: closed
// for at least the grace period, not finished, and with at least one
// completed batch. ok reports whether the pass ran.
func (j *Job) GetAvailableResults(ctx context.Context, store PayloadWriter, directory string) (res JobResults, ok bool) {
	if j.State() != types.JobStalled {
		return JobResults{}, false
	}
	return j.GetResults(ctx, store, directory), true
}

// State derives the job's state from its latest observations.
func (j *Job) State() types.JobState {
	obs := JobObservation{
		Retired:     j.retired,
		Closed:      !j.closedAt.IsZero(),
		GracePeriod: j.cfg.GracePeriod,
		Finished:    j.finished,
		Completed:   j.completed,
	}
	if obs.Closed {
		obs.ClosedFor = j.clock.Now().Sub(j.closedAt)
	}
	return NextJobState(obs)
}

// retire marks the job replaced. Retired jobs are no longer polled.
func (j *Job) retire() {
	j.retired = true
}

// ID returns the remote job ID, empty before Create.
func (j *Job) ID() string { return j.id }

// Batches returns the job's batches in submission order.
func (j *Job) Batches() []*Batch { return j.batches }

// Info returns a snapshot of the job.
func (j *Job) Info() types.JobInfo {
	info := types.JobInfo{
		JobID:     j.id,
		SObject:   j.sobject,
		State:     j.State(),
		Completed: j.completed,
		Total:     j.total,
		ClosedAt:  j.closedAt,
		Batches:   make([]types.BatchInfo, len(j.batches)),
	}
	for i, b := range j.batches {
		info.Batches[i] = b.Info()
	}
	return info
}

// Package metrics provides per-query metrics collection.
//
// The Collector accumulates counters during a single query call. It is a
// leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so callers never need to guard a missing collector.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Query lifecycle
	QueriesStarted   int64 `json:"queries_started" msgpack:"queries_started"`
	QueriesCompleted int64 `json:"queries_completed" msgpack:"queries_completed"`
	QueriesTimedOut  int64 `json:"queries_timed_out" msgpack:"queries_timed_out"`
	Polls            int64 `json:"polls" msgpack:"polls"`

	// Jobs
	JobsCreated   int64 `json:"jobs_created" msgpack:"jobs_created"`
	JobsClosed    int64 `json:"jobs_closed" msgpack:"jobs_closed"`
	CloseFailures int64 `json:"close_failures" msgpack:"close_failures"`
	Restarts      int64 `json:"restarts" msgpack:"restarts"`

	// Batches
	BatchesSubmitted  int64 `json:"batches_submitted" msgpack:"batches_submitted"`
	BatchesDownloaded int64 `json:"batches_downloaded" msgpack:"batches_downloaded"`
	DownloadFailures  int64 `json:"download_failures" msgpack:"download_failures"`
	StatusFailures    int64 `json:"status_failures" msgpack:"status_failures"`

	// Dimensions (informational, set at construction)
	SObject        string `json:"sobject" msgpack:"sobject"`
	QueryID        string `json:"query_id" msgpack:"query_id"`
	StorageBackend string `json:"storage_backend" msgpack:"storage_backend"`
}

// Collector accumulates metrics during a single query call.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sobject, queryID, storageBackend string) *Collector {
	return &Collector{s: Snapshot{
		SObject:        sobject,
		QueryID:        queryID,
		StorageBackend: storageBackend,
	}}
}

func (c *Collector) add(field func(*Snapshot) *int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(&c.s)++
	c.mu.Unlock()
}

// --- Query lifecycle ---

// IncQueryStarted records a query start.
func (c *Collector) IncQueryStarted() { c.add(func(s *Snapshot) *int64 { return &s.QueriesStarted }) }

// IncQueryCompleted records a query that finished before its time limit.
func (c *Collector) IncQueryCompleted() {
	c.add(func(s *Snapshot) *int64 { return &s.QueriesCompleted })
}

// IncQueryTimedOut records a query cut short by its time limit.
func (c *Collector) IncQueryTimedOut() { c.add(func(s *Snapshot) *int64 { return &s.QueriesTimedOut }) }

// IncPoll records one poll-loop tick.
func (c *Collector) IncPoll() { c.add(func(s *Snapshot) *int64 { return &s.Polls }) }

// --- Jobs ---

// IncJobCreated records a job created on the remote side.
func (c *Collector) IncJobCreated() { c.add(func(s *Snapshot) *int64 { return &s.JobsCreated }) }

// IncJobClosed records a successful close request.
func (c *Collector) IncJobClosed() { c.add(func(s *Snapshot) *int64 { return &s.JobsClosed }) }

// IncCloseFailure records a failed close request. Close failures are non-fatal.
func (c *Collector) IncCloseFailure() { c.add(func(s *Snapshot) *int64 { return &s.CloseFailures }) }

// IncRestart records a replacement job submitted for stalled work.
func (c *Collector) IncRestart() { c.add(func(s *Snapshot) *int64 { return &s.Restarts }) }

// --- Batches ---

// IncBatchSubmitted records a batch accepted by the remote side.
func (c *Collector) IncBatchSubmitted() {
	c.add(func(s *Snapshot) *int64 { return &s.BatchesSubmitted })
}

// IncBatchDownloaded records a payload written to storage.
// Repeated results passes over an already downloaded batch do not count.
func (c *Collector) IncBatchDownloaded() {
	c.add(func(s *Snapshot) *int64 { return &s.BatchesDownloaded })
}

// IncDownloadFailure records a failed payload fetch or write.
func (c *Collector) IncDownloadFailure() {
	c.add(func(s *Snapshot) *int64 { return &s.DownloadFailures })
}

// IncStatusFailure records a failed job or batch status check.
func (c *Collector) IncStatusFailure() { c.add(func(s *Snapshot) *int64 { return &s.StatusFailures }) }

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

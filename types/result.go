package types

import (
	"fmt"
	"time"
)

// TimeRange is a half-open interval [Start, Stop).
type TimeRange struct {
	Start time.Time `json:"start" msgpack:"start"`
	Stop  time.Time `json:"stop" msgpack:"stop"`
}

// Duration returns Stop - Start.
func (r TimeRange) Duration() time.Duration {
	return r.Stop.Sub(r.Start)
}

// Empty reports whether the range contains no instants.
func (r TimeRange) Empty() bool {
	return !r.Start.Before(r.Stop)
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339Nano), r.Stop.UTC().Format(time.RFC3339Nano))
}

// BatchInfo is an immutable snapshot of a batch for results and logs.
type BatchInfo struct {
	BatchID  string     `json:"batch_id" msgpack:"batch_id"`
	JobID    string     `json:"job_id" msgpack:"job_id"`
	SObject  string     `json:"sobject" msgpack:"sobject"`
	Query    string     `json:"query" msgpack:"query"`
	Range    TimeRange  `json:"range" msgpack:"range"`
	State    BatchState `json:"state" msgpack:"state"`
	Filename string     `json:"filename,omitempty" msgpack:"filename,omitempty"`
}

// JobInfo is an immutable snapshot of a job for results and logs.
type JobInfo struct {
	JobID     string      `json:"job_id" msgpack:"job_id"`
	SObject   string      `json:"sobject" msgpack:"sobject"`
	State     JobState    `json:"state" msgpack:"state"`
	Completed int         `json:"completed" msgpack:"completed"`
	Total     int         `json:"total" msgpack:"total"`
	ClosedAt  time.Time   `json:"closed_at" msgpack:"closed_at"`
	Batches   []BatchInfo `json:"batches,omitempty" msgpack:"batches,omitempty"`
}

// Result is the envelope returned by a top-level query call.
// It is built once per call and not mutated afterwards.
type Result struct {
	QueryID string `json:"query_id" msgpack:"query_id"`
	SObject string `json:"sobject" msgpack:"sobject"`
	// Filenames lists downloaded payload locations in download order.
	Filenames []string `json:"filenames" msgpack:"filenames"`
	// UnfinishedBatches lists batches that were not downloaded.
	// Callers must inspect it rather than assume full completion.
	UnfinishedBatches []BatchInfo `json:"unfinished_batches" msgpack:"unfinished_batches"`
	// DoneJobs lists jobs whose results were folded into this envelope.
	DoneJobs []JobInfo `json:"done_jobs" msgpack:"done_jobs"`
	// TimedOut is set when the time limit cut the poll loop short.
	TimedOut bool `json:"timed_out" msgpack:"timed_out"`
	// SomeFailed is set when the remote side reported failed records.
	SomeFailed bool `json:"some_failed" msgpack:"some_failed"`
	// Restarts counts replacement jobs submitted for stalled work.
	Restarts int `json:"restarts" msgpack:"restarts"`
	// Duration is the wall time of the call.
	Duration time.Duration `json:"duration" msgpack:"duration"`
}

// Complete reports whether every batch was downloaded within the time limit.
func (r *Result) Complete() bool {
	return !r.TimedOut && len(r.UnfinishedBatches) == 0
}

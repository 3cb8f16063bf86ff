// Package adapter defines the boundary for publishing query completion
// notifications to downstream systems.
//
// The poll loop owns adapter lifecycle: it publishes exactly one event per
// query call after the result envelope is assembled. Publish failures are
// logged by the caller and never change the returned result.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/tranche/types"
)

// EventTypeQueryCompleted is the event_type of every published event.
const EventTypeQueryCompleted = "query_completed"

// QueryCompletedEvent is the payload published when a query call returns.
type QueryCompletedEvent struct {
	Version         string `json:"version"`
	EventType       string `json:"event_type"` // always "query_completed"
	QueryID         string `json:"query_id"`
	SObject         string `json:"sobject"`
	FileCount       int    `json:"file_count"`
	UnfinishedCount int    `json:"unfinished_count"`
	DoneJobCount    int    `json:"done_job_count"`
	Restarts        int    `json:"restarts"`
	TimedOut        bool   `json:"timed_out"`
	SomeFailed      bool   `json:"some_failed"`
	ManifestPath    string `json:"manifest_path,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	DurationMs      int64  `json:"duration_ms"`
}

// NewQueryCompletedEvent builds the event for a finished query call.
func NewQueryCompletedEvent(res *types.Result, manifestPath string, at time.Time) *QueryCompletedEvent {
	return &QueryCompletedEvent{
		Version:         types.Version,
		EventType:       EventTypeQueryCompleted,
		QueryID:         res.QueryID,
		SObject:         res.SObject,
		FileCount:       len(res.Filenames),
		UnfinishedCount: len(res.UnfinishedBatches),
		DoneJobCount:    len(res.DoneJobs),
		Restarts:        res.Restarts,
		TimedOut:        res.TimedOut,
		SomeFailed:      res.SomeFailed,
		ManifestPath:    manifestPath,
		Timestamp:       at.UTC().Format(time.RFC3339),
		DurationMs:      res.Duration.Milliseconds(),
	}
}

// Adapter publishes query completion events to a downstream system.
type Adapter interface {
	// Publish sends a query completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *QueryCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BackoffBase is the delay before the first retry. Each later retry
// doubles it.
var BackoffBase = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx is done or when permanent reports the
// error as non-retriable. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, fn func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BackoffBase
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}

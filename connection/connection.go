// Package connection defines the remote collaborator contract consumed by
// the orchestration core, plus two implementations: an in-memory Stub for
// tests and Bulk, which speaks the Salesforce Bulk API (async, XML, v1).
//
// The core never issues HTTP requests itself. Every remote interaction goes
// through the Connection interface so that orchestration behavior can be
// tested without a network.
package connection

import (
	"context"
	"io"
	"time"

	"github.com/pithecene-io/tranche/types"
)

// JobStatus is the remote view of a job's progress.
type JobStatus struct {
	// Completed is the number of batches the remote side finished.
	Completed int
	// Total is the number of batches the remote side knows about.
	Total int
	// Failed is the number of batches the remote side gave up on.
	Failed int
	// FailedRecords is the number of records that failed processing.
	FailedRecords int
}

// Connection is the narrow interface the core calls into.
//
// Submission calls (SubmitJob, SubmitBatch) return *TransportError on failure
// and callers propagate them. CloseJob is best effort. Status and payload
// calls may fail transiently; the core treats such failures as "not ready".
type Connection interface {
	// SubmitJob creates a query job for sobject and returns its remote ID.
	SubmitJob(ctx context.Context, sobject string) (string, error)

	// CloseJob marks the job closed once all batches are submitted.
	CloseJob(ctx context.Context, jobID string) error

	// GetJobStatus fetches the job's batch counters.
	GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error)

	// SubmitBatch submits query as a new batch of jobID and returns the batch ID.
	SubmitBatch(ctx context.Context, jobID, query string) (string, error)

	// GetBatchStatus fetches the remote state of a batch.
	GetBatchStatus(ctx context.Context, jobID, batchID string) (types.BatchState, error)

	// FetchBatchPayload streams the finished batch's result payload.
	// The caller must close the returned reader.
	FetchBatchPayload(ctx context.Context, jobID, batchID string) (io.ReadCloser, error)

	// DescribeFields lists the queryable scalar field names of sobject.
	DescribeFields(ctx context.Context, sobject string) ([]string, error)

	// EarliestTimestamp returns the oldest value of dateField across sobject.
	// ok is false when the object holds no records.
	EarliestTimestamp(ctx context.Context, sobject, dateField string) (ts time.Time, ok bool, err error)
}

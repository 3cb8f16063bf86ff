package runtime

import (
	"context"
	"fmt"

	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/iox"
	"github.com/pithecene-io/tranche/types"
)

// Batch is one asynchronous sub-query covering a sub-range of its job's range.
// A Batch is owned by exactly one Job.
type Batch struct {
	conn    connection.Connection
	id      string
	jobID   string
	sobject string
	query   string
	rng     types.TimeRange

	state    types.BatchState
	filename string
}

func newBatch(conn connection.Connection, jobID, sobject, query string, rng types.TimeRange) *Batch {
	return &Batch{
		conn:    conn,
		jobID:   jobID,
		sobject: sobject,
		query:   query,
		rng:     rng,
		state:   types.BatchCreated,
	}
}

// Create submits the sub-query and records the remote batch ID.
func (b *Batch) Create(ctx context.Context) error {
	id, err := b.conn.SubmitBatch(ctx, b.jobID, b.query)
	if err != nil {
		return fmt.Errorf("submit batch for job %s: %w", b.jobID, err)
	}
	if id == "" {
		return connection.NewTransportError(connection.ErrMalformedResponse, "submit_batch",
			fmt.Errorf("response for job %s omitted batch id", b.jobID))
	}
	b.id = id
	b.state = types.BatchQueued
	return nil
}

// CheckStatus fetches the remote state of the batch.
func (b *Batch) CheckStatus(ctx context.Context) (finished, failed bool, err error) {
	if b.filename != "" {
		return true, false, nil
	}
	state, err := b.conn.GetBatchStatus(ctx, b.jobID, b.id)
	if err != nil {
		return false, false, fmt.Errorf("batch %s status: %w", b.id, err)
	}
	b.state = state
	return state.Finished(), state.Failed(), nil
}

// GetResult downloads the batch payload into directory and returns its
// location. The location is cached: later calls return it without
// downloading again. Calling GetResult before CheckStatus reported the batch
// finished returns ErrNotReady.
func (b *Batch) GetResult(ctx context.Context, store PayloadWriter, directory string) (string, error) {
	if b.filename != "" {
		return b.filename, nil
	}
	if !b.state.Finished() {
		return "", fmt.Errorf("batch %s is %s: %w", b.id, b.state, ErrNotReady)
	}

	rc, err := b.conn.FetchBatchPayload(ctx, b.jobID, b.id)
	if err != nil {
		return "", fmt.Errorf("fetch batch %s: %w", b.id, err)
	}
	defer iox.DiscardClose(rc)

	filename, err := store.WritePayload(ctx, directory, b.jobID, b.id, rc)
	if err != nil {
		return "", fmt.Errorf("store batch %s: %w", b.id, err)
	}
	b.filename = filename
	return filename, nil
}

// ID returns the remote batch ID, empty before Create.
func (b *Batch) ID() string { return b.id }

// Range returns the sub-range the batch covers.
func (b *Batch) Range() types.TimeRange { return b.rng }

// Downloaded reports whether the payload has been stored.
func (b *Batch) Downloaded() bool { return b.filename != "" }

// Info returns a snapshot of the batch.
func (b *Batch) Info() types.BatchInfo {
	return types.BatchInfo{
		BatchID:  b.id,
		JobID:    b.jobID,
		SObject:  b.sobject,
		Query:    b.query,
		Range:    b.rng,
		State:    b.state,
		Filename: b.filename,
	}
}

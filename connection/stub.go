package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/tranche/types"
)

// StubMode selects how Stub batches progress.
type StubMode int

const (
	// StubManual leaves batches Queued until CompleteBatch/FailBatch is called.
	StubManual StubMode = iota
	// StubCompleteImmediately reports every batch Completed.
	StubCompleteImmediately
	// StubNeverComplete reports every batch InProgress forever.
	StubNeverComplete
)

// Stub is an in-memory Connection for tests.
// All methods are safe for concurrent use.
type Stub struct {
	mu sync.Mutex

	mode    StubMode
	nextJob int
	nextBat int
	jobs    map[string]*stubJob
	batches map[string]*stubBatch
	calls   map[string]int

	// Error injection. Each field, when non-nil, is returned by the
	// corresponding call.
	SubmitJobErr    error
	CloseJobErr     error
	JobStatusErr    error
	SubmitBatchErr  error
	BatchStatusErr  error
	FetchPayloadErr error

	// FailedRecords is reported in every job status.
	FailedRecords int

	// Fields is returned by DescribeFields.
	Fields []string
	// Earliest is returned by EarliestTimestamp; zero means "no records".
	Earliest time.Time
}

type stubJob struct {
	sobject  string
	closed   bool
	batchIDs []string
	// override, when set, replaces the computed counters.
	override *JobStatus
}

type stubBatch struct {
	jobID string
	query string
	state types.BatchState
}

// NewStub creates a stub collaborator in the given mode.
func NewStub(mode StubMode) *Stub {
	return &Stub{
		mode:    mode,
		jobs:    make(map[string]*stubJob),
		batches: make(map[string]*stubBatch),
		calls:   make(map[string]int),
	}
}

// SetMode changes how batches progress from now on.
func (s *Stub) SetMode(mode StubMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// SubmitJob implements Connection.
func (s *Stub) SubmitJob(_ context.Context, sobject string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["submit_job"]++
	if s.SubmitJobErr != nil {
		return "", s.SubmitJobErr
	}
	s.nextJob++
	id := fmt.Sprintf("750stub%06d", s.nextJob)
	s.jobs[id] = &stubJob{sobject: sobject}
	return id, nil
}

// CloseJob implements Connection.
func (s *Stub) CloseJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["close_job"]++
	if s.CloseJobErr != nil {
		return s.CloseJobErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return NewTransportError(ErrRemote, "close_job", fmt.Errorf("unknown job %s", jobID))
	}
	job.closed = true
	return nil
}

// GetJobStatus implements Connection.
func (s *Stub) GetJobStatus(_ context.Context, jobID string) (*JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_job_status"]++
	if s.JobStatusErr != nil {
		return nil, s.JobStatusErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, NewTransportError(ErrRemote, "get_job_status", fmt.Errorf("unknown job %s", jobID))
	}
	if job.override != nil {
		st := *job.override
		return &st, nil
	}

	st := &JobStatus{Total: len(job.batchIDs), FailedRecords: s.FailedRecords}
	for _, id := range job.batchIDs {
		switch s.stateLocked(id) {
		case types.BatchCompleted:
			st.Completed++
		case types.BatchFailed:
			st.Failed++
		}
	}
	return st, nil
}

// SubmitBatch implements Connection.
func (s *Stub) SubmitBatch(_ context.Context, jobID, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["submit_batch"]++
	if s.SubmitBatchErr != nil {
		return "", s.SubmitBatchErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return "", NewTransportError(ErrRemote, "submit_batch", fmt.Errorf("unknown job %s", jobID))
	}
	s.nextBat++
	id := fmt.Sprintf("751stub%06d", s.nextBat)
	s.batches[id] = &stubBatch{jobID: jobID, query: query, state: types.BatchQueued}
	job.batchIDs = append(job.batchIDs, id)
	return id, nil
}

// GetBatchStatus implements Connection.
func (s *Stub) GetBatchStatus(_ context.Context, _, batchID string) (types.BatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_batch_status"]++
	if s.BatchStatusErr != nil {
		return "", s.BatchStatusErr
	}
	if _, ok := s.batches[batchID]; !ok {
		return "", NewTransportError(ErrRemote, "get_batch_status", fmt.Errorf("unknown batch %s", batchID))
	}
	return s.stateLocked(batchID), nil
}

// FetchBatchPayload implements Connection.
// The payload is a one-column CSV naming the job and batch.
func (s *Stub) FetchBatchPayload(_ context.Context, jobID, batchID string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["fetch_batch_payload"]++
	if s.FetchPayloadErr != nil {
		return nil, s.FetchPayloadErr
	}
	if s.stateLocked(batchID) != types.BatchCompleted {
		return nil, NewTransportError(ErrRemote, "fetch_batch_payload", fmt.Errorf("batch %s not completed", batchID))
	}
	payload := fmt.Sprintf("\"Id\"\n\"%s-%s\"\n", jobID, batchID)
	return io.NopCloser(bytes.NewBufferString(payload)), nil
}

// DescribeFields implements Connection.
func (s *Stub) DescribeFields(_ context.Context, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["describe_fields"]++
	return append([]string(nil), s.Fields...), nil
}

// EarliestTimestamp implements Connection.
func (s *Stub) EarliestTimestamp(_ context.Context, _, _ string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["earliest_timestamp"]++
	return s.Earliest, !s.Earliest.IsZero(), nil
}

// CompleteBatch marks a batch Completed (StubManual mode).
func (s *Stub) CompleteBatch(batchID string) {
	s.setState(batchID, types.BatchCompleted)
}

// FailBatch marks a batch Failed (StubManual mode).
func (s *Stub) FailBatch(batchID string) {
	s.setState(batchID, types.BatchFailed)
}

// CompleteAll marks every known batch Completed.
func (s *Stub) CompleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		b.state = types.BatchCompleted
	}
}

// SetJobStatus pins the counters GetJobStatus reports for jobID,
// independent of batch states.
func (s *Stub) SetJobStatus(jobID string, st JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		job.override = &st
	}
}

// Calls returns how many times op was invoked (e.g. "submit_batch").
func (s *Stub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// JobIDs returns the submitted job IDs in submission order.
func (s *Stub) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for i := 1; i <= s.nextJob; i++ {
		id := fmt.Sprintf("750stub%06d", i)
		if _, ok := s.jobs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// BatchIDs returns the batch IDs of jobID in submission order.
func (s *Stub) BatchIDs(jobID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return append([]string(nil), job.batchIDs...)
}

// BatchQuery returns the query text submitted for batchID.
func (s *Stub) BatchQuery(batchID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok {
		return b.query
	}
	return ""
}

// JobClosed reports whether CloseJob succeeded for jobID.
func (s *Stub) JobClosed(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	return ok && job.closed
}

func (s *Stub) setState(batchID string, state types.BatchState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok {
		b.state = state
	}
}

// stateLocked returns the effective state of a batch. Callers hold s.mu.
func (s *Stub) stateLocked(batchID string) types.BatchState {
	b, ok := s.batches[batchID]
	if !ok {
		return ""
	}
	switch s.mode {
	case StubCompleteImmediately:
		return types.BatchCompleted
	case StubNeverComplete:
		return types.BatchInProgress
	default:
		return b.state
	}
}

// Verify Stub implements Connection.
var _ Connection = (*Stub)(nil)

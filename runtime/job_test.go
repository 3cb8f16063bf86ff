package runtime

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/lode"
	"github.com/pithecene-io/tranche/types"
)

func TestJob_GenerateBatches(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	job := startedJob(t, stub, testConfig(), newFakeClock())

	ids := stub.BatchIDs(job.ID())
	if len(ids) != 3 || len(job.Batches()) != 3 {
		t.Fatalf("got %d remote / %d local batches, want 3", len(ids), len(job.Batches()))
	}
	wantQueries := []string{
		"SELECT Id FROM Account WHERE CreatedDate >= 2026-01-01T00:00:00.000Z AND CreatedDate < 2026-01-01T08:00:00.000Z",
		"SELECT Id FROM Account WHERE CreatedDate >= 2026-01-01T08:00:00.000Z AND CreatedDate < 2026-01-01T16:00:00.000Z",
		"SELECT Id FROM Account WHERE CreatedDate >= 2026-01-01T16:00:00.000Z AND CreatedDate < 2026-01-02T00:00:00.000Z",
	}
	for i, id := range ids {
		if got := stub.BatchQuery(id); got != wantQueries[i] {
			t.Errorf("batch %d query = %q, want %q", i, got, wantQueries[i])
		}
		if job.Batches()[i].ID() != id {
			t.Errorf("batch %d id = %s, want %s", i, job.Batches()[i].ID(), id)
		}
	}
	if !stub.JobClosed(job.ID()) {
		t.Error("job was not closed")
	}
	if job.State() != types.JobClosed {
		t.Errorf("state = %s, want Closed", job.State())
	}
}

func TestJob_GenerateBatches_Single(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	cfg := testConfig()
	cfg.SingleBatch = true
	job := startedJob(t, stub, cfg, newFakeClock())

	ids := stub.BatchIDs(job.ID())
	if len(ids) != 1 {
		t.Fatalf("got %d batches, want 1", len(ids))
	}
	if !strings.HasSuffix(stub.BatchQuery(ids[0]), "CreatedDate < 2026-01-02T00:00:00.000Z") {
		t.Errorf("single batch query = %q", stub.BatchQuery(ids[0]))
	}
}

func TestJob_CreateErrors(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	stub.SubmitJobErr = connection.NewTransportError(connection.ErrAuth, "submit_job", errors.New("INVALID_SESSION_ID"))

	job := newTestJob(stub, testConfig(), newFakeClock())
	err := job.Create(t.Context())
	if !errors.Is(err, connection.ErrAuth) || !connection.IsTransportError(err) {
		t.Errorf("err = %v, want auth transport error", err)
	}
}

func TestJob_SubmitBatchErrorPropagates(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	stub.SubmitBatchErr = connection.NewTransportError(connection.ErrNetwork, "submit_batch", errors.New("connection reset"))

	job := newTestJob(stub, testConfig(), newFakeClock())
	if err := job.Create(t.Context()); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := job.GenerateBatches(t.Context(), "SELECT Id FROM Account", day(), false)
	if !errors.Is(err, connection.ErrNetwork) {
		t.Errorf("err = %v, want network error", err)
	}
	if stub.Calls("submit_batch") != 1 {
		t.Errorf("submit_batch calls = %d, want 1 (fail fast)", stub.Calls("submit_batch"))
	}
}

func TestJob_CloseFailureIsNonFatal(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	stub.CloseJobErr = connection.NewTransportError(connection.ErrRemote, "close_job", errors.New("boom"))
	clock := newFakeClock()

	job := startedJob(t, stub, testConfig(), clock)

	if job.State() != types.JobClosed {
		t.Errorf("state = %s, want Closed after failed close", job.State())
	}
	if !job.Info().ClosedAt.Equal(clock.Now()) {
		t.Errorf("closed at = %v, want %v", job.Info().ClosedAt, clock.Now())
	}
}

func TestJob_CheckStatus_TrustsLatestCounts(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	job := startedJob(t, stub, testConfig(), newFakeClock())

	// Remote says done while every local batch is still Queued.
	stub.SetJobStatus(job.ID(), connection.JobStatus{Completed: 3, Total: 3})
	st, err := job.CheckStatus(t.Context())
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if !st.Finished {
		t.Error("expected finished when completed == total")
	}

	// Remote regresses; the previous answer must not stick.
	stub.SetJobStatus(job.ID(), connection.JobStatus{Completed: 2, Total: 3, FailedRecords: 5})
	st, err = job.CheckStatus(t.Context())
	if err != nil {
		t.Fatalf("check status: %v", err)
	}
	if st.Finished {
		t.Error("expected not finished when completed != total")
	}
	if !st.SomeFailed {
		t.Error("expected some_failed with failed records")
	}
}

func TestJob_CheckStatus_Error(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	job := startedJob(t, stub, testConfig(), newFakeClock())
	stub.JobStatusErr = connection.NewTransportError(connection.ErrNetwork, "get_job_status", errors.New("timeout"))

	if _, err := job.CheckStatus(t.Context()); !errors.Is(err, connection.ErrNetwork) {
		t.Errorf("err = %v, want network error", err)
	}
}

func TestJob_GetResults_Idempotent(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	store := lode.NewMemoryPayloadStore("")
	job := startedJob(t, stub, testConfig(), newFakeClock())
	ids := stub.BatchIDs(job.ID())
	stub.CompleteBatch(ids[0])
	stub.CompleteBatch(ids[2])

	first := job.GetResults(t.Context(), store, "out")
	second := job.GetResults(t.Context(), store, "out")

	if !slices.Equal(first.Filenames, second.Filenames) {
		t.Errorf("filenames changed: %v vs %v", first.Filenames, second.Filenames)
	}
	if len(first.Filenames) != 2 {
		t.Fatalf("got %d filenames, want 2", len(first.Filenames))
	}
	if len(first.Unfinished) != 1 || len(second.Unfinished) != 1 || first.Unfinished[0].BatchID != ids[1] {
		t.Errorf("unfinished = %v / %v, want [%s]", first.Unfinished, second.Unfinished, ids[1])
	}
	if got := stub.Calls("fetch_batch_payload"); got != 2 {
		t.Errorf("payload fetched %d times, want 2", got)
	}
	wantFirst := "mem:/out/" + job.ID() + "_" + ids[0] + ".csv"
	if first.Filenames[0] != wantFirst {
		t.Errorf("filename = %q, want %q", first.Filenames[0], wantFirst)
	}

	// Later progress is picked up by a repeated call.
	stub.CompleteBatch(ids[1])
	third := job.GetResults(t.Context(), store, "out")
	if len(third.Filenames) != 3 || !third.Done() {
		t.Errorf("third pass = %+v, want 3 files and done", third)
	}
}

func TestJob_GetResults_FailuresAreNotReady(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*connection.Stub)
	}{
		{"status", func(s *connection.Stub) {
			s.BatchStatusErr = connection.NewTransportError(connection.ErrNetwork, "get_batch_status", errors.New("reset"))
		}},
		{"download", func(s *connection.Stub) {
			s.FetchPayloadErr = connection.NewTransportError(connection.ErrRemote, "fetch_batch_payload", errors.New("gone"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := connection.NewStub(connection.StubCompleteImmediately)
			job := startedJob(t, stub, testConfig(), newFakeClock())
			tt.inject(stub)

			res := job.GetResults(t.Context(), lode.NewMemoryPayloadStore(""), "")
			if len(res.Filenames) != 0 || len(res.Unfinished) != 3 {
				t.Errorf("got %d files, %d unfinished; want 0, 3", len(res.Filenames), len(res.Unfinished))
			}
		})
	}
}

func TestJob_GetResults_ParallelKeepsOrder(t *testing.T) {
	sequential := connection.NewStub(connection.StubCompleteImmediately)
	parallel := connection.NewStub(connection.StubCompleteImmediately)

	cfg := DefaultConfig()
	seqJob := startedJob(t, sequential, cfg, newFakeClock())
	cfg.Parallelism = 4
	parJob := startedJob(t, parallel, cfg, newFakeClock())

	seq := seqJob.GetResults(t.Context(), lode.NewMemoryPayloadStore(""), "")
	par := parJob.GetResults(t.Context(), lode.NewMemoryPayloadStore(""), "")

	if len(par.Filenames) != 15 {
		t.Fatalf("got %d files, want 15", len(par.Filenames))
	}
	// Both stubs hand out identical IDs, so the locations must match exactly.
	if !slices.Equal(seq.Filenames, par.Filenames) {
		t.Errorf("parallel order differs:\n%v\n%v", seq.Filenames, par.Filenames)
	}
}

func TestBatch_GetResultBeforeFinished(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	job := startedJob(t, stub, testConfig(), newFakeClock())

	_, err := job.Batches()[0].GetResult(t.Context(), lode.NewMemoryPayloadStore(""), "")
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
	if stub.Calls("fetch_batch_payload") != 0 {
		t.Error("payload fetched before batch finished")
	}
}

func TestJob_GetAvailableResults_Guard(t *testing.T) {
	stub := connection.NewStub(connection.StubManual)
	store := lode.NewMemoryPayloadStore("")
	clock := newFakeClock()
	job := startedJob(t, stub, testConfig(), clock)
	ids := stub.BatchIDs(job.ID())

	// Nothing completed yet, even past the grace period.
	clock.Advance(time.Hour)
	if _, err := job.CheckStatus(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, ok := job.GetAvailableResults(t.Context(), store, ""); ok {
		t.Error("ran with zero completed batches")
	}

	// Progress, but a fresh job within its grace period.
	fresh := startedJob(t, stub, testConfig(), clock)
	for _, id := range stub.BatchIDs(fresh.ID())[:1] {
		stub.CompleteBatch(id)
	}
	if _, err := fresh.CheckStatus(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, ok := fresh.GetAvailableResults(t.Context(), store, ""); ok {
		t.Error("ran within grace period")
	}

	// Stalled: past grace, partial progress.
	stub.CompleteBatch(ids[0])
	if _, err := job.CheckStatus(t.Context()); err != nil {
		t.Fatal(err)
	}
	if job.State() != types.JobStalled {
		t.Fatalf("state = %s, want Stalled", job.State())
	}
	res, ok := job.GetAvailableResults(t.Context(), store, "")
	if !ok || len(res.Filenames) != 1 || len(res.Unfinished) != 2 {
		t.Errorf("stalled pass = %+v ok=%v", res, ok)
	}

	// Finished: nothing to do.
	stub.CompleteAll()
	if _, err := job.CheckStatus(t.Context()); err != nil {
		t.Fatal(err)
	}
	if _, ok := job.GetAvailableResults(t.Context(), store, ""); ok {
		t.Error("ran for a finished job")
	}
}

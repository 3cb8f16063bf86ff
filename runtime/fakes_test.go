package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/tranche/adapter"
	"github.com/pithecene-io/tranche/connection"
	"github.com/pithecene-io/tranche/lode"
	"github.com/pithecene-io/tranche/log"
	"github.com/pithecene-io/tranche/types"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances only when Sleep is called or Advance is used.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sleeps)
}

// recordingAdapter captures published events.
type recordingAdapter struct {
	mu     sync.Mutex
	events []*adapter.QueryCompletedEvent
	err    error
}

func (a *recordingAdapter) Publish(_ context.Context, event *adapter.QueryCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return a.err
}

func (a *recordingAdapter) Close() error { return nil }

func day() types.TimeRange {
	return types.TimeRange{Start: epoch, Stop: epoch.Add(24 * time.Hour)}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchCount = 3
	return cfg
}

func newTestJob(conn connection.Connection, cfg Config, clock Clock) *Job {
	return newJob(conn, cfg.withDefaults(), clock, log.NewNop(), nil, "Account", 0)
}

func newTestQuery(conn connection.Connection, cfg Config, clock Clock) *Query {
	return newQuery(conn, cfg.withDefaults(), clock, log.NewNop(), nil, types.NewQueryMeta("Account"))
}

// startedJob creates a job over day() with batches submitted and closed.
func startedJob(t *testing.T, stub *connection.Stub, cfg Config, clock Clock) *Job {
	t.Helper()
	job := newTestJob(stub, cfg, clock)
	if err := job.Create(t.Context()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := job.GenerateBatches(t.Context(), "SELECT Id FROM Account", day(), cfg.SingleBatch); err != nil {
		t.Fatalf("generate batches: %v", err)
	}
	job.Close(t.Context())
	return job
}

func newTestClient(t *testing.T, stub *connection.Stub, cfg Config, clock Clock) (*Client, *lode.PayloadStore) {
	t.Helper()
	store := lode.NewMemoryPayloadStore("")
	c, err := NewClient(ClientConfig{
		Connection:     stub,
		Store:          store,
		Config:         cfg,
		Clock:          clock,
		StorageBackend: "memory",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, store
}

func mustMemoryStore() *lode.PayloadStore {
	return lode.NewMemoryPayloadStore("")
}

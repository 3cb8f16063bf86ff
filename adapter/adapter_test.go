package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pithecene-io/tranche/types"
)

func TestRetry(t *testing.T) {
	BackoffBase = time.Millisecond
	errBoom := errors.New("boom")
	errFatal := errors.New("fatal")
	permanent := func(err error) bool { return errors.Is(err, errFatal) }

	tests := []struct {
		name      string
		failures  []error
		retries   int
		wantCalls int
		wantErr   error
	}{
		{"first try", nil, 3, 1, nil},
		{"recovers", []error{errBoom, errBoom}, 3, 3, nil},
		{"exhausted", []error{errBoom, errBoom, errBoom}, 2, 3, errBoom},
		{"permanent", []error{errFatal}, 3, 1, errFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(t.Context(), "test", tt.retries, permanent, func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	called := false
	err := Retry(ctx, "test", 3, nil, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestNewQueryCompletedEvent(t *testing.T) {
	res := &types.Result{
		QueryID:           "q-1",
		SObject:           "Contact",
		Filenames:         []string{"a.csv", "b.csv"},
		UnfinishedBatches: []types.BatchInfo{{BatchID: "751x"}},
		SomeFailed:        true,
		Restarts:          1,
		Duration:          2500 * time.Millisecond,
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))

	ev := NewQueryCompletedEvent(res, "mem:/manifests/q-1.msgpack", at)

	if ev.EventType != EventTypeQueryCompleted || ev.Version != types.Version {
		t.Errorf("header = %q %q", ev.EventType, ev.Version)
	}
	if ev.FileCount != 2 || ev.UnfinishedCount != 1 || !ev.SomeFailed || ev.Restarts != 1 {
		t.Errorf("counts = %+v", ev)
	}
	if ev.Timestamp != "2026-03-01T08:00:00Z" || ev.DurationMs != 2500 {
		t.Errorf("timestamp = %q duration = %d", ev.Timestamp, ev.DurationMs)
	}
}

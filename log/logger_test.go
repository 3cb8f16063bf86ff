package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pithecene-io/tranche/types"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	meta := &types.QueryMeta{QueryID: "q-1", SObject: "Account"}
	l := NewLoggerWithLevel(&buf, "debug").WithQuery(meta).With("job_id", "750A")

	l.Info("job created", map[string]any{"batches": 15})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["message"] != "job created" || e["level"] != "info" {
		t.Errorf("entry = %v", e)
	}
	if e["query_id"] != "q-1" || e["sobject"] != "Account" || e["job_id"] != "750A" {
		t.Errorf("context fields missing: %v", e)
	}
	fields, ok := e["fields"].(map[string]any)
	if !ok || fields["batches"] != float64(15) {
		t.Errorf("fields = %v", e["fields"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithLevel(&buf, "warn")

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "shown" {
		t.Errorf("entries = %v", entries)
	}
}

func TestLogger_WithQuery(t *testing.T) {
	tests := []struct {
		name        string
		meta        *types.QueryMeta
		wantQueryID any
		wantSObject any
	}{
		{name: "tagged", meta: &types.QueryMeta{QueryID: "q-2", SObject: "Lead"}, wantQueryID: "q-2", wantSObject: "Lead"},
		{name: "nil meta", meta: nil, wantQueryID: nil, wantSObject: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := NewLoggerWithLevel(&buf, "info")
			base.WithQuery(tt.meta).Info("tagged", nil)
			base.Info("untagged", nil)

			entries := decodeLines(t, &buf)
			if len(entries) != 2 {
				t.Fatalf("got %d entries, want 2", len(entries))
			}
			if entries[0]["query_id"] != tt.wantQueryID || entries[0]["sobject"] != tt.wantSObject {
				t.Errorf("tagged entry = %v", entries[0])
			}
			if _, ok := entries[1]["query_id"]; ok {
				t.Errorf("base logger gained query fields: %v", entries[1])
			}
		})
	}
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("discarded", map[string]any{"k": "v"})
	l.WithQuery(types.NewQueryMeta("Account")).Warn("discarded", nil)
	if err := l.Sync(); err != nil {
		t.Errorf("sync: %v", err)
	}
}

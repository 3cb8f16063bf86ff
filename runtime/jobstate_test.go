package runtime

import (
	"testing"
	"time"

	"github.com/pithecene-io/tranche/types"
)

func TestNextJobState(t *testing.T) {
	grace := 10 * time.Minute
	tests := []struct {
		name string
		obs  JobObservation
		want types.JobState
	}{
		{"not closed", JobObservation{GracePeriod: grace}, types.JobActive},
		{"closed within grace", JobObservation{Closed: true, ClosedFor: time.Minute, GracePeriod: grace, Completed: 3}, types.JobClosed},
		{"closed past grace", JobObservation{Closed: true, ClosedFor: grace, GracePeriod: grace, Completed: 1}, types.JobStalled},
		{"past grace with no progress", JobObservation{Closed: true, ClosedFor: time.Hour, GracePeriod: grace}, types.JobClosed},
		{"finished", JobObservation{Closed: true, ClosedFor: time.Hour, GracePeriod: grace, Finished: true, Completed: 15}, types.JobFinished},
		{"finished before close observed", JobObservation{Finished: true}, types.JobFinished},
		{"retired wins", JobObservation{Retired: true, Finished: true}, types.JobRetired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextJobState(tt.obs); got != tt.want {
				t.Errorf("NextJobState() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	got := Config{BatchCount: 4, MaxRestarts: -1}.withDefaults()

	if got.BatchCount != 4 {
		t.Errorf("BatchCount = %d, want 4", got.BatchCount)
	}
	if got.MaxRestarts != -1 {
		t.Errorf("MaxRestarts = %d, want -1", got.MaxRestarts)
	}
	if got.CheckInterval != 10*time.Second || got.TimeLimit != 2*time.Hour {
		t.Errorf("intervals = %s %s", got.CheckInterval, got.TimeLimit)
	}
	if got.GracePeriod != 10*time.Minute || got.Parallelism != 1 || got.DateField != "CreatedDate" {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestConfig_WithDefaults_MaxRestarts(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero selects default", 0, DefaultMaxRestarts},
		{"negative kept", -1, -1},
		{"explicit kept", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Config{MaxRestarts: tt.in}).withDefaults().MaxRestarts; got != tt.want {
				t.Errorf("MaxRestarts = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	for _, cfg := range []Config{
		{CheckInterval: -time.Second},
		{TimeLimit: -time.Second},
		{BatchCount: -1},
		{Parallelism: -2},
	} {
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%+v): expected error", cfg)
		}
	}
}

package runtime

import (
	"context"
	"fmt"
	"time"
)

// Defaults for Config. Each applies when the corresponding field is zero.
const (
	DefaultCheckInterval = 10 * time.Second
	DefaultTimeLimit     = 2 * time.Hour
	DefaultBatchCount    = 15
	DefaultGracePeriod   = 10 * time.Minute
	DefaultMaxRestarts   = 3
	DefaultParallelism   = 1
	DefaultDateField     = "CreatedDate"
)

// Config controls partitioning, polling, and restart behavior.
type Config struct {
	// CheckInterval is the sleep between poll ticks.
	CheckInterval time.Duration
	// TimeLimit bounds the whole poll loop. Past it the loop forces a
	// final download and returns a timed-out result.
	TimeLimit time.Duration
	// BatchCount is the number of sub-ranges a job partitions its range into.
	BatchCount int
	// GracePeriod is how long a closed job may sit unfinished before it
	// is considered stalled.
	GracePeriod time.Duration
	// MaxRestarts bounds restart depth. A job created by the Nth restart
	// generation is never restarted when N >= MaxRestarts.
	// Zero selects DefaultMaxRestarts. Negative disables restarts.
	MaxRestarts int
	// Parallelism bounds concurrent per-batch status/download calls
	// within a job's results pass. 1 keeps calls sequential.
	Parallelism int
	// DateField is the timestamp column used to filter batch sub-ranges.
	DateField string
	// SingleBatch submits one batch per job instead of partitioning.
	SingleBatch bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval: DefaultCheckInterval,
		TimeLimit:     DefaultTimeLimit,
		BatchCount:    DefaultBatchCount,
		GracePeriod:   DefaultGracePeriod,
		MaxRestarts:   DefaultMaxRestarts,
		Parallelism:   DefaultParallelism,
		DateField:     DefaultDateField,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.TimeLimit <= 0 {
		c.TimeLimit = d.TimeLimit
	}
	if c.BatchCount <= 0 {
		c.BatchCount = d.BatchCount
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.MaxRestarts == 0 {
		c.MaxRestarts = d.MaxRestarts
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.DateField == "" {
		c.DateField = d.DateField
	}
	return c
}

// Validate rejects values withDefaults cannot repair.
func (c Config) Validate() error {
	if c.CheckInterval < 0 {
		return fmt.Errorf("check interval must be >= 0, got %s", c.CheckInterval)
	}
	if c.TimeLimit < 0 {
		return fmt.Errorf("time limit must be >= 0, got %s", c.TimeLimit)
	}
	if c.BatchCount < 0 {
		return fmt.Errorf("batch count must be >= 0, got %d", c.BatchCount)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must be >= 0, got %d", c.Parallelism)
	}
	return nil
}

// Clock abstracts time for the poll loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in
	// the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package runtime

import (
	"time"

	"github.com/pithecene-io/tranche/types"
)

// JobObservation is everything the job state machine looks at.
type JobObservation struct {
	// Retired is set once restart work replaced the job.
	Retired bool
	// Closed is set once a close was attempted.
	Closed bool
	// ClosedFor is the time elapsed since the close attempt.
	ClosedFor time.Duration
	// GracePeriod is the stall threshold.
	GracePeriod time.Duration
	// Finished is completed == total per the latest status response.
	Finished bool
	// Completed is the completed-batch count per the latest status response.
	Completed int
}

// NextJobState derives a job's state from an observation.
//
// A closed job is Stalled once it has been closed for at least the grace
// period, is not finished, and has at least one completed batch. A job with
// no completed batches is never considered stalled: there is nothing to
// salvage and restarting it would only resubmit the same work.
func NextJobState(obs JobObservation) types.JobState {
	switch {
	case obs.Retired:
		return types.JobRetired
	case obs.Finished:
		return types.JobFinished
	case !obs.Closed:
		return types.JobActive
	case obs.ClosedFor >= obs.GracePeriod && obs.Completed > 0:
		return types.JobStalled
	default:
		return types.JobClosed
	}
}

package types

// BatchState is the lifecycle state of a single batch.
type BatchState string

const (
	// BatchCreated is the local state before the batch is submitted.
	BatchCreated BatchState = "Created"
	// BatchQueued means the remote service accepted the batch.
	BatchQueued BatchState = "Queued"
	// BatchInProgress means the remote service is processing the batch.
	BatchInProgress BatchState = "InProgress"
	// BatchCompleted means the payload is ready to download.
	BatchCompleted BatchState = "Completed"
	// BatchFailed means the remote service gave up on the batch.
	BatchFailed BatchState = "Failed"
)

// ParseBatchState maps a remote state string to a BatchState.
// "NotProcessed" is reported for batches the remote service skipped and
// is treated as Failed. Unknown values map to InProgress so that a
// surprising response never ends the poll loop early.
func ParseBatchState(s string) BatchState {
	switch s {
	case "Queued":
		return BatchQueued
	case "InProgress":
		return BatchInProgress
	case "Completed":
		return BatchCompleted
	case "Failed", "NotProcessed":
		return BatchFailed
	default:
		return BatchInProgress
	}
}

// Finished reports whether the batch payload can be downloaded.
func (s BatchState) Finished() bool {
	return s == BatchCompleted
}

// Failed reports whether the remote service gave up on the batch.
func (s BatchState) Failed() bool {
	return s == BatchFailed
}

// JobState is the client-side lifecycle state of a job.
//
// Transitions:
//
//	Active  -> Closed   (all batches submitted, close requested)
//	Closed  -> Finished (completed == total per latest status)
//	Closed  -> Stalled  (closed past grace period, some but not all batches completed)
//	Stalled -> Finished (late completion observed before restart)
//	Stalled -> Retired  (replaced by restart jobs)
//	Finished            (terminal)
type JobState string

const (
	// JobActive means the job exists remotely and batches are being submitted.
	JobActive JobState = "Active"
	// JobClosed means submission is complete and the job is waiting on the remote side.
	JobClosed JobState = "Closed"
	// JobStalled means the job sat closed past its grace period without finishing.
	JobStalled JobState = "Stalled"
	// JobFinished means every batch completed per the latest status response.
	JobFinished JobState = "Finished"
	// JobRetired means the job was replaced by restart work and is no longer polled.
	JobRetired JobState = "Retired"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobRetired
}

package constants

// TaskStatus is the canonical status for a single document inside a batch job.
type TaskStatus string

// Stable values (store these exact strings in DB).
const (
	TaskStatusPending   TaskStatus = "PENDING"   // waiting for a worker
	TaskStatusInFlight  TaskStatus = "IN_FLIGHT" // claimed by a worker
	TaskStatusCompleted TaskStatus = "COMPLETED" // pipeline finished, result attached
	TaskStatusFailed    TaskStatus = "FAILED"    // terminal failure, retries exhausted
)

// JobStatus is derived from a job's task statuses, never stored independently.
type JobStatus string

const (
	JobStatusRunning             JobStatus = "RUNNING"
	JobStatusCompleted           JobStatus = "COMPLETED"
	JobStatusCompletedWithErrors JobStatus = "COMPLETED_WITH_ERRORS"
	JobStatusCancelled           JobStatus = "CANCELLED"
)

// DocumentVerdict labels the document-level outcome handed back to the caller.
type DocumentVerdict string

const (
	VerdictValidated     DocumentVerdict = "VALIDATED"
	VerdictNeedsReview   DocumentVerdict = "NEEDS_REVIEW"
	VerdictUnprocessable DocumentVerdict = "UNPROCESSABLE"
)

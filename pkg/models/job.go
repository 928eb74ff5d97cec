package models

import "time"

// JobStatus is the client-side state of a tracked video-generation job
type JobStatus string

// JobStatus constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ParseJobStatus normalizes a status reported by the backend. Unknown
// values collapse to processing since the job is still being worked on.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return JobStatus(s)
	default:
		return JobStatusProcessing
	}
}

// PendingJob tracks one in-flight video-generation job
type PendingJob struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobResult is one entry of an in-progress status answer
type JobResult struct {
	VideoID OpaqueID `json:"video_id"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
}

// JobEventType names a job lifecycle event
type JobEventType string

// JobEventType constants
const (
	JobEventTracked   JobEventType = "job.tracked"
	JobEventProgress  JobEventType = "job.progress"
	JobEventRemoved   JobEventType = "job.removed"
	JobEventCompleted JobEventType = "job.completed"
	JobEventFailed    JobEventType = "job.failed"
	JobEventDismissed JobEventType = "job.dismissed"
)

// JobEvent is emitted by the poller on every lifecycle change
type JobEvent struct {
	Type      JobEventType `json:"type"`
	JobID     string       `json:"job_id"`
	UserID    string       `json:"user_id,omitempty"`
	Status    JobStatus    `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

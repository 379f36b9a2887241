// Package async provides the persistent job queue: the job record, the
// store contract and its SQLite/Postgres backends, the handler registry,
// the queue service and the polling worker.
package async

import (
	"encoding/json"
	"time"

	"github.com/teranos/pulseq/errors"
)

// DefaultQueue is used when a unit of work does not name a queue.
const DefaultQueue = "default"

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus converts user input (CLI flags) into a JobStatus.
func ParseStatus(s string) (JobStatus, error) {
	if !IsValidStatus(s) {
		return "", errors.NewInvalidRequestError("unknown job status %q (want pending, processing, completed or failed)", s)
	}
	return JobStatus(s), nil
}

// Job is one persisted unit of deferred work.
//
// Lifecycle:
//
//	pending --claim--> processing --success--> completed
//	                       |--error, attempts < max--> pending
//	                       |--error, attempts >= max--> failed --RetryFailed--> pending
//
// The store never looks inside Payload; only the handler registered for
// JobType knows its shape.
type Job struct {
	ID          int64           `json:"id"`
	Queue       string          `json:"queue"`
	JobType     string          `json:"job_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// NewJob creates a pending job that becomes claimable at availableAt.
func NewJob(queue, jobType string, payload json.RawMessage, maxAttempts int, now, availableAt time.Time) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("jobType cannot be empty")
	}
	if maxAttempts < 1 {
		return nil, errors.NewInvalidRequestError("max attempts must be at least 1, got %d", maxAttempts)
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if payload == nil {
		payload = json.RawMessage("null")
	}

	return &Job{
		Queue:       queue,
		JobType:     jobType,
		Payload:     payload,
		Status:      JobStatusPending,
		MaxAttempts: maxAttempts,
		AvailableAt: availableAt.UTC(),
		CreatedAt:   now.UTC(),
	}, nil
}

// Complete marks the job as completed
func (j *Job) Complete(now time.Time) {
	completed := now.UTC()
	j.Status = JobStatusCompleted
	j.Error = ""
	j.CompletedAt = &completed
}

// Retry returns the job to pending after a failed attempt, keeping the error.
// AvailableAt is left alone: retries are immediately claimable.
func (j *Job) Retry(err error) {
	j.Status = JobStatusPending
	j.Error = errorText(err)
}

// Fail marks the job as permanently failed with an error message
func (j *Job) Fail(err error) {
	j.Status = JobStatusFailed
	j.Error = errorText(err)
}

// ResetForRetry gives a failed job a fresh attempt budget.
func (j *Job) ResetForRetry() {
	j.Status = JobStatusPending
	j.Attempts = 0
	j.Error = ""
	j.CompletedAt = nil
}

// CanRetry reports whether another attempt is allowed after the current one.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// IsTerminal reports whether the job will never be claimed again on its own.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

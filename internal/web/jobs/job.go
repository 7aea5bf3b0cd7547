// Package jobs is a Postgres-backed durable job queue with retrying worker
// pools, LISTEN/NOTIFY wakeups and recurring schedules.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished successfully
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed permanently or ran out of attempts
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates the job was cancelled
	JobStatusCancelled JobStatus = "cancelled"
)

// JobPriority represents the priority level of a job
type JobPriority int

const (
	PriorityLow    JobPriority = 0
	PriorityNormal JobPriority = 50
	PriorityHigh   JobPriority = 75
	PriorityUrgent JobPriority = 100
)

// DefaultMaxAttempts is used when a job does not set MaxAttempts
const DefaultMaxAttempts = 3

// DefaultQueue runs jobs that need no queue of their own
const DefaultQueue = "default"

// Job represents a background job with all its metadata
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Queue       string          `json:"queue"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Priority    JobPriority     `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	RunAt       time.Time       `json:"run_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LockedBy    *string         `json:"locked_by,omitempty"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
}

// NewJob creates a pending job whose payload is the JSON encoding of payload
func NewJob(queue, jobType string, payload interface{}) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	return &Job{
		ID:          uuid.New(),
		Queue:       queue,
		Type:        jobType,
		Payload:     raw,
		Status:      JobStatusPending,
		Priority:    PriorityNormal,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		RunAt:       now,
	}, nil
}

// Decode unmarshals the payload into v
func (j *Job) Decode(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("invalid %s payload: %w", j.Type, err))
	}
	return nil
}

// IsLocked returns true if the job is currently locked by a worker
func (j *Job) IsLocked() bool {
	return j.LockedBy != nil && j.LockedAt != nil
}

// IsRetryable returns true if the job has attempts left
func (j *Job) IsRetryable() bool {
	return j.Attempts < j.MaxAttempts
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RescheduleError asks the worker to run the job again at At without
// counting the current attempt
type RescheduleError struct {
	At     time.Time
	Reason string
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("rescheduled for %s: %s", e.At.Format(time.RFC3339), e.Reason)
}

// RescheduleAt returns an error that defers the job until at
func RescheduleAt(at time.Time, reason string) error {
	return &RescheduleError{At: at, Reason: reason}
}

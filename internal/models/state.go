package models

import (
	"time"
)

// JobState is the authoritative lifecycle state in the result store.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// Terminal reports whether s is a final state.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// JobFailure describes why a job reached FAILED.
type JobFailure struct {
	Stage   string `json:"stage"`
	Kind    Kind   `json:"error_kind"`
	Message string `json:"message"`
}

// JobStatus is one result-store entry, keyed by job id. Terminal
// entries are immutable except for idempotent replacement by a
// redelivered attempt producing the same record.
type JobStatus struct {
	JobID     string          `json:"job_id" badgerhold:"key"`
	State     JobState        `json:"state"`
	Record    *DocumentRecord `json:"result,omitempty"`
	Failure   *JobFailure     `json:"error,omitempty"`
	Attempt   int             `json:"attempt"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Succeeded builds a terminal SUCCEEDED status around a record.
func Succeeded(rec *DocumentRecord, attempt int) *JobStatus {
	return &JobStatus{
		JobID:     rec.ID,
		State:     JobStateSucceeded,
		Record:    rec,
		Attempt:   attempt,
		UpdatedAt: time.Now(),
	}
}

// Failed builds a terminal FAILED status from a classified error.
func Failed(jobID string, err error, attempt int) *JobStatus {
	return &JobStatus{
		JobID: jobID,
		State: JobStateFailed,
		Failure: &JobFailure{
			Stage:   StageOf(err),
			Kind:    KindOf(err),
			Message: err.Error(),
		},
		Attempt:   attempt,
		UpdatedAt: time.Now(),
	}
}

package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage persists job statuses in badgerhold, keyed by job id.
// Terminal states are monotonic: once SUCCEEDED or FAILED is stored,
// only another terminal write for the same job can replace it. That
// keeps a slow redelivered attempt from flipping a finished job back to
// RUNNING.
type ResultStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.ResultStore = (*ResultStorage)(nil)

// NewResultStorage creates a result store over an open badgerhold store.
func NewResultStorage(store *badgerhold.Store, logger arbor.ILogger) *ResultStorage {
	return &ResultStorage{store: store, logger: logger}
}

// MarkRunning records that a worker picked the job up. A job already in
// a terminal state is left untouched.
func (r *ResultStorage) MarkRunning(ctx context.Context, jobID string, attempt int) error {
	var existing models.JobStatus
	err := r.store.Get(jobID, &existing)
	if err == nil && existing.State.Terminal() {
		r.logger.Debug().
			Str("job_id", jobID).
			Str("state", string(existing.State)).
			Msg("Job already terminal, skipping running mark")
		return nil
	}
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to read job status: %w", err)
	}

	status := &models.JobStatus{
		JobID:     jobID,
		State:     models.JobStateRunning,
		Attempt:   attempt,
		UpdatedAt: time.Now(),
	}
	if err := r.store.Upsert(jobID, status); err != nil {
		return fmt.Errorf("failed to store running status: %w", err)
	}
	return nil
}

// Publish stores a terminal status. Non-terminal statuses are rejected;
// the runtime only publishes finished jobs.
func (r *ResultStorage) Publish(ctx context.Context, status *models.JobStatus) error {
	if !status.State.Terminal() {
		return fmt.Errorf("refusing to publish non-terminal state %s for job %s", status.State, status.JobID)
	}
	if err := r.store.Upsert(status.JobID, status); err != nil {
		return fmt.Errorf("failed to store terminal status: %w", err)
	}

	r.logger.Debug().
		Str("job_id", status.JobID).
		Str("state", string(status.State)).
		Int("attempt", status.Attempt).
		Msg("Terminal status published")
	return nil
}

// Get returns the stored status for a job id.
func (r *ResultStorage) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	var status models.JobStatus
	if err := r.store.Get(jobID, &status); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job status: %w", err)
	}
	return &status, nil
}

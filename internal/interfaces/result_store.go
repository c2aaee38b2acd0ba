package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/scriba/internal/models"
)

// ErrJobNotFound is returned by Get for job ids with no stored state.
var ErrJobNotFound = errors.New("job not found")

// ResultStore holds the authoritative job state consumed by the status
// API. Terminal states are monotonic: MarkRunning never downgrades a
// terminal entry, and Publish replaces a prior terminal entry only with
// another terminal entry for the same job id.
type ResultStore interface {
	// MarkRunning records that a worker picked up the job. It is a
	// no-op when the job already reached a terminal state.
	MarkRunning(ctx context.Context, jobID string, attempt int) error

	// Publish stores a terminal status. Publishing must complete
	// before the broker delivery is acknowledged.
	Publish(ctx context.Context, status *models.JobStatus) error

	Get(ctx context.Context, jobID string) (*models.JobStatus, error)
}

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// StatusHandler serves job state lookups from the result store.
type StatusHandler struct {
	results interfaces.ResultStore
	logger  arbor.ILogger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(results interfaces.ResultStore, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{results: results, logger: logger}
}

// GetJobHandler handles GET /api/jobs/{id}. A job the store has no
// entry for reports QUEUED: enqueue happens before the first store
// write, so an unknown id is most likely a job waiting for a worker.
func (h *StatusHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	status, err := h.results.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteJSON(w, http.StatusOK, &models.JobStatus{
				JobID: jobID,
				State: models.JobStateQueued,
			})
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read job status")
		WriteError(w, http.StatusInternalServerError, "failed to read job status")
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

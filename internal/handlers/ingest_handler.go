package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// maxUploadBytes caps one uploaded document.
const maxUploadBytes = 64 << 20 // 64 MB

// IngestHandler accepts document uploads and enqueues processing jobs.
// The blob lands in the uploads directory before the ticket is
// enqueued, so a worker never dequeues a ticket whose file is missing.
type IngestHandler struct {
	broker     interfaces.Broker
	uploadsDir string
	logger     arbor.ILogger
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(broker interfaces.Broker, uploadsDir string, logger arbor.ILogger) *IngestHandler {
	os.MkdirAll(uploadsDir, 0755)
	return &IngestHandler{
		broker:     broker,
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

// UploadHandler handles POST /api/documents with a multipart "file"
// field. Responds 202 with the job id; processing happens async.
func (h *IngestHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart request: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		WriteError(w, http.StatusBadRequest, "uploaded file has no name")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ticket := models.NewJobTicket("", header.Filename, mimeType)

	// Store the blob under the job id so concurrent uploads of the
	// same filename never collide.
	blobPath := filepath.Join(h.uploadsDir, ticket.JobID+filepath.Ext(header.Filename))
	out, err := os.Create(blobPath)
	if err != nil {
		h.logger.Error().Err(err).Str("path", blobPath).Msg("Failed to create upload file")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	written, err := io.Copy(out, file)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		os.Remove(blobPath)
		h.logger.Error().Err(err).Str("path", blobPath).Msg("Failed to write upload file")
		WriteError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	ticket.FilePath = blobPath

	if err := h.broker.Enqueue(r.Context(), ticket); err != nil {
		os.Remove(blobPath)
		h.logger.Error().Err(err).Str("job_id", ticket.JobID).Msg("Failed to enqueue job")
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	h.logger.Info().
		Str("job_id", ticket.JobID).
		Str("file_name", ticket.FileName).
		Str("mime_type", mimeType).
		Int64("bytes", written).
		Msg("Document accepted")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": ticket.JobID,
		"state":  string(models.JobStateQueued),
		"detail": fmt.Sprintf("document %s accepted for processing", ticket.FileName),
	})
}

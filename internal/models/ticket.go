package models

import (
	"fmt"

	"github.com/google/uuid"
)

// JobTicket is the immutable message the ingress enqueues for every
// upload. Once created it is never modified; the broker persists it
// until the runtime acknowledges the delivery.
type JobTicket struct {
	JobID    string `json:"job_id"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// NewJobTicket creates a ticket with a fresh job id for an uploaded blob.
func NewJobTicket(filePath, fileName, mimeType string) *JobTicket {
	return &JobTicket{
		JobID:    uuid.New().String(),
		FilePath: filePath,
		FileName: fileName,
		MimeType: mimeType,
	}
}

// Validate checks the fields the pipeline cannot work without.
func (t *JobTicket) Validate() error {
	if t.JobID == "" {
		return fmt.Errorf("ticket missing job_id")
	}
	if t.FilePath == "" {
		return fmt.Errorf("ticket %s missing file_path", t.JobID)
	}
	return nil
}

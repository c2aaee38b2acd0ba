package models

// DocumentRecord is the final artifact written to the lexical store and
// embedded in the terminal job state. Its ID equals the job id, which
// makes every reindex an overwrite rather than a duplicate.
type DocumentRecord struct {
	ID            string         `json:"id"`
	FileName      string         `json:"file_name"`
	DocType       DocType        `json:"doc_type"`
	DocConfidence float64        `json:"doc_confidence"`
	Content       string         `json:"content"`
	Summary       string         `json:"summary"`
	ExtractedData map[string]any `json:"extracted_data"`
	PIICount      int            `json:"pii_count"`
	CreatedAt     int64          `json:"created_at"`
	ProcessingMS  int64          `json:"processing_ms"`
	VectorIndexed bool           `json:"vector_indexed"`
}

// VectorPayload is the metadata stored alongside a point in the vector
// index. LexicalID links back to the authoritative lexical record.
type VectorPayload struct {
	FileName  string  `json:"file_name"`
	DocType   DocType `json:"doc_type"`
	Summary   string  `json:"summary"`
	LexicalID string  `json:"lexical_id"`
}

// BuildRecord assembles the final record from a completed job context.
func BuildRecord(c *JobContext) *DocumentRecord {
	extracted := c.StructuredData
	if extracted == nil {
		extracted = map[string]any{}
	}
	return &DocumentRecord{
		ID:            c.Ticket.JobID,
		FileName:      c.Ticket.FileName,
		DocType:       c.Classification.DocType,
		DocConfidence: c.Classification.Confidence,
		Content:       c.RawText,
		Summary:       c.Summary,
		ExtractedData: extracted,
		PIICount:      len(c.PII),
		CreatedAt:     c.StartedAt.Unix(),
		ProcessingMS:  c.Elapsed().Milliseconds(),
		VectorIndexed: c.VectorIndexed,
	}
}

// VectorPayloadFor builds the vector-side payload for a record.
func VectorPayloadFor(rec *DocumentRecord) VectorPayload {
	return VectorPayload{
		FileName:  rec.FileName,
		DocType:   rec.DocType,
		Summary:   rec.Summary,
		LexicalID: rec.ID,
	}
}

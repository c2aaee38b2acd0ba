package models

import (
	"sync"
	"time"
)

// Stage names, used for timings, status maps, and failure reporting.
const (
	StageOCR          = "ocr"
	StageClassify     = "classify"
	StageExtract      = "extract"
	StageSummarize    = "summarize"
	StageDetectPII    = "detect_pii"
	StageEmbed        = "embed"
	StageIndexLexical = "index_lexical"
	StageIndexVector  = "index_vector"
)

// StageStatus records how a stage ended.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageSkipped  StageStatus = "skipped"
	StageFailed   StageStatus = "failed"
)

// Classification is the classifier adapter's verdict.
type Classification struct {
	DocType    DocType `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

// PIIEntity is one detected piece of personally identifiable information.
type PIIEntity struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// JobContext carries one job through the pipeline. It is owned by
// exactly one worker from dequeue to ack. Stages write only their own
// output fields; the shared status and timing maps are guarded because
// the post-classification stages run concurrently.
type JobContext struct {
	Ticket JobTicket

	RawText        string
	OCRConfidence  float64
	Classification Classification
	StructuredData map[string]any
	Summary        string
	PII            []PIIEntity
	Embedding      []float32
	VectorIndexed  bool

	StartedAt time.Time
	Statuses  map[string]StageStatus
	Timings   map[string]time.Duration

	mu sync.Mutex
}

// NewJobContext creates the mutable per-job state for a dequeued ticket.
func NewJobContext(ticket *JobTicket) *JobContext {
	return &JobContext{
		Ticket:         *ticket,
		StructuredData: map[string]any{},
		StartedAt:      time.Now(),
		Statuses:       make(map[string]StageStatus),
		Timings:        make(map[string]time.Duration),
	}
}

// MarkStage records the outcome and elapsed time of one stage.
func (c *JobContext) MarkStage(stage string, status StageStatus, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statuses[stage] = status
	c.Timings[stage] = elapsed
}

// Elapsed returns wall time since the worker dequeued the ticket.
func (c *JobContext) Elapsed() time.Duration {
	return time.Since(c.StartedAt)
}

package interfaces

import (
	"context"

	"github.com/ternarybob/scriba/internal/models"
)

// OCRResult is the output of one OCR invocation. Empty text is a valid
// result; the orchestrator decides what a blank document means.
type OCRResult struct {
	Text       string
	Confidence float64
}

// OCREngine extracts text from an uploaded blob. The adapter owns PDF
// handling; callers pass the path they were given in the ticket.
type OCREngine interface {
	Extract(ctx context.Context, path string) (*OCRResult, error)
}

// Classifier assigns a document type to extracted text. Implementations
// choose at startup whether an absent model degrades to filename hints
// or surfaces a NotAvailable error; the mode never changes mid-run.
type Classifier interface {
	Classify(ctx context.Context, text, fileName string) (*models.Classification, error)
}

// CompleteOptions tunes a single LLM completion call.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float32

	// ResponseSchema, when set, asks the server for JSON constrained to
	// this schema. Callers must still validate the output.
	ResponseSchema map[string]any
}

// LLMService is the generation + embedding surface of the inference server.
type LLMService interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)

	// Embed returns a vector of the configured dimension. Empty input
	// yields an empty vector without error.
	Embed(ctx context.Context, text string) ([]float32, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// LexicalIndex is the full-text store. Upsert must be idempotent on the
// record id; EnsureIndex is called once at startup.
type LexicalIndex interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, rec *models.DocumentRecord) error
}

// VectorIndex is the similarity store. Upsert must be idempotent on id
// and must refuse vectors that do not match the collection dimension.
type VectorIndex interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, id string, vector []float32, payload models.VectorPayload) error
}

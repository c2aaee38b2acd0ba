package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/prompts"
)

type fakeOCR struct {
	text       string
	confidence float64
	err        error
}

func (f *fakeOCR) Extract(ctx context.Context, path string) (*interfaces.OCRResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &interfaces.OCRResult{Text: f.text, Confidence: f.confidence}, nil
}

type fakeClassifier struct {
	result *models.Classification
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, text, fileName string) (*models.Classification, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeLLM routes completions by recognizable prompt fragments from the
// built-in templates.
type fakeLLM struct {
	completeErr error
	embedErr    error
	embedding   []float32
	summary     string
	extraction  string
	pii         string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, opts interfaces.CompleteOptions) (string, error) {
	if f.completeErr != nil {
		return "", f.completeErr
	}
	switch {
	case strings.Contains(prompt, "concise summary"):
		return f.summary, nil
	case strings.Contains(prompt, "personally identifiable"):
		return f.pii, nil
	default:
		return f.extraction, nil
	}
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return f.embedding, nil
}

func (f *fakeLLM) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeLLM) Close() error                          { return nil }

type fakeLexical struct {
	err     error
	records []*models.DocumentRecord
}

func (f *fakeLexical) EnsureIndex(ctx context.Context) error { return nil }
func (f *fakeLexical) Upsert(ctx context.Context, rec *models.DocumentRecord) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

type fakeVector struct {
	err    error
	points []string
}

func (f *fakeVector) EnsureCollection(ctx context.Context) error { return nil }
func (f *fakeVector) Upsert(ctx context.Context, id string, vector []float32, payload models.VectorPayload) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, id)
	return nil
}

type testHarness struct {
	orchestrator *Orchestrator
	ocr          *fakeOCR
	classifier   *fakeClassifier
	llm          *fakeLLM
	lexical      *fakeLexical
	vector       *fakeVector
	ticket       *models.JobTicket
	blobPath     string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	blobPath := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(blobPath, []byte("fake pdf bytes"), 0644))

	ticket := models.NewJobTicket(blobPath, "scan.pdf", "application/pdf")

	h := &testHarness{
		ocr:        &fakeOCR{text: "INVOICE #42\nAcme Corp\nTotal: $100.00", confidence: 0.95},
		classifier: &fakeClassifier{result: &models.Classification{DocType: models.DocTypeInvoice, Confidence: 0.9}},
		llm: &fakeLLM{
			embedding:  []float32{0.1, 0.2, 0.3},
			summary:    "An invoice from Acme Corp for $100.",
			extraction: `{"invoice_number": "42", "total": 100.0}`,
			pii:        `{"entities": [{"type": "name", "text": "Acme Corp"}]}`,
		},
		lexical:  &fakeLexical{},
		vector:   &fakeVector{},
		ticket:   ticket,
		blobPath: blobPath,
	}

	registry, err := prompts.NewRegistry("", common.GetLogger())
	require.NoError(t, err)

	cfg := common.NewDefaultConfig()
	cfg.Embedding.Dimension = 3
	cfg.Workers.SummaryMaxChars = 100

	h.orchestrator = NewOrchestrator(h.ocr, h.classifier, h.llm, registry, h.lexical, h.vector, cfg, common.GetLogger())
	return h
}

func TestProcessHappyPath(t *testing.T) {
	h := newHarness(t)

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	require.NotNil(t, status.Record)
	assert.Equal(t, h.ticket.JobID, status.Record.ID)
	assert.Equal(t, models.DocTypeInvoice, status.Record.DocType)
	assert.Equal(t, "An invoice from Acme Corp for $100.", status.Record.Summary)
	assert.Equal(t, "42", status.Record.ExtractedData["invoice_number"])
	assert.True(t, status.Record.VectorIndexed)
	assert.GreaterOrEqual(t, status.Record.PIICount, 1)

	require.Len(t, h.lexical.records, 1)
	assert.Equal(t, []string{h.ticket.JobID}, h.vector.points)

	_, statErr := os.Stat(h.blobPath)
	assert.True(t, os.IsNotExist(statErr), "blob must be deleted after terminal outcome")
}

func TestProcessOCRPermanentFailure(t *testing.T) {
	h := newHarness(t)
	h.ocr.err = models.Permanent(fmt.Errorf("file is not a document"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateFailed, status.State)
	require.NotNil(t, status.Failure)
	assert.Equal(t, models.StageOCR, status.Failure.Stage)
	assert.Equal(t, models.KindPermanent, status.Failure.Kind)
	assert.Empty(t, h.lexical.records)

	_, statErr := os.Stat(h.blobPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestProcessOCRTransientFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.ocr.err = models.Transient(fmt.Errorf("ocr server unreachable"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.Error(t, err)
	assert.Nil(t, status)
	assert.Equal(t, models.KindTransient, models.KindOf(err))

	_, statErr := os.Stat(h.blobPath)
	assert.NoError(t, statErr, "blob must survive for the retry")
}

func TestProcessBlankDocument(t *testing.T) {
	h := newHarness(t)
	h.ocr.text = "   \n  "

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	assert.Equal(t, models.DocTypeUnknown, status.Record.DocType)
	assert.Empty(t, status.Record.Summary)
	assert.False(t, status.Record.VectorIndexed)
	require.Len(t, h.lexical.records, 1, "blank documents still get a lexical row")
	assert.Empty(t, h.vector.points)
}

func TestProcessClassifierUnavailable(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = models.NotAvailable(fmt.Errorf("no classifier model loaded"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	assert.Equal(t, models.DocTypeUnknown, status.Record.DocType)
	// Unknown type means no extraction prompt, so structured data is empty.
	assert.Empty(t, status.Record.ExtractedData)
	// The rest of the pipeline still ran.
	assert.NotEmpty(t, status.Record.Summary)
	assert.True(t, status.Record.VectorIndexed)
}

func TestProcessLLMDownDegradesEverything(t *testing.T) {
	h := newHarness(t)
	h.llm.completeErr = models.Transient(fmt.Errorf("llm unreachable"))
	h.llm.embedErr = models.Transient(fmt.Errorf("llm unreachable"))
	h.ocr.text = "Contact jane@example.com about invoice #42"

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	assert.Empty(t, status.Record.Summary)
	assert.Empty(t, status.Record.ExtractedData)
	assert.False(t, status.Record.VectorIndexed)
	// Regex pass still finds the email even with the model down.
	assert.Equal(t, 1, status.Record.PIICount)
	require.Len(t, h.lexical.records, 1)
}

func TestProcessVectorFailureDegrades(t *testing.T) {
	h := newHarness(t)
	h.vector.err = models.Transient(fmt.Errorf("qdrant down"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	assert.False(t, status.Record.VectorIndexed)
	require.Len(t, h.lexical.records, 1)
	assert.False(t, h.lexical.records[0].VectorIndexed, "lexical record must reflect the vector outcome")
}

func TestProcessLexicalTransientFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.lexical.err = models.Transient(fmt.Errorf("meilisearch down"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.Error(t, err)
	assert.Nil(t, status)
	assert.Equal(t, models.KindTransient, models.KindOf(err))
	assert.Equal(t, models.StageIndexLexical, models.StageOf(err))

	_, statErr := os.Stat(h.blobPath)
	assert.NoError(t, statErr)
}

func TestProcessLexicalPermanentFailureFails(t *testing.T) {
	h := newHarness(t)
	h.lexical.err = models.Permanent(fmt.Errorf("document rejected"))

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)
	require.NotNil(t, status)

	assert.Equal(t, models.JobStateFailed, status.State)
	assert.Equal(t, models.StageIndexLexical, status.Failure.Stage)
}

func TestProcessCancelledMidPipeline(t *testing.T) {
	h := newHarness(t)
	h.llm.completeErr = models.Cancelled(context.Canceled)
	h.llm.embedErr = models.Cancelled(context.Canceled)

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.Error(t, err)
	assert.Nil(t, status)
	assert.Equal(t, models.KindCancelled, models.KindOf(err))

	_, statErr := os.Stat(h.blobPath)
	assert.NoError(t, statErr, "cancellation leaves the blob for redelivery")
}

func TestProcessUnknownTypeFromGarbledText(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = &models.Classification{DocType: models.DocTypeUnknown, Confidence: 0.1}

	status, err := h.orchestrator.Process(context.Background(), h.ticket, 1)
	require.NoError(t, err)

	assert.Equal(t, models.JobStateSucceeded, status.State)
	assert.Empty(t, status.Record.ExtractedData)
	assert.NotEmpty(t, status.Record.Summary, "summary does not depend on classification")
}

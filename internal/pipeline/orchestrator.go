// -----------------------------------------------------------------------
// Pipeline Orchestrator - Drives one job through all processing stages
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/guard"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/prompts"
)

// Orchestrator runs the stage graph for one job: OCR, classification,
// then extraction, summarization, PII detection, and embedding in
// parallel, then the two index writes.
//
// Process returns either a terminal status (ready to publish) or an
// error. An error means the job did not finish and the runtime decides
// between requeue and redelivery; no status is published for it.
type Orchestrator struct {
	ocr        interfaces.OCREngine
	classifier interfaces.Classifier
	llm        interfaces.LLMService
	decoder    *guard.Decoder
	registry   *prompts.Registry
	lexical    interfaces.LexicalIndex
	vector     interfaces.VectorIndex
	logger     arbor.ILogger

	maxTokens       int
	temperature     float32
	summaryMaxChars int
}

// NewOrchestrator wires the pipeline from its adapters.
func NewOrchestrator(
	ocr interfaces.OCREngine,
	classifier interfaces.Classifier,
	llm interfaces.LLMService,
	registry *prompts.Registry,
	lexical interfaces.LexicalIndex,
	vector interfaces.VectorIndex,
	config *common.Config,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		ocr:             ocr,
		classifier:      classifier,
		llm:             llm,
		decoder:         guard.NewDecoder(llm, logger),
		registry:        registry,
		lexical:         lexical,
		vector:          vector,
		logger:          logger,
		maxTokens:       config.LLM.MaxTokens,
		temperature:     config.LLM.Temperature,
		summaryMaxChars: config.Workers.SummaryMaxChars,
	}
}

// Process runs ticket through the pipeline. On a terminal outcome the
// uploaded blob is deleted and the status returned; on a retryable or
// cancelled outcome the blob stays on disk for the next attempt.
func (o *Orchestrator) Process(ctx context.Context, ticket *models.JobTicket, attempt int) (*models.JobStatus, error) {
	c := models.NewJobContext(ticket)

	o.logger.Info().
		Str("job_id", ticket.JobID).
		Str("file_name", ticket.FileName).
		Int("attempt", attempt).
		Msg("Processing job")

	// OCR
	start := time.Now()
	ocrResult, err := o.ocr.Extract(ctx, ticket.FilePath)
	if err != nil {
		err = models.AtStage(models.StageOCR, err)
		switch models.KindOf(err) {
		case models.KindPermanent, models.KindNotAvailable:
			c.MarkStage(models.StageOCR, models.StageFailed, time.Since(start))
			return o.terminal(c, models.Failed(ticket.JobID, err, attempt)), nil
		default:
			return nil, err
		}
	}
	c.RawText = ocrResult.Text
	c.OCRConfidence = ocrResult.Confidence
	c.MarkStage(models.StageOCR, models.StageOK, time.Since(start))

	// A blank scan is a valid document. Skip the model stages and
	// index an empty record so the job still resolves and is findable.
	if strings.TrimSpace(c.RawText) == "" {
		o.logger.Info().
			Str("job_id", ticket.JobID).
			Msg("Document produced no text, short-circuiting")
		c.Classification = models.Classification{DocType: models.DocTypeUnknown}
		for _, stage := range []string{
			models.StageClassify, models.StageExtract, models.StageSummarize,
			models.StageDetectPII, models.StageEmbed, models.StageIndexVector,
		} {
			c.MarkStage(stage, models.StageSkipped, 0)
		}
		return o.finishAndIndex(ctx, c, attempt)
	}

	// Classification
	start = time.Now()
	classification, err := o.classifier.Classify(ctx, c.RawText, ticket.FileName)
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return nil, models.AtStage(models.StageClassify, err)
		}
		o.logger.Warn().
			Str("job_id", ticket.JobID).
			Err(err).
			Msg("Classification degraded to unknown")
		c.Classification = models.Classification{DocType: models.DocTypeUnknown}
		c.MarkStage(models.StageClassify, models.StageDegraded, time.Since(start))
	} else {
		c.Classification = *classification
		c.MarkStage(models.StageClassify, models.StageOK, time.Since(start))
	}

	// Fan out the independent model stages.
	stages := []func(context.Context, *models.JobContext) error{
		o.runExtract,
		o.runSummarize,
		o.runDetectPII,
		o.runEmbed,
	}
	stageErrs := make([]error, len(stages))
	var wg sync.WaitGroup
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage func(context.Context, *models.JobContext) error) {
			defer wg.Done()
			stageErrs[i] = stage(ctx, c)
		}(i, stage)
	}
	wg.Wait()
	for _, stageErr := range stageErrs {
		if stageErr != nil {
			return nil, stageErr
		}
	}

	return o.finishAndIndex(ctx, c, attempt)
}

// finishAndIndex writes the vector point, then the lexical record, and
// builds the terminal status. The lexical write is the success gate: a
// vector failure degrades, a permanent lexical failure fails the job,
// and a transient one retries.
func (o *Orchestrator) finishAndIndex(ctx context.Context, c *models.JobContext, attempt int) (*models.JobStatus, error) {
	rec := models.BuildRecord(c)

	if len(c.Embedding) > 0 {
		start := time.Now()
		err := o.vector.Upsert(ctx, rec.ID, c.Embedding, models.VectorPayloadFor(rec))
		switch {
		case err == nil:
			c.VectorIndexed = true
			c.MarkStage(models.StageIndexVector, models.StageOK, time.Since(start))
		case models.KindOf(err) == models.KindCancelled:
			return nil, models.AtStage(models.StageIndexVector, err)
		default:
			o.logger.Warn().
				Str("job_id", rec.ID).
				Err(err).
				Msg("Vector index write failed, degrading")
			c.MarkStage(models.StageIndexVector, models.StageDegraded, time.Since(start))
		}
	} else if _, marked := c.Statuses[models.StageIndexVector]; !marked {
		c.MarkStage(models.StageIndexVector, models.StageSkipped, 0)
	}
	rec.VectorIndexed = c.VectorIndexed

	start := time.Now()
	if err := o.lexical.Upsert(ctx, rec); err != nil {
		err = models.AtStage(models.StageIndexLexical, err)
		switch models.KindOf(err) {
		case models.KindPermanent, models.KindNotAvailable:
			c.MarkStage(models.StageIndexLexical, models.StageFailed, time.Since(start))
			return o.terminal(c, models.Failed(rec.ID, err, attempt)), nil
		default:
			return nil, err
		}
	}
	c.MarkStage(models.StageIndexLexical, models.StageOK, time.Since(start))

	rec.ProcessingMS = c.Elapsed().Milliseconds()
	return o.terminal(c, models.Succeeded(rec, attempt)), nil
}

// terminal finalizes a job: the uploaded blob is removed and the
// outcome logged with per-stage timings.
func (o *Orchestrator) terminal(c *models.JobContext, status *models.JobStatus) *models.JobStatus {
	if err := os.Remove(c.Ticket.FilePath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().
			Str("job_id", c.Ticket.JobID).
			Str("path", c.Ticket.FilePath).
			Err(err).
			Msg("Failed to remove uploaded blob")
	}

	event := o.logger.Info()
	if status.State == models.JobStateFailed {
		event = o.logger.Warn()
	}
	for stage, elapsed := range c.Timings {
		event = event.Dur(stage, elapsed)
	}
	event.
		Str("job_id", status.JobID).
		Str("state", string(status.State)).
		Int("attempt", status.Attempt).
		Dur("total", c.Elapsed()).
		Msg("Job finished")

	return status
}

package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/prompts"
)

// The four post-classification stages run concurrently. Each degrades
// on failure and returns an error only for cancellation, which must
// abort the whole job instead of producing a silently partial record.

func (o *Orchestrator) runExtract(ctx context.Context, c *models.JobContext) error {
	start := time.Now()

	if !c.Classification.DocType.Supported() {
		c.MarkStage(models.StageExtract, models.StageSkipped, time.Since(start))
		return nil
	}

	prompt, err := o.registry.GetExtraction(c.Classification.DocType)
	if err != nil {
		c.MarkStage(models.StageExtract, models.StageDegraded, time.Since(start))
		return nil
	}

	data, err := o.decoder.Decode(ctx, prompt, c.RawText, o.completeOpts())
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return models.AtStage(models.StageExtract, err)
		}
		o.logger.Warn().
			Str("job_id", c.Ticket.JobID).
			Err(err).
			Msg("Extraction degraded")
		c.MarkStage(models.StageExtract, models.StageDegraded, time.Since(start))
		return nil
	}
	if data == nil {
		c.MarkStage(models.StageExtract, models.StageDegraded, time.Since(start))
		return nil
	}

	c.StructuredData = data
	c.MarkStage(models.StageExtract, models.StageOK, time.Since(start))
	return nil
}

func (o *Orchestrator) runSummarize(ctx context.Context, c *models.JobContext) error {
	start := time.Now()

	prompt, err := o.registry.Get(prompts.NameSummarize)
	if err != nil {
		c.MarkStage(models.StageSummarize, models.StageDegraded, time.Since(start))
		return nil
	}

	summary, err := o.llm.Complete(ctx, prompt.Render(c.RawText), o.completeOpts())
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return models.AtStage(models.StageSummarize, err)
		}
		o.logger.Warn().
			Str("job_id", c.Ticket.JobID).
			Err(err).
			Msg("Summarization degraded")
		c.MarkStage(models.StageSummarize, models.StageDegraded, time.Since(start))
		return nil
	}

	c.Summary = clampSummary(summary, o.summaryMaxChars)
	c.MarkStage(models.StageSummarize, models.StageOK, time.Since(start))
	return nil
}

func (o *Orchestrator) runDetectPII(ctx context.Context, c *models.JobContext) error {
	start := time.Now()

	regexHits := regexScan(c.RawText)

	prompt, err := o.registry.Get(prompts.NameDetectPII)
	if err != nil {
		c.PII = mergeEntities(regexHits)
		c.MarkStage(models.StageDetectPII, models.StageDegraded, time.Since(start))
		return nil
	}

	data, err := o.decoder.Decode(ctx, prompt, c.RawText, o.completeOpts())
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return models.AtStage(models.StageDetectPII, err)
		}
		o.logger.Warn().
			Str("job_id", c.Ticket.JobID).
			Err(err).
			Msg("PII detection degraded to regex only")
		c.PII = mergeEntities(regexHits)
		c.MarkStage(models.StageDetectPII, models.StageDegraded, time.Since(start))
		return nil
	}

	status := models.StageOK
	if data == nil {
		status = models.StageDegraded
	}
	c.PII = mergeEntities(parseEntities(data), regexHits)
	c.MarkStage(models.StageDetectPII, status, time.Since(start))
	return nil
}

func (o *Orchestrator) runEmbed(ctx context.Context, c *models.JobContext) error {
	start := time.Now()

	vector, err := o.llm.Embed(ctx, c.RawText)
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return models.AtStage(models.StageEmbed, err)
		}
		o.logger.Warn().
			Str("job_id", c.Ticket.JobID).
			Err(err).
			Msg("Embedding degraded, document will not be vector indexed")
		c.MarkStage(models.StageEmbed, models.StageDegraded, time.Since(start))
		return nil
	}

	c.Embedding = vector
	c.MarkStage(models.StageEmbed, models.StageOK, time.Since(start))
	return nil
}

func (o *Orchestrator) completeOpts() interfaces.CompleteOptions {
	return interfaces.CompleteOptions{
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}
}

// clampSummary cuts an over-long summary at a rune boundary.
func clampSummary(summary string, maxChars int) string {
	summary = strings.TrimSpace(summary)
	if maxChars <= 0 || len(summary) <= maxChars {
		return summary
	}
	runes := []rune(summary)
	if len(runes) <= maxChars {
		return summary
	}
	return strings.TrimSpace(string(runes[:maxChars]))
}

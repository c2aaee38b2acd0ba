// -----------------------------------------------------------------------
// Classifier Service - Assign a document type to extracted text
// -----------------------------------------------------------------------

package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

const (
	ModeHintFallback = "hint_fallback"
	ModeUnavailable  = "unavailable"

	// hintConfidence is deliberately below any sane min_confidence so a
	// filename guess never unlocks structured extraction on its own.
	hintConfidence = 0.3
)

// Service assigns a document type using a remote classifier model. When
// no endpoint is configured, or the endpoint is down, the configured
// mode decides between filename-hint fallback and a NotAvailable error.
type Service struct {
	url           string
	mode          string
	minConfidence float64
	maxChars      int
	httpClient    *http.Client
	logger        arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.Classifier = (*Service)(nil)

type classifyRequest struct {
	Text     string `json:"text"`
	FileName string `json:"file_name"`
}

type classifyResponse struct {
	DocType    string  `json:"doc_type"`
	Confidence float64 `json:"confidence"`
}

// NewService creates a classifier from configuration.
func NewService(cfg *common.ClassifierConfig, logger arbor.ILogger) *Service {
	svc := &Service{
		url:           strings.TrimRight(cfg.URL, "/"),
		mode:          cfg.Mode,
		minConfidence: cfg.MinConfidence,
		maxChars:      cfg.MaxInputChars,
		httpClient:    &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:        logger,
	}

	if svc.url == "" {
		logger.Warn().
			Str("mode", svc.mode).
			Msg("No classifier endpoint configured")
	}

	return svc
}

// Classify returns a document type for text. Results below the
// configured confidence floor collapse to unknown. Types outside the
// supported set also collapse to unknown rather than leaking free-form
// labels downstream.
func (s *Service) Classify(ctx context.Context, text, fileName string) (*models.Classification, error) {
	if s.url == "" {
		return s.degrade(fileName, text, fmt.Errorf("no classifier endpoint configured"))
	}

	result, err := s.classifyRemote(ctx, text, fileName)
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return nil, err
		}
		return s.degrade(fileName, text, err)
	}

	if result.Confidence < s.minConfidence {
		s.logger.Debug().
			Str("doc_type", string(result.DocType)).
			Float64("confidence", result.Confidence).
			Float64("min_confidence", s.minConfidence).
			Msg("Classification below confidence floor")
		return &models.Classification{DocType: models.DocTypeUnknown, Confidence: result.Confidence}, nil
	}

	return result, nil
}

func (s *Service) classifyRemote(ctx context.Context, text, fileName string) (*models.Classification, error) {
	if s.maxChars > 0 && len(text) > s.maxChars {
		text = text[:s.maxChars]
	}

	jsonData, err := json.Marshal(classifyRequest{Text: text, FileName: fileName})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/classify", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, models.Cancelled(ctx.Err())
		}
		return nil, fmt.Errorf("classifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed classifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classify response: %w", err)
	}

	return &models.Classification{
		DocType:    models.ParseDocType(parsed.DocType),
		Confidence: parsed.Confidence,
	}, nil
}

// degrade applies the configured fallback policy after a classifier
// failure or when no endpoint exists.
func (s *Service) degrade(fileName, text string, cause error) (*models.Classification, error) {
	if s.mode == ModeUnavailable {
		return nil, models.NotAvailable(fmt.Errorf("classifier unavailable: %w", cause))
	}

	result := hintClassify(fileName, text)
	s.logger.Debug().
		Err(cause).
		Str("file_name", fileName).
		Str("doc_type", string(result.DocType)).
		Msg("Classifier degraded to filename hints")
	return result, nil
}

// hintClassify guesses a type from keywords in the filename and the
// head of the text.
func hintClassify(fileName, text string) *models.Classification {
	head := text
	if len(head) > 500 {
		head = head[:500]
	}
	haystack := strings.ToLower(fileName + " " + head)

	hints := []struct {
		docType  models.DocType
		keywords []string
	}{
		{models.DocTypeInvoice, []string{"invoice", "bill of sale"}},
		{models.DocTypeReceipt, []string{"receipt"}},
		{models.DocTypeContract, []string{"contract", "agreement"}},
		{models.DocTypeResume, []string{"resume", "curriculum vitae", "cv."}},
		{models.DocTypeReport, []string{"report"}},
	}

	for _, hint := range hints {
		for _, keyword := range hint.keywords {
			if strings.Contains(haystack, keyword) {
				return &models.Classification{DocType: hint.docType, Confidence: hintConfidence}
			}
		}
	}

	return &models.Classification{DocType: models.DocTypeUnknown, Confidence: 0}
}

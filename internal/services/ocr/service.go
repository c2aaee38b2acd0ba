// -----------------------------------------------------------------------
// OCR Service - Extract text from uploaded documents
// PDFs are split into single-page files with pdfcpu before OCR
// -----------------------------------------------------------------------

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// maxPDFPages caps how many pages of one document get OCRed. Pages
// beyond the cap are dropped; scanned bulk uploads routinely contain
// hundred-page appendixes that add nothing to classification.
const maxPDFPages = 25

// Service calls a sidecar OCR server over HTTP. The sidecar shares the
// uploads volume, so requests carry file paths rather than bytes.
type Service struct {
	url        string
	lang       string
	httpClient *http.Client
	tempDir    string
	logger     arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.OCREngine = (*Service)(nil)

type ocrRequest struct {
	Path string `json:"path"`
	Lang string `json:"lang"`
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewService creates an OCR service from configuration.
func NewService(cfg *common.OCRConfig, logger arbor.ILogger) *Service {
	tempDir := filepath.Join(os.TempDir(), "scriba-ocr")
	os.MkdirAll(tempDir, 0755)

	return &Service{
		url:        strings.TrimRight(cfg.URL, "/"),
		lang:       cfg.Lang,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		tempDir:    tempDir,
		logger:     logger,
	}
}

// Extract runs OCR on the blob at path. An unreadable or corrupt file
// is a permanent failure; a sidecar outage is retryable. Empty text
// with no error is a valid outcome for blank documents.
func (s *Service) Extract(ctx context.Context, path string) (*interfaces.OCRResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("uploaded file not readable: %w", err))
	}
	if info.IsDir() {
		return nil, models.Permanent(fmt.Errorf("uploaded path is a directory: %s", path))
	}

	if isPDF(path) {
		return s.extractPDF(ctx, path)
	}
	return s.recognize(ctx, path)
}

// extractPDF splits the document into single-page files and OCRs each
// page, concatenating text in page order.
func (s *Service) extractPDF(ctx context.Context, path string) (*interfaces.OCRResult, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to read PDF: %w", err))
	}

	pageCount := pdfCtx.PageCount
	if pageCount > maxPDFPages {
		s.logger.Warn().
			Str("path", path).
			Int("page_count", pageCount).
			Int("max_pages", maxPDFPages).
			Msg("PDF exceeds page cap, truncating")
		pageCount = maxPDFPages
	}

	conf := model.NewDefaultConfiguration()
	var builder strings.Builder
	var confidenceSum float64
	ocrPages := 0

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		pageFile := filepath.Join(s.tempDir, fmt.Sprintf("page_%d_%d.pdf", os.Getpid(), pageNum))
		if err := api.TrimFile(path, pageFile, []string{strconv.Itoa(pageNum)}, conf); err != nil {
			os.Remove(pageFile)
			return nil, models.Permanent(fmt.Errorf("failed to split PDF page %d: %w", pageNum, err))
		}

		result, err := s.recognize(ctx, pageFile)
		os.Remove(pageFile)
		if err != nil {
			return nil, err
		}

		if result.Text != "" {
			if builder.Len() > 0 {
				builder.WriteString("\n\n")
			}
			builder.WriteString(result.Text)
		}
		confidenceSum += result.Confidence
		ocrPages++
	}

	confidence := 0.0
	if ocrPages > 0 {
		confidence = confidenceSum / float64(ocrPages)
	}

	s.logger.Debug().
		Str("path", path).
		Int("pages", ocrPages).
		Int("text_length", builder.Len()).
		Float64("confidence", confidence).
		Msg("PDF OCR complete")

	return &interfaces.OCRResult{Text: builder.String(), Confidence: confidence}, nil
}

// recognize sends one file path to the OCR sidecar.
func (s *Service) recognize(ctx context.Context, path string) (*interfaces.OCRResult, error) {
	jsonData, err := json.Marshal(ocrRequest{Path: path, Lang: s.lang})
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to marshal OCR request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/ocr", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to create OCR request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, models.Cancelled(ctx.Err())
		}
		return nil, models.Transient(fmt.Errorf("ocr server unreachable: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to read OCR response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, models.Transient(fmt.Errorf("ocr server returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Permanent(fmt.Errorf("ocr server rejected file with status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.Transient(fmt.Errorf("failed to parse OCR response: %w", err))
	}

	return &interfaces.OCRResult{
		Text:       strings.TrimSpace(parsed.Text),
		Confidence: parsed.Confidence,
	}, nil
}

func isPDF(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 5)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, []byte("%PDF-"))
}

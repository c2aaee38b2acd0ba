// -----------------------------------------------------------------------
// Lexical Index - Meilisearch adapter for full-text document search
// -----------------------------------------------------------------------

package index

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

// MeiliIndex writes document records to a Meilisearch index. Upserts
// key on the record id, so a redelivered job overwrites its own earlier
// write instead of duplicating it.
type MeiliIndex struct {
	url        string
	adminKey   string
	indexName  string
	httpClient *http.Client
	logger     arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.LexicalIndex = (*MeiliIndex)(nil)

// NewMeiliIndex creates a lexical index adapter from configuration.
func NewMeiliIndex(cfg *common.LexicalConfig, logger arbor.ILogger) *MeiliIndex {
	return &MeiliIndex{
		url:        strings.TrimRight(cfg.URL, "/"),
		adminKey:   cfg.AdminKey,
		indexName:  cfg.IndexName,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:     logger,
	}
}

// EnsureIndex creates the index and applies search settings. Safe to
// call on every startup; an existing index is left in place.
func (m *MeiliIndex) EnsureIndex(ctx context.Context) error {
	createBody := map[string]string{
		"uid":        m.indexName,
		"primaryKey": "id",
	}
	status, body, err := m.request(ctx, http.MethodPost, "/indexes", createBody)
	if err != nil {
		return err
	}
	// 202 on create; 400 with index_already_exists when racing a
	// previous deployment's index.
	if status >= 300 && !bytes.Contains(body, []byte("index_already_exists")) {
		return models.Permanent(fmt.Errorf("failed to create index %s: status %d: %s", m.indexName, status, body))
	}

	settings := map[string]any{
		"searchableAttributes": []string{"file_name", "content", "summary", "doc_type"},
		"filterableAttributes": []string{"doc_type", "vector_indexed", "created_at"},
		"sortableAttributes":   []string{"created_at"},
	}
	status, body, err = m.request(ctx, http.MethodPatch, "/indexes/"+m.indexName+"/settings", settings)
	if err != nil {
		return err
	}
	if status >= 300 {
		return models.Permanent(fmt.Errorf("failed to apply index settings: status %d: %s", status, body))
	}

	m.logger.Info().
		Str("index", m.indexName).
		Msg("Lexical index ready")
	return nil
}

// Upsert writes one record, replacing any previous version with the
// same id.
func (m *MeiliIndex) Upsert(ctx context.Context, rec *models.DocumentRecord) error {
	status, body, err := m.request(ctx, http.MethodPost, "/indexes/"+m.indexName+"/documents?primaryKey=id", []*models.DocumentRecord{rec})
	if err != nil {
		return err
	}
	if status >= 500 {
		return models.Transient(fmt.Errorf("lexical index returned status %d: %s", status, body))
	}
	if status >= 300 {
		return models.Permanent(fmt.Errorf("lexical index rejected document %s: status %d: %s", rec.ID, status, body))
	}

	m.logger.Debug().
		Str("job_id", rec.ID).
		Str("doc_type", string(rec.DocType)).
		Msg("Document indexed")
	return nil
}

func (m *MeiliIndex) request(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, models.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, m.url+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, nil, models.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if m.adminKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.adminKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, nil, models.Cancelled(ctx.Err())
		}
		return 0, nil, models.Transient(fmt.Errorf("lexical index unreachable: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, models.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	return resp.StatusCode, body, nil
}

// -----------------------------------------------------------------------
// Vector Index - Qdrant adapter for semantic similarity search
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

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// QdrantIndex writes embedding vectors to a Qdrant collection using
// cosine distance. Point ids reuse the job id, so redelivered jobs
// overwrite their own points.
type QdrantIndex struct {
	baseURL    string
	collection string
	dimension  int
	httpClient *http.Client
	logger     arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.VectorIndex = (*QdrantIndex)(nil)

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// NewQdrantIndex creates a vector index adapter from configuration.
func NewQdrantIndex(cfg *common.VectorConfig, dimension int, logger arbor.ILogger) *QdrantIndex {
	return &QdrantIndex{
		baseURL:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		collection: cfg.Collection,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:     logger,
	}
}

// EnsureCollection creates the collection if missing. An existing
// collection with a different vector size is dropped and recreated:
// mixed-dimension points are unsearchable, so a clean rebuild beats a
// poisoned collection.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	status, body, err := q.request(ctx, http.MethodGet, "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusNotFound:
		return q.createCollection(ctx)
	case status == http.StatusOK:
		var info collectionInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return models.Transient(fmt.Errorf("failed to parse collection info: %w", err))
		}
		if info.Result.Config.Params.Vectors.Size == q.dimension {
			q.logger.Info().
				Str("collection", q.collection).
				Int("dimension", q.dimension).
				Msg("Vector collection ready")
			return nil
		}
		q.logger.Warn().
			Str("collection", q.collection).
			Int("existing_dimension", info.Result.Config.Params.Vectors.Size).
			Int("configured_dimension", q.dimension).
			Msg("Vector collection dimension mismatch, recreating")
		if status, body, err := q.request(ctx, http.MethodDelete, "/collections/"+q.collection, nil); err != nil {
			return err
		} else if status >= 300 {
			return models.Transient(fmt.Errorf("failed to drop collection: status %d: %s", status, body))
		}
		return q.createCollection(ctx)
	default:
		return models.Transient(fmt.Errorf("unexpected status %d checking collection: %s", status, body))
	}
}

func (q *QdrantIndex) createCollection(ctx context.Context) error {
	payload := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": "Cosine",
		},
	}
	status, body, err := q.request(ctx, http.MethodPut, "/collections/"+q.collection, payload)
	if err != nil {
		return err
	}
	if status >= 300 {
		return models.Transient(fmt.Errorf("failed to create collection: status %d: %s", status, body))
	}

	q.logger.Info().
		Str("collection", q.collection).
		Int("dimension", q.dimension).
		Msg("Vector collection created")
	return nil
}

// Upsert writes one point. Vectors that do not match the collection
// dimension are refused before any network call; a wrong-size vector is
// a bug upstream, not a retryable condition.
func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload models.VectorPayload) error {
	if len(vector) != q.dimension {
		return models.Permanent(fmt.Errorf("vector dimension %d does not match collection dimension %d", len(vector), q.dimension))
	}

	body := map[string]any{
		"points": []map[string]any{
			{
				"id":      id,
				"vector":  vector,
				"payload": payload,
			},
		},
	}
	status, respBody, err := q.request(ctx, http.MethodPut, "/collections/"+q.collection+"/points?wait=true", body)
	if err != nil {
		return err
	}
	if status >= 500 {
		return models.Transient(fmt.Errorf("vector index returned status %d: %s", status, respBody))
	}
	if status >= 300 {
		return models.Permanent(fmt.Errorf("vector index rejected point %s: status %d: %s", id, status, respBody))
	}

	q.logger.Debug().
		Str("job_id", id).
		Int("dimension", len(vector)).
		Msg("Vector indexed")
	return nil
}

func (q *QdrantIndex) request(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, models.Permanent(fmt.Errorf("failed to marshal request: %w", err))
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, models.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, nil, models.Cancelled(ctx.Err())
		}
		return 0, nil, models.Transient(fmt.Errorf("vector index unreachable: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, models.Transient(fmt.Errorf("failed to read response: %w", err))
	}
	return resp.StatusCode, body, nil
}

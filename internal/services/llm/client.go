// -----------------------------------------------------------------------
// Last Modified: Friday, 21st August 2026 4:12:44 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package llm

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
	"golang.org/x/time/rate"
)

// Client talks to an OpenAI-compatible inference server for both chat
// completions and embeddings. All calls share one rate limiter so a
// burst of concurrent jobs cannot stampede a single-GPU backend.
type Client struct {
	baseURL    string
	model      string
	embedModel string
	maxChars   int
	httpClient *http.Client
	embClient  *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

var _ interfaces.LLMService = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewClient creates an inference client from configuration.
func NewClient(cfg *common.LLMConfig, emb *common.EmbeddingConfig, logger arbor.ILogger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval := cfg.RateLimitDuration(); interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	client := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		embedModel: emb.Model,
		maxChars:   emb.MaxChars,
		httpClient: &http.Client{Timeout: cfg.TimeoutDuration()},
		embClient:  &http.Client{Timeout: emb.TimeoutDuration()},
		limiter:    limiter,
		logger:     logger,
	}

	logger.Info().
		Str("base_url", client.baseURL).
		Str("model", client.model).
		Str("embed_model", client.embedModel).
		Dur("timeout", cfg.TimeoutDuration()).
		Msg("LLM client initialized")

	return client
}

// Complete generates a single chat completion for prompt. When a
// response schema is supplied the request asks the server to constrain
// output to it; callers still validate what comes back.
func (c *Client) Complete(ctx context.Context, prompt string, opts interfaces.CompleteOptions) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", models.Cancelled(err)
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      false,
	}
	if opts.ResponseSchema != nil {
		reqBody.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   "structured_output",
				Schema: opts.ResponseSchema,
			},
		}
	}

	body, err := c.post(ctx, c.httpClient, c.baseURL+"/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", models.Transient(fmt.Errorf("failed to parse completion response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", models.Transient(fmt.Errorf("no choices in completion response"))
	}

	response := parsed.Choices[0].Message.Content
	c.logger.Debug().
		Int("prompt_length", len(prompt)).
		Int("response_length", len(response)).
		Msg("Chat completion generated")

	return response, nil
}

// Embed generates an embedding vector for text. Empty input returns an
// empty vector without a server round trip; over-long input is
// truncated to the configured character budget before embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return []float32{}, nil
	}
	if c.maxChars > 0 && len(text) > c.maxChars {
		c.logger.Debug().
			Int("original_length", len(text)).
			Int("max_chars", c.maxChars).
			Msg("Truncating embedding input")
		text = text[:c.maxChars]
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.Cancelled(err)
	}

	body, err := c.post(ctx, c.embClient, c.baseURL+"/embeddings", embeddingRequest{
		Model: c.embedModel,
		Input: text,
	})
	if err != nil {
		return nil, err
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.Transient(fmt.Errorf("failed to parse embedding response: %w", err))
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, models.Transient(fmt.Errorf("embedding response contained no vector"))
	}

	embedding := parsed.Data[0].Embedding
	c.logger.Debug().
		Int("dimension", len(embedding)).
		Msg("Embedding generated")

	return embedding, nil
}

// HealthCheck verifies the inference server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm server returned status %d", resp.StatusCode)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.embClient.CloseIdleConnections()
	return nil
}

// post sends a JSON request and classifies transport and status errors.
// Network failures and 5xx/429 responses are retryable; other non-2xx
// responses mean the request itself is bad and will never succeed.
func (c *Client) post(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, models.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, models.Cancelled(ctx.Err())
		}
		c.logger.Warn().Err(err).Str("url", url).Msg("LLM request failed")
		return nil, models.Transient(fmt.Errorf("llm request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("url", url).
			Msg("LLM server error")
		return nil, models.Transient(fmt.Errorf("llm server returned status %d: %s", resp.StatusCode, truncateBody(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Permanent(fmt.Errorf("llm server rejected request with status %d: %s", resp.StatusCode, truncateBody(body)))
	}

	return body, nil
}

func truncateBody(body []byte) string {
	const previewLen = 200
	if len(body) > previewLen {
		return string(body[:previewLen])
	}
	return string(body)
}

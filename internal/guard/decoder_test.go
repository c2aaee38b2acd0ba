package guard

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/ternarybob/scriba/internal/prompts"
)

// scriptedLLM returns canned completions in order.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
	lastOpts  interfaces.CompleteOptions
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, opts interfaces.CompleteOptions) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.lastOpts = opts
	if s.err != nil {
		return "", s.err
	}
	if s.calls > len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	return s.responses[s.calls-1], nil
}

func (s *scriptedLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

func piiPrompt(t *testing.T) *prompts.Prompt {
	t.Helper()
	registry, err := prompts.NewRegistry("", common.GetLogger())
	require.NoError(t, err)
	prompt, err := registry.Get(prompts.NameDetectPII)
	require.NoError(t, err)
	return prompt
}

func TestDecodeValidFirstTry(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"entities": [{"type": "email", "text": "a@b.com"}]}`,
	}}
	decoder := NewDecoder(llm, common.GetLogger())

	result, err := decoder.Decode(context.Background(), piiPrompt(t), "text", interfaces.CompleteOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result["entities"], 1)
	assert.Equal(t, 1, llm.calls)
}

func TestDecodeStripsMarkdownFences(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"```json\n{\"entities\": []}\n```",
	}}
	decoder := NewDecoder(llm, common.GetLogger())

	result, err := decoder.Decode(context.Background(), piiPrompt(t), "text", interfaces.CompleteOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, llm.calls)
}

func TestDecodeRepairsInvalidOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`this is not json at all`,
		`{"entities": [{"type": "favorite_color", "text": "blue"}]}`,
		`{"entities": []}`,
	}}
	decoder := NewDecoder(llm, common.GetLogger())

	result, err := decoder.Decode(context.Background(), piiPrompt(t), "text", interfaces.CompleteOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, llm.calls)

	// Repair rounds carry the previous bad output back to the model,
	// plus the schema in the prompt body for servers that ignore
	// response_format.
	assert.Contains(t, llm.prompts[1], "this is not json at all")
	assert.Contains(t, llm.prompts[1], `"entities"`)
	assert.Contains(t, llm.prompts[1], "Required JSON schema")
	assert.Contains(t, llm.prompts[2], "favorite_color")
}

func TestDecodeExhaustedRepairsDegrades(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`still not json`}}
	decoder := NewDecoder(llm, common.GetLogger())

	result, err := decoder.Decode(context.Background(), piiPrompt(t), "text", interfaces.CompleteOptions{})
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, repairAttempts+1, llm.calls)
}

func TestDecodeTransportErrorPropagates(t *testing.T) {
	llm := &scriptedLLM{err: models.Transient(fmt.Errorf("connection refused"))}
	decoder := NewDecoder(llm, common.GetLogger())

	_, err := decoder.Decode(context.Background(), piiPrompt(t), "text", interfaces.CompleteOptions{})
	require.Error(t, err)
	assert.Equal(t, models.KindTransient, models.KindOf(err))
	assert.Equal(t, 1, llm.calls)
}

func TestDecodeRequestsSchemaConstrainedOutput(t *testing.T) {
	prompt := piiPrompt(t)
	llm := &scriptedLLM{responses: []string{`{"entities": []}`}}
	decoder := NewDecoder(llm, common.GetLogger())

	opts := interfaces.CompleteOptions{MaxTokens: 100}
	_, err := decoder.Decode(context.Background(), prompt, "text", opts)
	require.NoError(t, err)
	assert.Equal(t, 100, llm.lastOpts.MaxTokens)
	assert.NotNil(t, llm.lastOpts.ResponseSchema, "schema must be forwarded to the model")
}

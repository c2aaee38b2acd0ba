// -----------------------------------------------------------------------
// Guarded Decoder - Schema-validated JSON output from LLM completions
// -----------------------------------------------------------------------

package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/prompts"
)

// repairAttempts is how many times an invalid completion is re-asked
// with the validation error before giving up.
const repairAttempts = 2

// Decoder turns free-form LLM output into schema-valid JSON objects.
// Model noise (markdown fences, prose, invalid JSON) triggers repair
// rounds; exhausting them yields a nil result with no error so callers
// can degrade instead of failing the job. Transport errors propagate.
type Decoder struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewDecoder creates a guarded decoder around an LLM service.
func NewDecoder(llm interfaces.LLMService, logger arbor.ILogger) *Decoder {
	return &Decoder{llm: llm, logger: logger}
}

// Decode renders the prompt with text, requests a completion, and
// validates the output against the prompt schema. Returns (nil, nil)
// when the model never produced valid output.
func (d *Decoder) Decode(ctx context.Context, prompt *prompts.Prompt, text string, opts interfaces.CompleteOptions) (map[string]any, error) {
	if prompt.Schema == nil {
		return nil, fmt.Errorf("prompt %s has no schema", prompt.Name)
	}
	opts.ResponseSchema = prompt.RawSchema

	request := prompt.Render(text)
	for attempt := 0; attempt <= repairAttempts; attempt++ {
		output, err := d.llm.Complete(ctx, request, opts)
		if err != nil {
			return nil, err
		}

		result, validationErr := parseAndValidate(prompt, output)
		if validationErr == nil {
			if attempt > 0 {
				d.logger.Debug().
					Str("prompt", prompt.Name).
					Int("attempt", attempt+1).
					Msg("Repair round produced valid output")
			}
			return result, nil
		}

		d.logger.Warn().
			Str("prompt", prompt.Name).
			Int("attempt", attempt+1).
			Err(validationErr).
			Msg("LLM output failed schema validation")

		request = repairPrompt(prompt, output, validationErr)
	}

	d.logger.Warn().
		Str("prompt", prompt.Name).
		Int("attempts", repairAttempts+1).
		Msg("Exhausted repair attempts, degrading")
	return nil, nil
}

func parseAndValidate(prompt *prompts.Prompt, output string) (map[string]any, error) {
	cleaned := stripFences(output)

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	if err := prompt.Schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("output does not match schema: %w", err)
	}

	result, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("output is not a JSON object")
	}
	return result, nil
}

// repairPrompt restates the schema in the prompt body: servers that
// ignore response_format still see what shape is required.
func repairPrompt(prompt *prompts.Prompt, previous string, validationErr error) string {
	schemaJSON, err := json.Marshal(prompt.RawSchema)
	if err != nil {
		schemaJSON = []byte("{}")
	}
	return fmt.Sprintf(`Your previous response was not valid. Error: %s

Previous response:
%s

Required JSON schema:
%s

Return only corrected JSON matching the required schema. No explanations, no markdown.`, validationErr, previous, schemaJSON)
}

// stripFences removes a markdown code fence wrapper and any prose
// around the outermost JSON object.
func stripFences(output string) string {
	cleaned := strings.TrimSpace(output)

	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	// Models sometimes wrap the object in commentary. Cut to the
	// outermost braces when both exist.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}
	return cleaned
}

// -----------------------------------------------------------------------
// Prompt Registry - Built-in prompt templates with file overrides
// -----------------------------------------------------------------------

package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	NameSummarize = "summarize"
	NameDetectPII = "detect_pii"

	// Both placeholder spellings are accepted; prompt files written for
	// double-brace template engines keep working unchanged.
	textPlaceholder       = "{TEXT}"
	textPlaceholderDouble = "{{TEXT}}"
)

// Prompt is one named template with an optional response schema. The
// schema is compiled once at load; RawSchema is the same schema as a
// plain map for servers that accept response_format constraints.
type Prompt struct {
	Name      string
	Template  string
	Schema    *jsonschema.Schema
	RawSchema map[string]any
}

// Render substitutes the document text into the template. Substitution
// is literal, not a template language; prompt files cannot execute
// anything. The double-brace form must go first or its outer braces
// would survive the single-brace pass.
func (p *Prompt) Render(text string) string {
	rendered := strings.ReplaceAll(p.Template, textPlaceholderDouble, text)
	return strings.ReplaceAll(rendered, textPlaceholder, text)
}

// promptFile is the on-disk override format: <name>.toml or <name>.yaml
// in the configured prompts directory.
type promptFile struct {
	Template string `toml:"template" yaml:"template"`
	Schema   string `toml:"schema" yaml:"schema"`
}

// Registry holds all loaded prompts keyed by name. Extraction prompts
// are named extract_<doc_type>.
type Registry struct {
	prompts map[string]*Prompt
	logger  arbor.ILogger
}

// NewRegistry loads built-in prompts, overlays any *.toml or *.yaml
// files from dir, and verifies every supported document type has an extraction
// prompt with a valid schema. A broken override fails startup rather
// than surfacing mid-job.
func NewRegistry(dir string, logger arbor.ILogger) (*Registry, error) {
	registry := &Registry{
		prompts: make(map[string]*Prompt),
		logger:  logger,
	}

	for name, def := range builtinPrompts {
		prompt, err := buildPrompt(name, def.template, def.schema)
		if err != nil {
			return nil, fmt.Errorf("invalid built-in prompt %s: %w", name, err)
		}
		registry.prompts[name] = prompt
	}

	if dir != "" {
		if err := registry.overlay(dir); err != nil {
			return nil, err
		}
	}

	for _, docType := range models.SupportedDocTypes {
		name := extractionName(docType)
		prompt, ok := registry.prompts[name]
		if !ok {
			return nil, fmt.Errorf("missing extraction prompt %s", name)
		}
		if prompt.Schema == nil {
			return nil, fmt.Errorf("extraction prompt %s has no schema", name)
		}
	}
	for _, name := range []string{NameSummarize, NameDetectPII} {
		if _, ok := registry.prompts[name]; !ok {
			return nil, fmt.Errorf("missing prompt %s", name)
		}
	}

	logger.Info().
		Int("count", len(registry.prompts)).
		Str("overlay_dir", dir).
		Msg("Prompt registry loaded")

	return registry, nil
}

func (r *Registry) overlay(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn().Str("dir", dir).Msg("Prompts directory does not exist, using built-ins")
			return nil
		}
		return fmt.Errorf("failed to read prompts directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".toml" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		var file promptFile
		if ext == ".toml" {
			err = toml.Unmarshal(data, &file)
		} else {
			err = yaml.Unmarshal(data, &file)
		}
		if err != nil {
			return fmt.Errorf("failed to parse prompt file %s: %w", path, err)
		}
		if file.Template == "" {
			return fmt.Errorf("prompt file %s has no template", path)
		}

		// Overrides inherit the built-in schema unless they carry
		// their own.
		schema := file.Schema
		if schema == "" {
			if def, ok := builtinPrompts[name]; ok {
				schema = def.schema
			}
		}

		prompt, err := buildPrompt(name, file.Template, schema)
		if err != nil {
			return fmt.Errorf("invalid prompt file %s: %w", path, err)
		}
		r.prompts[name] = prompt

		r.logger.Debug().
			Str("name", name).
			Str("path", path).
			Msg("Prompt override loaded")
	}
	return nil
}

func buildPrompt(name, template, schemaJSON string) (*Prompt, error) {
	if !strings.Contains(template, textPlaceholder) {
		return nil, fmt.Errorf("template missing %s placeholder", textPlaceholder)
	}

	prompt := &Prompt{Name: name, Template: template}
	if schemaJSON == "" {
		return prompt, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode schema: %w", err)
	}

	prompt.Schema = schema
	prompt.RawSchema = raw
	return prompt, nil
}

func extractionName(docType models.DocType) string {
	return "extract_" + string(docType)
}

// GetExtraction returns the extraction prompt for a supported document
// type. Unsupported types have no prompt.
func (r *Registry) GetExtraction(docType models.DocType) (*Prompt, error) {
	if !docType.Supported() {
		return nil, fmt.Errorf("no extraction prompt for document type %q", docType)
	}
	prompt, ok := r.prompts[extractionName(docType)]
	if !ok {
		return nil, fmt.Errorf("extraction prompt %s not loaded", extractionName(docType))
	}
	return prompt, nil
}

// Get returns a prompt by name.
func (r *Registry) Get(name string) (*Prompt, error) {
	prompt, ok := r.prompts[name]
	if !ok {
		return nil, fmt.Errorf("prompt %s not loaded", name)
	}
	return prompt, nil
}

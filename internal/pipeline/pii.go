package pipeline

import (
	"regexp"
	"strings"

	"github.com/ternarybob/scriba/internal/models"
)

// piiTypes is the closed set of entity labels the pipeline reports.
// The detection schema enforces the same set on the model side; the
// filter here covers regex hits and any future prompt drift.
var piiTypes = map[string]bool{
	"email":       true,
	"phone":       true,
	"ssn":         true,
	"name":        true,
	"address":     true,
	"credit_card": true,
}

// Regex patterns run as a secondary pass regardless of whether the LLM
// detection succeeded. They catch the mechanical formats a model
// sometimes skips in long OCR text.
var piiPatterns = []struct {
	piiType string
	re      *regexp.Regexp
}{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"phone", regexp.MustCompile(`\b(?:\+?1[ \-.]?)?\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}\b`)},
}

// regexScan finds mechanically detectable PII in text.
func regexScan(text string) []models.PIIEntity {
	var entities []models.PIIEntity
	for _, pattern := range piiPatterns {
		for _, match := range pattern.re.FindAllString(text, -1) {
			entities = append(entities, models.PIIEntity{
				Type: pattern.piiType,
				Text: strings.TrimSpace(match),
			})
		}
	}
	return entities
}

// parseEntities converts decoded LLM output into entities, dropping
// anything outside the supported type set.
func parseEntities(data map[string]any) []models.PIIEntity {
	if data == nil {
		return nil
	}
	raw, ok := data["entities"].([]any)
	if !ok {
		return nil
	}

	var entities []models.PIIEntity
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		piiType, _ := entry["type"].(string)
		text, _ := entry["text"].(string)
		if !piiTypes[piiType] || text == "" {
			continue
		}
		entities = append(entities, models.PIIEntity{Type: piiType, Text: text})
	}
	return entities
}

// mergeEntities combines detection passes, deduplicating on type plus
// normalized text.
func mergeEntities(passes ...[]models.PIIEntity) []models.PIIEntity {
	seen := make(map[string]bool)
	var merged []models.PIIEntity
	for _, pass := range passes {
		for _, entity := range pass {
			key := entity.Type + "\x00" + strings.ToLower(strings.TrimSpace(entity.Text))
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, entity)
		}
	}
	return merged
}

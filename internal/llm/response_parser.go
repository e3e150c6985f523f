package llm

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/chronicle/pkg/types"
)

// ExtractionResult is the validated output of one extraction call.
// UnresolvedRelationships holds edges whose endpoints were listed but whose
// predicate is not in the vocabulary; callers may still salvage them by
// inferring a predicate from the endpoint types.
type ExtractionResult struct {
	Entities                []*types.EntityCandidate
	Relationships           []*types.RelationshipCandidate
	UnresolvedRelationships []*types.RelationshipCandidate
}

type extractionResponse struct {
	Entities []struct {
		Name       string            `json:"name"`
		Type       string            `json:"type"`
		Aliases    []string          `json:"aliases"`
		Attributes map[string]string `json:"attributes"`
		Confidence *float64          `json:"confidence"`
	} `json:"entities"`
	Relationships []struct {
		Subject    string   `json:"subject"`
		Predicate  string   `json:"predicate"`
		Object     string   `json:"object"`
		Confidence *float64 `json:"confidence"`
	} `json:"relationships"`
}

// defaultConfidence is used when the model omits the confidence field.
const defaultConfidence = 0.5

// ParseExtractionResponse parses an LLM extraction response into validated
// candidates. Entities with unknown types or empty names and relationships
// with dangling name references are skipped with a log line rather than
// failing the whole response. Relationships with valid endpoints but an
// out-of-vocabulary predicate land in UnresolvedRelationships; an error is
// returned only when no JSON object can be parsed at all.
func ParseExtractionResponse(text string) (*ExtractionResult, error) {
	jsonText := extractJSON(text)

	var resp extractionResponse
	if err := json.Unmarshal([]byte(jsonText), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	result := &ExtractionResult{}
	known := make(map[string]bool)

	for _, e := range resp.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			log.Printf("llm: skipping entity with empty name")
			continue
		}
		if !types.IsValidEntityType(e.Type) {
			log.Printf("llm: skipping entity %q with unknown type %q", name, e.Type)
			continue
		}
		result.Entities = append(result.Entities, &types.EntityCandidate{
			Name:       name,
			Type:       e.Type,
			Aliases:    cleanStrings(e.Aliases),
			Attributes: e.Attributes,
			Confidence: clampConfidence(e.Confidence),
		})
		known[strings.ToLower(name)] = true
	}

	for _, r := range resp.Relationships {
		subject := strings.TrimSpace(r.Subject)
		object := strings.TrimSpace(r.Object)
		if subject == "" || object == "" {
			log.Printf("llm: skipping relationship with empty endpoint")
			continue
		}
		if !known[strings.ToLower(subject)] || !known[strings.ToLower(object)] {
			log.Printf("llm: skipping relationship %s→%s referencing unlisted entity", subject, object)
			continue
		}
		candidate := &types.RelationshipCandidate{
			SubjectName: subject,
			Predicate:   r.Predicate,
			ObjectName:  object,
			Confidence:  clampConfidence(r.Confidence),
		}
		if !types.IsValidPredicate(r.Predicate) {
			log.Printf("llm: relationship %s→%s carries unknown predicate %q, deferring to type inference", subject, object, r.Predicate)
			result.UnresolvedRelationships = append(result.UnresolvedRelationships, candidate)
			continue
		}
		result.Relationships = append(result.Relationships, candidate)
	}

	return result, nil
}

// extractJSON extracts the first balanced JSON object from a string that may
// contain extra text. LLMs add explanations and markdown fences despite
// instructions; this finds the object boundaries by brace matching, tracking
// string literals so braces inside them don't count.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // no JSON found; let the parser produce the error
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	// Unbalanced braces: return from the first brace and let the parser fail.
	return text[start:]
}

func clampConfidence(c *float64) float64 {
	if c == nil {
		return defaultConfidence
	}
	switch {
	case *c < 0:
		return 0
	case *c > 1:
		return 1
	default:
		return *c
	}
}

func cleanStrings(ss []string) []string {
	var out []string
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

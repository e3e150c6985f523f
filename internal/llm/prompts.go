package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/chronicle/pkg/types"
)

// extractionPromptTemplate asks for entities and relationships in one call.
// The type and predicate vocabularies are closed; anything outside them is
// dropped at parse time, so the prompt states them explicitly.
const extractionPromptTemplate = `You are an information extraction system. Extract entities and relationships from the text below.

Return ONLY a JSON object, no explanations, in exactly this shape:
{
  "entities": [
    {"name": "...", "type": "...", "aliases": ["..."], "attributes": {"key": "value"}, "confidence": 0.9}
  ],
  "relationships": [
    {"subject": "...", "predicate": "...", "object": "...", "confidence": 0.9}
  ]
}

Rules:
- "type" MUST be one of: %s
- "predicate" MUST be one of: %s
- "subject" and "object" refer to entity names from the "entities" list.
- "aliases" lists alternative names mentioned in the text (may be empty).
- "attributes" captures stated facts about the entity as string key/value pairs (may be empty).
- "confidence" is your certainty in [0.0, 1.0].
- Extract only what the text states or strongly implies. Do not invent.

Text:
%s`

// BuildExtractionPrompt renders the combined entity/relationship extraction
// prompt for one interaction's content.
func BuildExtractionPrompt(content string) string {
	return fmt.Sprintf(extractionPromptTemplate,
		strings.Join(types.ValidEntityTypes, ", "),
		strings.Join(types.ValidPredicates, ", "),
		content)
}

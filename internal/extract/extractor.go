// Package extract turns raw interaction text into entity and relationship
// candidates using an LLM, with heuristic fallbacks for relationships the
// model misses.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/pkg/types"
)

// Extractor produces candidates from one interaction's content.
type Extractor interface {
	Extract(ctx context.Context, interaction *types.Interaction) (*llm.ExtractionResult, error)
}

// ExtractionError wraps an extraction failure with a retryability signal.
// Transport failures and malformed model output are worth retrying; a tripped
// circuit breaker or cancelled context is not.
type ExtractionError struct {
	Err       error
	Retryable bool
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// LLMExtractor implements Extractor on a TextGenerator.
type LLMExtractor struct {
	generator llm.TextGenerator
}

// NewLLMExtractor creates an extractor backed by the given text generator.
func NewLLMExtractor(generator llm.TextGenerator) *LLMExtractor {
	return &LLMExtractor{generator: generator}
}

// Extract prompts the model with the interaction content and parses the
// response. Relationships the model reported with an out-of-vocabulary
// predicate are salvaged per edge by type-pair inference, and when the model
// lists entities but no relationships at all, the same rules supply
// low-confidence edges so co-mentioned entities are still connected in the
// graph.
func (e *LLMExtractor) Extract(ctx context.Context, interaction *types.Interaction) (*llm.ExtractionResult, error) {
	if interaction == nil || interaction.Content == "" {
		return nil, &ExtractionError{Err: errors.New("interaction content is empty"), Retryable: false}
	}

	response, err := e.generator.Complete(ctx, llm.BuildExtractionPrompt(interaction.Content))
	if err != nil {
		return nil, &ExtractionError{Err: err, Retryable: isRetryable(ctx, err)}
	}

	result, err := llm.ParseExtractionResponse(response)
	if err != nil {
		// Malformed output is usually transient model noise.
		return nil, &ExtractionError{Err: err, Retryable: true}
	}

	if salvaged := resolvePredicates(result.UnresolvedRelationships, result.Entities); len(salvaged) > 0 {
		result.Relationships = append(result.Relationships, salvaged...)
		log.Printf("extract: resolved %d unknown-predicate relationships by type rules for %s",
			len(salvaged), interaction.ID)
	}
	result.UnresolvedRelationships = nil

	if len(result.Entities) > 1 && len(result.Relationships) == 0 {
		result.Relationships = inferRelationships(result.Entities)
		if len(result.Relationships) > 0 {
			log.Printf("extract: inferred %d relationships by type rules for %s",
				len(result.Relationships), interaction.ID)
		}
	}

	return result, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, llm.ErrCircuitOpen) {
		return false
	}
	return true
}

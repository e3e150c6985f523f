package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

const (
	// charsPerToken is the estimation ratio: one token per four characters.
	charsPerToken = 4

	// perItemTokenOverhead accounts for the separator and framing around
	// each included item.
	perItemTokenOverhead = 3

	// defaultAssembleLimit is how many search results the assembler
	// considers when the caller doesn't say.
	defaultAssembleLimit = 20

	// itemTimeFormat prefixes each context block with its event time.
	itemTimeFormat = "2006-01-02 15:04"
)

// AssembledContext is a ready-to-inject context block with its report.
type AssembledContext struct {
	Text   string               `json:"text"`
	Report types.AssemblyReport `json:"report"`

	// ItemIDs are the memory items whose content made it into Text, in
	// inclusion order. Callers that consume the context pass these to
	// RecordAccess.
	ItemIDs []string `json:"item_ids,omitempty"`
}

// Assemble retrieves items for the query and greedily packs them into
// maxTokens, best-ranked first. When even the best item alone exceeds the
// budget, its content is truncated to fit so the caller always gets
// something; the report says so.
func (e *Engine) Assemble(ctx context.Context, query string, maxTokens, limit int) (*AssembledContext, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: maxTokens must be positive", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultAssembleLimit
	}

	results, err := e.Search(ctx, SearchOptions{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}

	assembled := &AssembledContext{
		Report: types.AssemblyReport{ItemsConsidered: len(results)},
	}

	var blocks []string
	remaining := maxTokens
	for _, result := range results {
		block := formatItem(result.Item)
		cost := estimateTokens(block)

		if cost <= remaining {
			blocks = append(blocks, block)
			remaining -= cost
			assembled.Report.ItemsIncluded++
			assembled.ItemIDs = append(assembled.ItemIDs, result.Item.ID)
			continue
		}

		// Nothing fit yet: truncate the best item into the budget. A budget
		// too small for any content still reports Truncated so the caller can
		// tell "nothing fit" from "nothing matched".
		if assembled.Report.ItemsIncluded == 0 {
			truncated := truncateToTokens(block, remaining)
			if truncated != "" {
				blocks = append(blocks, truncated)
				remaining -= estimateTokens(truncated)
				assembled.Report.ItemsIncluded = 1
				assembled.ItemIDs = append(assembled.ItemIDs, result.Item.ID)
			}
			assembled.Report.Truncated = true
		}
		break
	}

	assembled.Text = strings.Join(blocks, "\n\n")
	assembled.Report.EstimatedTokens = maxTokens - remaining
	return assembled, nil
}

func formatItem(item *types.MemoryItem) string {
	return fmt.Sprintf("[%s] %s", item.Timestamp.Format(itemTimeFormat), item.Content)
}

// estimateTokens approximates the token cost of one context block.
func estimateTokens(text string) int {
	return (len(text)+charsPerToken-1)/charsPerToken + perItemTokenOverhead
}

// truncateToTokens cuts text so its estimated cost fits the budget.
// Returns "" when the budget can't hold even the overhead.
func truncateToTokens(text string, budget int) string {
	if budget <= perItemTokenOverhead {
		return ""
	}
	maxChars := (budget - perItemTokenOverhead) * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	// Back off to a rune boundary.
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

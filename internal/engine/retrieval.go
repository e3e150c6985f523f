package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

const (
	// recencyHalfLife is the age at which the recency component halves.
	recencyHalfLife = 30 * 24 * time.Hour

	// scoreEpsilon: scores closer than this are treated as tied and broken
	// deterministically (newer event time first, then lower sequence).
	scoreEpsilon = 1e-9

	// candidatePoolSize caps how many items are scored per query.
	candidatePoolSize = 500

	// Score component weights. They sum to 1.
	weightSimilarity = 0.55
	weightRecency    = 0.25
	weightGraph      = 0.15
	weightAccess     = 0.05
)

// SearchOptions configure one retrieval query.
type SearchOptions struct {
	Query   string
	Limit   int
	Filters *storage.ItemFilters
}

// ScoreComponents breaks a result score down for explainability.
type ScoreComponents struct {
	Similarity  float64 `json:"similarity"`
	Recency     float64 `json:"recency"`
	GraphBoost  float64 `json:"graph_boost"`
	AccessBoost float64 `json:"access_boost"`
}

// SearchResult is one ranked memory item.
type SearchResult struct {
	Item       *types.MemoryItem `json:"item"`
	Score      float64           `json:"score"`
	Components ScoreComponents   `json:"components"`
}

// Search ranks memory items against the query by embedding similarity,
// recency decay, graph proximity and access frequency. Without an embedder
// (or when embedding the query fails) similarity degrades to term matching.
// Ordering is fully deterministic: ties within scoreEpsilon go to the newer
// item, then to the lower insertion sequence. The call is read-only; access
// statistics move only through RecordAccess.
func (e *Engine) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidInput)
	}
	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", storage.ErrInvalidInput)
	}

	var queryVector []float32
	if e.embedder != nil {
		vector, err := e.embedder.Embed(ctx, query)
		if err != nil {
			log.Printf("engine: query embedding failed (falling back to text matching): %v", err)
		} else {
			queryVector = vector
		}
	}

	boost := e.graphBoostMap(ctx, query)

	candidates, err := e.collectCandidates(ctx, queryVector, opts.Filters)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	queryLower := strings.ToLower(query)
	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		components := ScoreComponents{
			Similarity:  c.similarity,
			Recency:     recencyScore(now, c.item.RecordedAt),
			GraphBoost:  graphBoostFor(c.item, boost),
			AccessBoost: accessBoost(c.item.AccessCount),
		}
		if queryVector == nil {
			components.Similarity = textMatchScore(c.item.Content, queryLower)
		}
		score := weightSimilarity*components.Similarity +
			weightRecency*components.Recency +
			weightGraph*components.GraphBoost +
			weightAccess*components.AccessBoost
		results = append(results, SearchResult{Item: c.item, Score: score, Components: components})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if math.Abs(a.Score-b.Score) >= scoreEpsilon {
			return a.Score > b.Score
		}
		if !a.Item.Timestamp.Equal(b.Item.Timestamp) {
			return a.Item.Timestamp.After(b.Item.Timestamp)
		}
		return a.Item.Seq < b.Item.Seq
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results, nil
}

// RecordAccess bumps the access statistics for the given items. Search and
// Assemble are read-only; the consumer that actually used the results reports
// it here, and the persisted counts feed the access boost on later queries.
func (e *Engine) RecordAccess(ctx context.Context, itemIDs []string) {
	for _, id := range itemIDs {
		if err := e.stores.Items.TouchItem(ctx, id); err != nil {
			log.Printf("engine: touch %s failed: %v", id, err)
		}
	}
}

type scoredCandidate struct {
	item       *types.MemoryItem
	similarity float64
}

// collectCandidates gathers the scoring pool. With a query vector and a
// store that supports native vector search (and no filters to re-apply), it
// delegates similarity ordering to the store; otherwise it lists items and
// computes cosine similarity against stored embeddings.
func (e *Engine) collectCandidates(ctx context.Context, queryVector []float32, filters *storage.ItemFilters) ([]scoredCandidate, error) {
	if queryVector != nil && filters == nil {
		if searcher, ok := e.stores.Items.(storage.VectorSearcher); ok && searcher.VectorSearchAvailable() {
			scored, err := searcher.NearestItems(ctx, queryVector, candidatePoolSize)
			if err == nil {
				candidates := make([]scoredCandidate, len(scored))
				for i, s := range scored {
					candidates[i] = scoredCandidate{item: s.Item, similarity: s.Similarity}
				}
				return candidates, nil
			}
			log.Printf("engine: native vector search failed (scanning instead): %v", err)
		}
	}

	items, err := e.stores.Items.ListItems(ctx, filters, candidatePoolSize)
	if err != nil {
		return nil, fmt.Errorf("engine: list items: %w", err)
	}

	candidates := make([]scoredCandidate, 0, len(items))
	for _, item := range items {
		c := scoredCandidate{item: item}
		if queryVector != nil && e.stores.Embeddings != nil {
			if vector, err := e.stores.Embeddings.GetEmbedding(ctx, item.ID); err == nil {
				c.similarity = cosineSimilarity(queryVector, vector)
			}
			// Items without a stored vector keep similarity 0 and rank on
			// recency and graph signals alone.
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// graphBoostMap resolves entities mentioned in the query and expands a
// bounded subgraph around them, yielding a per-entity boost that falls off
// with hop distance. Expansions are memoized until the graph changes.
func (e *Engine) graphBoostMap(ctx context.Context, query string) map[string]float64 {
	seeds := e.seedEntities(ctx, query)
	if len(seeds) == 0 {
		return nil
	}

	key := strings.Join(seeds, ",")
	subgraph, ok := e.subgraphCache.Get(key)
	if !ok {
		var err error
		subgraph, err = e.stores.Graph.QuerySubgraph(ctx, seeds, e.config.SubgraphBounds)
		if err != nil {
			log.Printf("engine: subgraph expansion failed (no graph boost): %v", err)
			return nil
		}
		e.subgraphCache.Add(key, subgraph)
	}

	boost := make(map[string]float64, len(subgraph.HopDistance))
	for entityID, hop := range subgraph.HopDistance {
		boost[entityID] = 1.0 / float64(1+hop)
	}
	return boost
}

// seedEntities looks up the whole query and its individual terms as entity
// names, returning matched entity IDs sorted for a stable cache key.
func (e *Engine) seedEntities(ctx context.Context, query string) []string {
	seen := make(map[string]bool)
	tryName := func(name string) {
		entity, err := e.stores.Graph.FindEntityByName(ctx, name)
		if err == nil {
			seen[entity.ID] = true
		}
	}

	tryName(query)
	for _, term := range strings.Fields(query) {
		if len(term) > 2 {
			tryName(term)
		}
	}

	seeds := make([]string, 0, len(seen))
	for id := range seen {
		seeds = append(seeds, id)
	}
	sort.Strings(seeds)
	return seeds
}

func graphBoostFor(item *types.MemoryItem, boost map[string]float64) float64 {
	if len(boost) == 0 {
		return 0
	}
	best := 0.0
	for _, entityID := range item.EntityIDs {
		if b, ok := boost[entityID]; ok && b > best {
			best = b
		}
	}
	return best
}

// recencyScore decays exponentially with item age at recencyHalfLife.
func recencyScore(now, recordedAt time.Time) float64 {
	age := now.Sub(recordedAt)
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
}

// accessBoost grows logarithmically and saturates at 1 around 100 accesses.
func accessBoost(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	return math.Min(1.0, math.Log1p(float64(accessCount))/math.Log(101))
}

// textMatchScore is the fraction of query terms present in the content.
func textMatchScore(content, queryLower string) float64 {
	terms := strings.Fields(queryLower)
	if len(terms) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(contentLower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

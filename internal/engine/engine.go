// Package engine orchestrates the Chronicle memory system: the evolution
// coordinator turns interactions into graph updates and memory items, the
// retrieval engine ranks items for a query, and the assembler packs ranked
// items into a token budget.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/chronicle/internal/extract"
	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

// Config tunes the engine.
type Config struct {
	// ExtractionRetries is the retry budget for a failed extraction call.
	// Default: 3.
	ExtractionRetries int

	// RetryBackoff is the initial backoff between extraction retries; it
	// doubles per attempt. Default: 500ms.
	RetryBackoff time.Duration

	// SubgraphCacheSize is the number of cached subgraph expansions kept for
	// retrieval boosting. Default: 128.
	SubgraphCacheSize int

	// SubgraphBounds limit graph expansion during retrieval boosting.
	SubgraphBounds storage.SubgraphBounds
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ExtractionRetries: 3,
		RetryBackoff:      500 * time.Millisecond,
		SubgraphCacheSize: 128,
	}
}

func (c *Config) applyDefaults() {
	if c.ExtractionRetries <= 0 {
		c.ExtractionRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.SubgraphCacheSize <= 0 {
		c.SubgraphCacheSize = 128
	}
	c.SubgraphBounds.Normalize()
}

// Stores bundles the storage interfaces the engine needs. Graph and
// Interactions always come from the SQLite store; Items and Embeddings may
// be served by Postgres instead.
type Stores struct {
	Graph        storage.GraphStore
	Interactions storage.InteractionStore
	Items        storage.MemoryItemStore
	Embeddings   storage.EmbeddingStore
}

// Engine is the top-level orchestrator.
type Engine struct {
	config    Config
	stores    Stores
	extractor extract.Extractor
	embedder  llm.EmbeddingGenerator

	// subgraphCache memoizes bounded expansions keyed by the sorted seed
	// entity IDs. Invalidated wholesale whenever the graph changes.
	subgraphCache *lru.Cache[string, *storage.Subgraph]

	// clock is swappable in tests.
	clock func() time.Time

	mu            sync.RWMutex
	onStateChange func(interactionID string, state types.EvolutionState)
}

// New creates an engine. The extractor may be nil (evolution is then
// rejected) and the embedder may be nil (retrieval falls back to text
// matching).
func New(stores Stores, extractor extract.Extractor, embedder llm.EmbeddingGenerator, cfg Config) (*Engine, error) {
	if stores.Graph == nil || stores.Interactions == nil || stores.Items == nil {
		return nil, fmt.Errorf("graph, interaction and item stores are required")
	}
	cfg.applyDefaults()

	cache, err := lru.New[string, *storage.Subgraph](cfg.SubgraphCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create subgraph cache: %w", err)
	}

	return &Engine{
		config:        cfg,
		stores:        stores,
		extractor:     extractor,
		embedder:      embedder,
		subgraphCache: cache,
		clock:         time.Now,
	}, nil
}

// SetOnStateChange registers a callback fired on every evolution state
// transition (used for the event feed). Must be set before serving traffic.
func (e *Engine) SetOnStateChange(callback func(interactionID string, state types.EvolutionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = callback
}

func (e *Engine) notifyStateChange(interactionID string, state types.EvolutionState) {
	e.mu.RLock()
	callback := e.onStateChange
	e.mu.RUnlock()
	if callback != nil {
		callback(interactionID, state)
	}
}

// GetEntity exposes graph lookups to the API layer.
func (e *Engine) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	return e.stores.Graph.GetEntity(ctx, id)
}

// FindEntityByName exposes name lookups to the API layer.
func (e *Engine) FindEntityByName(ctx context.Context, name string) (*types.Entity, error) {
	return e.stores.Graph.FindEntityByName(ctx, name)
}

// ReadEntityAt exposes point-in-time entity reads.
func (e *Engine) ReadEntityAt(ctx context.Context, id string, asOfEvent, asOfSystem time.Time) (*types.Entity, error) {
	return e.stores.Graph.ReadEntityAt(ctx, id, asOfEvent, asOfSystem)
}

// Subgraph expands a bounded subgraph from the seed entities.
func (e *Engine) Subgraph(ctx context.Context, seedEntityIDs []string, bounds storage.SubgraphBounds) (*storage.Subgraph, error) {
	return e.stores.Graph.QuerySubgraph(ctx, seedEntityIDs, bounds)
}

// Timeline returns memory items in [from, to), oldest first.
func (e *Engine) Timeline(ctx context.Context, from, to time.Time) ([]*types.MemoryItem, error) {
	return e.stores.Items.ListItemsBetween(ctx, from, to)
}

// Stats returns aggregate graph statistics.
func (e *Engine) Stats(ctx context.Context) (*storage.GraphStats, error) {
	return e.stores.Graph.Stats(ctx)
}

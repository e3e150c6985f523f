// Package storage provides composable storage interfaces for the Chronicle
// system.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The SQLite backend
// implements all of them; the Postgres backend implements the memory item
// store with native vector search.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/chronicle/pkg/types"
)

// GraphStore is the system of record for bi-temporal entities and
// relationships. All mutation goes through the two upsert methods, each of
// which is atomic: either the full candidate's effects land or none do.
// Concurrent upserts touching the same entity are serialized.
type GraphStore interface {
	// UpsertEntity resolves the candidate against existing entities by
	// name/alias similarity. A match extends the entity (new aliases,
	// non-conflicting attributes) or versions its attributes (conflicting
	// values close the open revision and open a new one). An unmatched
	// candidate creates a new entity. Prior attribute values are never
	// overwritten.
	//
	// Returns ErrAmbiguousEntity when more than one existing entity matches
	// within the ambiguity window.
	UpsertEntity(ctx context.Context, candidate *types.EntityCandidate, observedAt time.Time) (*UpsertResult, error)

	// UpsertRelationship inserts a new open edge. A still-open prior edge
	// with the identical (subject, predicate, object) triple is closed
	// first: its valid_until is set to the new edge's valid_from. Returns
	// ErrDanglingReference when either endpoint does not exist.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) (*UpsertResult, error)

	// GetEntity returns the entity with its currently open attribute
	// revisions. Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// FindEntityByName returns the entity whose canonical name or alias
	// exactly matches the normalized name, or ErrNotFound.
	FindEntityByName(ctx context.Context, name string) (*types.Entity, error)

	// ReadEntityAt returns the entity snapshot valid at asOfEvent as it was
	// known at asOfSystem: revisions recorded after asOfSystem are invisible,
	// and closures recorded after asOfSystem are ignored.
	ReadEntityAt(ctx context.Context, id string, asOfEvent, asOfSystem time.Time) (*types.Entity, error)

	// ReadRelationshipAt applies the same bi-temporal visibility rules to a
	// single edge.
	ReadRelationshipAt(ctx context.Context, id string, asOfEvent, asOfSystem time.Time) (*types.Relationship, error)

	// OpenRelationships returns the currently open edges touching the given
	// entity, in either direction.
	OpenRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error)

	// QuerySubgraph performs bounded breadth-first expansion from the seed
	// entities over open edges. It terminates at the hop limit; cycles in
	// the graph are expected and permitted.
	QuerySubgraph(ctx context.Context, seedEntityIDs []string, bounds SubgraphBounds) (*Subgraph, error)

	// Stats returns aggregate counts over the stored graph.
	Stats(ctx context.Context) (*GraphStats, error)
}

// InteractionStore is the append-only interaction log.
type InteractionStore interface {
	// AppendInteraction records a new interaction. Returns
	// ErrDuplicateInteraction when an interaction with the same dedup hash
	// is already recorded.
	AppendInteraction(ctx context.Context, interaction *types.Interaction) error

	// GetInteraction retrieves an interaction by ID.
	GetInteraction(ctx context.Context, id string) (*types.Interaction, error)

	// FindInteractionByHash returns the interaction with the given dedup
	// hash, or ErrNotFound.
	FindInteractionByHash(ctx context.Context, hash string) (*types.Interaction, error)

	// SetInteractionState records the latest evolution state for the
	// interaction so re-submission of the same tuple can tell a persisted
	// attempt (no-op) from a failed one (reprocess).
	SetInteractionState(ctx context.Context, id, state string) error
}

// MemoryItemStore persists the denormalized retrieval view.
type MemoryItemStore interface {
	// PutItem stores a new memory item and assigns its insertion sequence
	// number. Items are never updated in place.
	PutItem(ctx context.Context, item *types.MemoryItem) error

	// ListItems returns items matching the filters, newest first, up to
	// limit. limit <= 0 means no limit.
	ListItems(ctx context.Context, filters *ItemFilters, limit int) ([]*types.MemoryItem, error)

	// ListItemsBetween returns items whose event timestamp falls in
	// [from, to), oldest first (the timeline view).
	ListItemsBetween(ctx context.Context, from, to time.Time) ([]*types.MemoryItem, error)

	// TouchItem increments access_count and updates last_accessed_at.
	TouchItem(ctx context.Context, id string) error
}

// ScoredItem pairs a memory item with its cosine similarity to a query.
type ScoredItem struct {
	Item       *types.MemoryItem
	Similarity float64
}

// VectorSearcher is an optional capability of a MemoryItemStore: native
// nearest-neighbour search over stored embeddings (the Postgres backend with
// pgvector). The retrieval engine type-asserts for it and falls back to
// scanning embeddings itself when absent.
type VectorSearcher interface {
	// NearestItems returns up to limit items ordered by descending cosine
	// similarity to the query vector.
	NearestItems(ctx context.Context, query []float32, limit int) ([]ScoredItem, error)

	// VectorSearchAvailable reports whether native vector search is usable
	// on this store (pgvector installed and migrated).
	VectorSearchAvailable() bool
}

// EmbeddingStore persists vectors for memory items when the backing store
// has no native vector type (the SQLite backend).
type EmbeddingStore interface {
	// StoreEmbedding stores a vector embedding for a memory item.
	StoreEmbedding(ctx context.Context, itemID string, embedding []float32, model string) error

	// GetEmbedding retrieves the embedding for a memory item.
	// Returns ErrNotFound if absent.
	GetEmbedding(ctx context.Context, itemID string) ([]float32, error)
}

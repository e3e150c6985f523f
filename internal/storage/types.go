package storage

import (
	"errors"
	"time"

	"github.com/scrypster/chronicle/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDanglingReference indicates a relationship candidate referenced an
	// entity that does not exist at insertion time. Non-retryable; the
	// interaction must be corrected and re-submitted.
	ErrDanglingReference = errors.New("relationship references unknown entity")

	// ErrAmbiguousEntity indicates a candidate matched more than one existing
	// entity within the ambiguity window. Surfaced for manual or heuristic
	// disambiguation, never silently resolved.
	ErrAmbiguousEntity = errors.New("ambiguous entity match")

	// ErrDuplicateInteraction indicates an interaction with an identical
	// (source, occurred_at, content) tuple is already recorded.
	ErrDuplicateInteraction = errors.New("interaction already recorded")
)

// UpsertResult reports the per-call effects of an entity or relationship
// upsert, aggregated by the coordinator into an EvolutionResult.
type UpsertResult struct {
	// ID is the resolved or newly assigned identifier.
	ID string

	// Created is true when a new entity/edge row was inserted for a
	// previously unknown subject.
	Created bool

	// Superseded counts prior open rows (attribute revisions or edges)
	// whose validity window this call closed.
	Superseded int
}

// SubgraphBounds prevents combinatorial explosion during subgraph expansion.
type SubgraphBounds struct {
	// MaxHops is the hop limit for BFS expansion from the seed entities.
	MaxHops int

	// MaxNodes caps the number of entities returned.
	MaxNodes int

	// MaxEdges caps the number of edges traversed.
	MaxEdges int
}

// Normalize applies defaults and caps to the SubgraphBounds.
func (b *SubgraphBounds) Normalize() {
	if b.MaxHops < 1 {
		b.MaxHops = 2
	}
	if b.MaxHops > 10 {
		b.MaxHops = 10
	}
	if b.MaxNodes < 1 {
		b.MaxNodes = 100
	}
	if b.MaxNodes > 1000 {
		b.MaxNodes = 1000
	}
	if b.MaxEdges < 1 {
		b.MaxEdges = 500
	}
	if b.MaxEdges > 5000 {
		b.MaxEdges = 5000
	}
}

// Subgraph is the result of a bounded BFS expansion from seed entities.
type Subgraph struct {
	// Entities are the reached nodes, including the seeds.
	Entities []*types.Entity `json:"entities"`

	// Relationships are the open edges traversed between reached nodes.
	Relationships []*types.Relationship `json:"relationships"`

	// HopDistance maps entity ID to its BFS distance from the nearest seed.
	HopDistance map[string]int `json:"hop_distance"`

	// BoundsReached names the bounds that stopped the expansion, if any
	// ("max_hops", "max_nodes", "max_edges").
	BoundsReached []string `json:"bounds_reached,omitempty"`
}

// ItemFilters restricts which memory items a retrieval query considers.
// Zero values leave the corresponding dimension unconstrained.
type ItemFilters struct {
	// Source restricts to items whose interaction came from this origin tag.
	Source string

	// After / Before bound the item event timestamp.
	After  time.Time
	Before time.Time
}

// Matches reports whether the given item passes the filters.
func (f *ItemFilters) Matches(item *types.MemoryItem) bool {
	if f == nil {
		return true
	}
	if f.Source != "" && item.Metadata["source"] != f.Source {
		return false
	}
	if !f.After.IsZero() && !item.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !item.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// GraphStats summarizes the stored graph for the stats endpoint.
type GraphStats struct {
	Entities      int            `json:"entities"`
	OpenEdges     int            `json:"open_edges"`
	ClosedEdges   int            `json:"closed_edges"`
	Interactions  int            `json:"interactions"`
	MemoryItems   int            `json:"memory_items"`
	EntityTypes   map[string]int `json:"entity_types"`
	PredicateUses map[string]int `json:"predicate_uses"`
}

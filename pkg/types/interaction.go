package types

import "time"

// Interaction is one raw unit of input to the memory system: a chat turn, an
// imported document, or a manual entry. Interaction content is append-only
// and never deleted, so extraction provenance is always auditable; only the
// processing State is updated in place.
type Interaction struct {
	ID      string `json:"id"`      // Unique identifier (format: int:uuid)
	Content string `json:"content"` // Raw text payload
	Source  string `json:"source"`  // Origin tag (see Source constants)

	// OccurredAt is when the interaction happened in the world;
	// IngestedAt is when the system processed it.
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`

	// DedupHash is the SHA-256 of (source, occurred_at, content). Exact
	// re-ingestion of the same tuple is detected via this hash; only a tuple
	// whose prior attempt reached StatePersisted short-circuits to a no-op.
	DedupHash string `json:"dedup_hash,omitempty"`

	// State is the latest recorded evolution state for this interaction.
	// A failed interaction keeps its row and is reprocessed under the same
	// ID when the identical tuple is submitted again.
	State string `json:"state,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// MemoryItem is the denormalized retrieval view of an interaction.
// Items are created when an interaction is processed and never mutated in
// place; superseding information produces a new item.
type MemoryItem struct {
	// Seq is the insertion sequence number, assigned by the store. It is the
	// final ranking tie-break, which makes search ordering reproducible.
	Seq int64  `json:"seq"`
	ID  string `json:"id"` // Unique identifier (format: mem:uuid)

	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`

	// Timestamp is the event time of the underlying interaction;
	// RecordedAt is when the item was written (used for recency decay).
	Timestamp  time.Time `json:"timestamp"`
	RecordedAt time.Time `json:"recorded_at"`

	// EntityIDs are the graph entities this item mentions. Used for the
	// graph boost during ranking.
	EntityIDs []string `json:"entity_ids,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// SourceInteractionID is a back-reference for provenance (lookup only).
	SourceInteractionID string `json:"source_interaction_id"`

	// Access statistics, updated out of band by the retrieval engine.
	AccessCount    int        `json:"access_count,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// EntityCandidate is a provisional entity emitted by the extractor.
// Candidates reference each other by name, not by final ID; resolution
// against the existing graph happens in the store.
type EntityCandidate struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Aliases    []string          `json:"aliases,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confidence float64           `json:"confidence"`
}

// RelationshipCandidate is a provisional edge emitted by the extractor,
// connecting candidates by name.
type RelationshipCandidate struct {
	SubjectName string  `json:"subject"`
	Predicate   string  `json:"predicate"`
	ObjectName  string  `json:"object"`
	Confidence  float64 `json:"confidence"`
}

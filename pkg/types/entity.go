package types

import "time"

// Entity represents a node in the temporal knowledge graph.
// An entity's identity row is written once; everything that can change over
// time (attribute values) lives in versioned AttributeRevision rows so that
// prior beliefs are never overwritten.
type Entity struct {
	// Core identification fields
	ID            string   `json:"id"`             // Unique identifier (format: ent:uuid)
	Type          string   `json:"type"`           // Entity type (see EntityType constants)
	CanonicalName string   `json:"canonical_name"` // Normalized display label
	Aliases       []string `json:"aliases,omitempty"`

	// Event time: when the entity is asserted to exist in the modeled world.
	// ValidUntil is nil while the entity is open (not superseded or closed).
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// System time: when this record was written. Immutable once written.
	RecordedAt time.Time `json:"recorded_at"`

	// Attributes holds the attribute revisions visible for the snapshot the
	// entity was read at. Keyed by attribute name.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// AttributeRevision is one versioned value of an entity attribute.
// A conflicting value closes the open revision (sets ValidUntil and
// ClosedRecordedAt) and inserts a new open revision; values are never
// mutated in place.
type AttributeRevision struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Value    string `json:"value"`

	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// RecordedAt is the system time the revision was written.
	// ClosedRecordedAt is the system time ValidUntil was set; nil while open.
	// A reader querying "as known at T" ignores closures recorded after T.
	RecordedAt       time.Time  `json:"recorded_at"`
	ClosedRecordedAt *time.Time `json:"closed_recorded_at,omitempty"`
}

// IsOpen reports whether the revision is still the current belief.
func (r *AttributeRevision) IsOpen() bool {
	return r.ValidUntil == nil
}

package types

import "time"

// Relationship is a temporal edge between two entities.
// Edges follow the same bi-temporal contract as attribute revisions: a
// contradicting fact closes the open edge for the (subject, predicate,
// object) triple and inserts a new one. A closed edge is immutable and is
// never reopened.
type Relationship struct {
	ID        string `json:"id"`         // Unique identifier (format: rel:uuid)
	SubjectID string `json:"subject_id"` // Source entity ID
	Predicate string `json:"predicate"`  // Relation type (see Predicate constants)
	ObjectID  string `json:"object_id"`  // Target entity ID

	// Confidence is the extraction confidence score in [0,1].
	Confidence float64 `json:"confidence"`

	// Event time window.
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// System time. RecordedAt is write-once; ClosedRecordedAt is set exactly
	// once, when the edge is superseded.
	RecordedAt       time.Time  `json:"recorded_at"`
	ClosedRecordedAt *time.Time `json:"closed_recorded_at,omitempty"`

	// SourceInteractionID links back to the interaction that asserted the
	// edge (provenance, lookup only).
	SourceInteractionID string `json:"source_interaction_id,omitempty"`
}

// IsOpen reports whether the edge is still the current belief.
func (r *Relationship) IsOpen() bool {
	return r.ValidUntil == nil
}

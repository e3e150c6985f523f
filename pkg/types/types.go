// Package types defines the core data structures for the Chronicle memory
// system: bi-temporal entities and relationships, append-only interactions,
// derived memory items, and the evolution state machine.
package types

// Entity type constants. The set is fixed; extraction output with a type
// outside this list is rejected at parse time.
const (
	EntityTypePerson       = "person"
	EntityTypeProject      = "project"
	EntityTypeTask         = "task"
	EntityTypeMeeting      = "meeting"
	EntityTypeConcept      = "concept"
	EntityTypePreference   = "preference"
	EntityTypeOrganization = "organization"
	EntityTypeEvent        = "event"
	EntityTypeOther        = "other"
)

// ValidEntityTypes is a slice of all valid entity types for validation.
var ValidEntityTypes = []string{
	EntityTypePerson,
	EntityTypeProject,
	EntityTypeTask,
	EntityTypeMeeting,
	EntityTypeConcept,
	EntityTypePreference,
	EntityTypeOrganization,
	EntityTypeEvent,
	EntityTypeOther,
}

// Predicate constants for temporal edges between entities.
const (
	PredAttended         = "attended"
	PredMemberOf         = "member_of"
	PredWorksOn          = "works_on"
	PredCollaboratesWith = "collaborates_with"
	PredDependsOn        = "depends_on"
	PredOwns             = "owns"
	PredPrefers          = "prefers"
	PredUses             = "uses"
	PredLocatedAt        = "located_at"
	PredMentions         = "mentions"
	PredCreated          = "created"
	PredRelatesTo        = "relates_to"
)

// ValidPredicates is a slice of all valid predicates for validation.
var ValidPredicates = []string{
	PredAttended,
	PredMemberOf,
	PredWorksOn,
	PredCollaboratesWith,
	PredDependsOn,
	PredOwns,
	PredPrefers,
	PredUses,
	PredLocatedAt,
	PredMentions,
	PredCreated,
	PredRelatesTo,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(entityType string) bool {
	for _, validType := range ValidEntityTypes {
		if validType == entityType {
			return true
		}
	}
	return false
}

// IsValidPredicate checks if the given predicate is valid.
func IsValidPredicate(predicate string) bool {
	for _, valid := range ValidPredicates {
		if valid == predicate {
			return true
		}
	}
	return false
}

// Interaction source constants.
const (
	SourceChat     = "chat"
	SourceDocument = "document"
	SourceManual   = "manual"
)

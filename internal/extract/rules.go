package extract

import (
	"github.com/scrypster/chronicle/internal/names"
	"github.com/scrypster/chronicle/pkg/types"
)

// inferredConfidence is assigned to type-rule edges; deliberately low so
// model-extracted edges outrank them.
const inferredConfidence = 0.4

// typePairRules maps (subject type, object type) to the most plausible
// predicate between them.
var typePairRules = map[[2]string]string{
	{types.EntityTypePerson, types.EntityTypeMeeting}:      types.PredAttended,
	{types.EntityTypePerson, types.EntityTypeEvent}:        types.PredAttended,
	{types.EntityTypePerson, types.EntityTypeOrganization}: types.PredMemberOf,
	{types.EntityTypePerson, types.EntityTypeProject}:      types.PredWorksOn,
	{types.EntityTypePerson, types.EntityTypeTask}:         types.PredWorksOn,
	{types.EntityTypePerson, types.EntityTypePerson}:       types.PredCollaboratesWith,
	{types.EntityTypePerson, types.EntityTypePreference}:   types.PredPrefers,
	{types.EntityTypePerson, types.EntityTypeConcept}:      types.PredUses,
	{types.EntityTypeProject, types.EntityTypeProject}:     types.PredDependsOn,
	{types.EntityTypeProject, types.EntityTypeConcept}:     types.PredUses,
	{types.EntityTypeTask, types.EntityTypeProject}:        types.PredRelatesTo,
	{types.EntityTypeMeeting, types.EntityTypeProject}:     types.PredRelatesTo,
	{types.EntityTypeOrganization, types.EntityTypeProject}: types.PredOwns,
}

// InferPredicate returns the rule predicate for a subject/object type pair.
func InferPredicate(subjectType, objectType string) (string, bool) {
	predicate, ok := typePairRules[[2]string{subjectType, objectType}]
	return predicate, ok
}

// resolvePredicates salvages relationships whose predicate the model invented
// by replacing it with the type-pair rule for the endpoints. Edges with no
// applicable rule in either direction are dropped.
func resolvePredicates(unresolved []*types.RelationshipCandidate, entities []*types.EntityCandidate) []*types.RelationshipCandidate {
	if len(unresolved) == 0 {
		return nil
	}

	typeByName := make(map[string]string, len(entities))
	for _, e := range entities {
		typeByName[names.Normalize(e.Name)] = e.Type
		for _, alias := range e.Aliases {
			typeByName[names.Normalize(alias)] = e.Type
		}
	}

	var resolved []*types.RelationshipCandidate
	for _, rel := range unresolved {
		subjectType, okSubj := typeByName[names.Normalize(rel.SubjectName)]
		objectType, okObj := typeByName[names.Normalize(rel.ObjectName)]
		if !okSubj || !okObj {
			continue
		}
		if predicate, ok := InferPredicate(subjectType, objectType); ok {
			resolved = append(resolved, &types.RelationshipCandidate{
				SubjectName: rel.SubjectName,
				Predicate:   predicate,
				ObjectName:  rel.ObjectName,
				Confidence:  inferredConfidence,
			})
			continue
		}
		if predicate, ok := InferPredicate(objectType, subjectType); ok {
			resolved = append(resolved, &types.RelationshipCandidate{
				SubjectName: rel.ObjectName,
				Predicate:   predicate,
				ObjectName:  rel.SubjectName,
				Confidence:  inferredConfidence,
			})
		}
	}
	return resolved
}

// inferRelationships connects the first-mentioned entity to each later one
// where a type rule applies. Used only when the model extracted entities but
// no relationships at all.
func inferRelationships(entities []*types.EntityCandidate) []*types.RelationshipCandidate {
	if len(entities) < 2 {
		return nil
	}

	anchor := entities[0]
	var inferred []*types.RelationshipCandidate
	for _, other := range entities[1:] {
		if predicate, ok := InferPredicate(anchor.Type, other.Type); ok {
			inferred = append(inferred, &types.RelationshipCandidate{
				SubjectName: anchor.Name,
				Predicate:   predicate,
				ObjectName:  other.Name,
				Confidence:  inferredConfidence,
			})
			continue
		}
		// Try the reverse direction before giving up on the pair.
		if predicate, ok := InferPredicate(other.Type, anchor.Type); ok {
			inferred = append(inferred, &types.RelationshipCandidate{
				SubjectName: other.Name,
				Predicate:   predicate,
				ObjectName:  anchor.Name,
				Confidence:  inferredConfidence,
			})
		}
	}
	return inferred
}

package types

// EvolutionResult summarizes the effects of one Evolve call.
type EvolutionResult struct {
	// InteractionID is the persisted interaction's ID. Set whenever the
	// interaction reached the log, including the deduplicated no-op case.
	InteractionID string `json:"interaction_id"`

	// State is the final state the call reached (see evolution state
	// constants). StatePersisted means every effect committed.
	State string `json:"state"`

	// Deduplicated is true when the interaction was an exact re-ingestion
	// and the call was short-circuited to a no-op.
	Deduplicated bool `json:"deduplicated,omitempty"`

	// Entity effect counts.
	EntitiesCreated int `json:"entities_created"`
	EntitiesUpdated int `json:"entities_updated"`

	// Relationship effect counts. Superseded counts edges whose validity
	// window was closed by a contradicting new edge.
	RelationshipsCreated    int `json:"relationships_created"`
	RelationshipsSuperseded int `json:"relationships_superseded"`

	// AttributesSuperseded counts attribute revisions closed by a
	// conflicting value during entity resolution.
	AttributesSuperseded int `json:"attributes_superseded"`

	// AmbiguousEntities lists candidate names that matched more than one
	// existing entity too closely to pick a winner. They were not resolved;
	// the caller must disambiguate (rename, alias) and re-submit.
	AmbiguousEntities []string `json:"ambiguous_entities,omitempty"`

	// RelationshipsSkipped counts relationship candidates dropped because an
	// endpoint failed to resolve (ambiguous or unknown entity).
	RelationshipsSkipped int `json:"relationships_skipped,omitempty"`
}

// AssemblyReport is the accounting metadata returned alongside an assembled
// context payload.
type AssemblyReport struct {
	// ItemsIncluded is the number of memory items that made it into the
	// payload; ItemsConsidered is the number of ranked candidates examined.
	ItemsIncluded   int `json:"items_included"`
	ItemsConsidered int `json:"items_considered"`

	// EstimatedTokens is the token estimate for the returned text.
	// It never exceeds the requested budget.
	EstimatedTokens int `json:"estimated_tokens"`

	// Truncated is true when the single best item alone exceeded the budget
	// and had to be cut to fit.
	Truncated bool `json:"truncated"`
}

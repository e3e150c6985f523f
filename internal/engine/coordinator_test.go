package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chronicle/internal/extract"
	"github.com/scrypster/chronicle/internal/llm"
	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/internal/storage/sqlite"
	"github.com/scrypster/chronicle/pkg/types"
)

// scriptedExtractor returns queued results (or errors) in order; when the
// queue is exhausted the last script repeats.
type scriptedExtractor struct {
	scripts []extractScript
	calls   int
}

type extractScript struct {
	result *llm.ExtractionResult
	err    error
}

func (s *scriptedExtractor) Extract(ctx context.Context, interaction *types.Interaction) (*llm.ExtractionResult, error) {
	idx := s.calls
	if idx >= len(s.scripts) {
		idx = len(s.scripts) - 1
	}
	s.calls++
	script := s.scripts[idx]
	if script.err != nil {
		return nil, script.err
	}
	if script.result != nil {
		return script.result, nil
	}
	return &llm.ExtractionResult{}, nil
}

// emptyExtractor yields no candidates; Evolve still writes the memory item.
func emptyExtractor() *scriptedExtractor {
	return &scriptedExtractor{scripts: []extractScript{{}}}
}

// fakeEmbedder returns canned vectors keyed by exact text.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return nil, errors.New("no vector for text")
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

func newTestEngine(t *testing.T, extractor extract.Extractor, embedder llm.EmbeddingGenerator) *Engine {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond

	eng, err := New(Stores{
		Graph:        store,
		Interactions: store,
		Items:        store,
		Embeddings:   store,
	}, extractor, embedder, cfg)
	require.NoError(t, err)
	return eng
}

func aliceApolloExtraction() *llm.ExtractionResult {
	return &llm.ExtractionResult{
		Entities: []*types.EntityCandidate{
			{Name: "Alice Johnson", Type: types.EntityTypePerson, Aliases: []string{"Alice"}, Confidence: 0.9},
			{Name: "Apollo Initiative", Type: types.EntityTypeProject, Confidence: 0.9},
		},
		Relationships: []*types.RelationshipCandidate{
			{SubjectName: "Alice Johnson", Predicate: types.PredWorksOn, ObjectName: "Apollo Initiative", Confidence: 0.85},
		},
	}
}

func TestEvolvePersistsExtraction(t *testing.T) {
	eng := newTestEngine(t, &scriptedExtractor{scripts: []extractScript{{result: aliceApolloExtraction()}}}, nil)
	ctx := context.Background()

	result, err := eng.Evolve(ctx, EvolveRequest{
		Content:    "Alice is working on the Apollo initiative.",
		Source:     types.SourceChat,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatePersisted, result.State)
	assert.False(t, result.Deduplicated)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 0, result.EntitiesUpdated)
	assert.Equal(t, 1, result.RelationshipsCreated)

	alice, err := eng.FindEntityByName(ctx, "alice")
	require.NoError(t, err, "entity should resolve via alias")
	assert.Equal(t, "Alice Johnson", alice.CanonicalName)

	items, err := eng.stores.Items.ListItems(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].EntityIDs, alice.ID)
	assert.Equal(t, result.InteractionID, items[0].SourceInteractionID)
}

func TestEvolveDeduplicatesExactResubmission(t *testing.T) {
	eng := newTestEngine(t, &scriptedExtractor{scripts: []extractScript{{result: aliceApolloExtraction()}}}, nil)
	ctx := context.Background()

	req := EvolveRequest{
		Content:    "Alice is working on the Apollo initiative.",
		Source:     types.SourceChat,
		OccurredAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	first, err := eng.Evolve(ctx, req)
	require.NoError(t, err)

	second, err := eng.Evolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.InteractionID, second.InteractionID)
	assert.Zero(t, second.EntitiesCreated, "dedup short-circuit must not touch the graph")

	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Interactions)
	assert.Equal(t, 1, stats.MemoryItems)
}

func TestEvolveReprocessesFailedSubmission(t *testing.T) {
	extractor := &scriptedExtractor{scripts: []extractScript{
		{err: &extract.ExtractionError{Err: errors.New("model unavailable"), Retryable: false}},
		{result: aliceApolloExtraction()},
	}}
	eng := newTestEngine(t, extractor, nil)
	ctx := context.Background()

	req := EvolveRequest{
		Content:    "Alice is working on the Apollo initiative.",
		Source:     types.SourceChat,
		OccurredAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	first, err := eng.Evolve(ctx, req)
	require.Error(t, err)
	assert.Equal(t, types.StateFailed, first.State)

	// Resubmitting the identical content runs extraction again under the
	// original interaction ID instead of short-circuiting on the dedup hash.
	second, err := eng.Evolve(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatePersisted, second.State)
	assert.False(t, second.Deduplicated, "failed attempts do not count as duplicates")
	assert.Equal(t, first.InteractionID, second.InteractionID)
	assert.Equal(t, 2, extractor.calls)
	assert.Equal(t, 2, second.EntitiesCreated)

	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Interactions, "reprocessing reuses the stored interaction")
	assert.Equal(t, 1, stats.MemoryItems)

	// Only a persisted interaction short-circuits.
	third, err := eng.Evolve(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.Deduplicated)
	assert.Equal(t, 2, extractor.calls, "persisted duplicates skip extraction")
}

func TestEvolveSupersedesRepeatedTriple(t *testing.T) {
	extraction := &llm.ExtractionResult{
		Entities: []*types.EntityCandidate{
			{Name: "Bob Smith", Type: types.EntityTypePerson, Confidence: 0.9},
			{Name: "Platform Team", Type: types.EntityTypeOrganization, Confidence: 0.9},
		},
		Relationships: []*types.RelationshipCandidate{
			{SubjectName: "Bob Smith", Predicate: types.PredMemberOf, ObjectName: "Platform Team", Confidence: 0.9},
		},
	}
	eng := newTestEngine(t, &scriptedExtractor{scripts: []extractScript{{result: extraction}}}, nil)
	ctx := context.Background()

	_, err := eng.Evolve(ctx, EvolveRequest{
		Content:    "Bob joined the platform team.",
		Source:     types.SourceChat,
		OccurredAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	require.NoError(t, err)

	second, err := eng.Evolve(ctx, EvolveRequest{
		Content:    "Bob is still on the platform team.",
		Source:     types.SourceChat,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, second.EntitiesUpdated)
	assert.Equal(t, 1, second.RelationshipsCreated)
	assert.Equal(t, 1, second.RelationshipsSuperseded, "re-asserted triple closes the prior edge")

	bob, err := eng.FindEntityByName(ctx, "Bob Smith")
	require.NoError(t, err)
	open, err := eng.stores.Graph.OpenRelationships(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestEvolveCountsAttributeSupersession(t *testing.T) {
	first := &llm.ExtractionResult{Entities: []*types.EntityCandidate{
		{Name: "Alice Johnson", Type: types.EntityTypePerson, Attributes: map[string]string{"team": "platform"}, Confidence: 0.9},
	}}
	second := &llm.ExtractionResult{Entities: []*types.EntityCandidate{
		{Name: "Alice Johnson", Type: types.EntityTypePerson, Attributes: map[string]string{"team": "search"}, Confidence: 0.9},
	}}
	eng := newTestEngine(t, &scriptedExtractor{scripts: []extractScript{{result: first}, {result: second}}}, nil)
	ctx := context.Background()

	_, err := eng.Evolve(ctx, EvolveRequest{Content: "Alice is on platform.", OccurredAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	result, err := eng.Evolve(ctx, EvolveRequest{Content: "Alice moved to search.", OccurredAt: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AttributesSuperseded)
}

func TestEvolveRetriesRetryableFailures(t *testing.T) {
	extractor := &scriptedExtractor{scripts: []extractScript{
		{err: &extract.ExtractionError{Err: errors.New("timeout"), Retryable: true}},
		{err: &extract.ExtractionError{Err: errors.New("timeout"), Retryable: true}},
		{result: aliceApolloExtraction()},
	}}
	eng := newTestEngine(t, extractor, nil)

	result, err := eng.Evolve(context.Background(), EvolveRequest{Content: "Alice works on Apollo."})
	require.NoError(t, err)
	assert.Equal(t, types.StatePersisted, result.State)
	assert.Equal(t, 3, extractor.calls)
}

func TestEvolveFailsAfterRetryBudget(t *testing.T) {
	extractor := &scriptedExtractor{scripts: []extractScript{
		{err: &extract.ExtractionError{Err: errors.New("timeout"), Retryable: true}},
	}}
	eng := newTestEngine(t, extractor, nil)
	ctx := context.Background()

	result, err := eng.Evolve(ctx, EvolveRequest{Content: "unprocessable"})
	require.Error(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, 3, extractor.calls)

	// The interaction stays in the append-only log for later reprocessing.
	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Interactions)
	assert.Equal(t, 0, stats.MemoryItems)
}

func TestEvolveNonRetryableFailsImmediately(t *testing.T) {
	extractor := &scriptedExtractor{scripts: []extractScript{
		{err: &extract.ExtractionError{Err: llm.ErrCircuitOpen, Retryable: false}},
	}}
	eng := newTestEngine(t, extractor, nil)

	result, err := eng.Evolve(context.Background(), EvolveRequest{Content: "content"})
	require.Error(t, err)
	assert.Equal(t, types.StateFailed, result.State)
	assert.Equal(t, 1, extractor.calls, "non-retryable errors must not be retried")
}

func TestEvolveStateCallbackSequence(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)

	var states []types.EvolutionState
	eng.SetOnStateChange(func(interactionID string, state types.EvolutionState) {
		states = append(states, state)
	})

	_, err := eng.Evolve(context.Background(), EvolveRequest{Content: "plain note"})
	require.NoError(t, err)

	assert.Equal(t, []types.EvolutionState{
		types.StateReceived,
		types.StateExtracting,
		types.StateResolving,
		types.StatePersisted,
	}, states)
}

func TestEvolveSkipsAmbiguousEntity(t *testing.T) {
	setup := &llm.ExtractionResult{Entities: []*types.EntityCandidate{
		{Name: "Project Mercury", Type: types.EntityTypeProject, Confidence: 0.9},
		{Name: "Project Mercuryy", Type: types.EntityTypeProject, Confidence: 0.9},
	}}
	ambiguous := &llm.ExtractionResult{
		Entities: []*types.EntityCandidate{
			{Name: "Project Mercurry", Type: types.EntityTypeProject, Confidence: 0.9},
			{Name: "Dana Lee", Type: types.EntityTypePerson, Confidence: 0.9},
		},
		Relationships: []*types.RelationshipCandidate{
			{SubjectName: "Dana Lee", Predicate: types.PredWorksOn, ObjectName: "Project Mercurry", Confidence: 0.9},
		},
	}
	eng := newTestEngine(t, &scriptedExtractor{scripts: []extractScript{{result: setup}, {result: ambiguous}}}, nil)
	ctx := context.Background()

	_, err := eng.Evolve(ctx, EvolveRequest{Content: "two similar projects", OccurredAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	result, err := eng.Evolve(ctx, EvolveRequest{Content: "dana and the ambiguous project", OccurredAt: time.Now()})
	require.NoError(t, err, "ambiguity is skipped, not fatal")
	assert.Equal(t, types.StatePersisted, result.State)
	assert.Equal(t, 1, result.EntitiesCreated, "only the unambiguous entity lands")
	assert.Equal(t, 0, result.RelationshipsCreated, "edge to the skipped entity is dropped")
	assert.Equal(t, []string{"Project Mercurry"}, result.AmbiguousEntities)
	assert.Equal(t, 1, result.RelationshipsSkipped)
}

func TestEvolveRejectsEmptyContent(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)

	_, err := eng.Evolve(context.Background(), EvolveRequest{Content: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

var testItemCounter atomic.Int64

func putTestItem(t *testing.T, eng *Engine, content string, timestamp, recordedAt time.Time, entityIDs []string) *types.MemoryItem {
	t.Helper()
	item := &types.MemoryItem{
		ID:                  fmt.Sprintf("mem:test-%d", testItemCounter.Add(1)),
		Content:             content,
		Timestamp:           timestamp,
		RecordedAt:          recordedAt,
		EntityIDs:           entityIDs,
		SourceInteractionID: "int:test",
	}
	require.NoError(t, eng.stores.Items.PutItem(context.Background(), item))
	return item
}

func TestSearchValidatesInput(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	ctx := context.Background()

	_, err := eng.Search(ctx, SearchOptions{Query: "anything", Limit: 0})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = eng.Search(ctx, SearchOptions{Query: "   ", Limit: 5})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSearchTextFallbackRanksByTermMatch(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	full := putTestItem(t, eng, "database migration plan for the billing service", now, now, nil)
	partial := putTestItem(t, eng, "migration checklist", now, now, nil)
	putTestItem(t, eng, "unrelated grocery note", now, now, nil)

	results, err := eng.Search(context.Background(), SearchOptions{Query: "database migration", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, full.ID, results[0].Item.ID)
	assert.Equal(t, partial.ID, results[1].Item.ID)
	assert.Equal(t, 1.0, results[0].Components.Similarity)
	assert.Equal(t, 0.5, results[1].Components.Similarity)
}

func TestSearchTieBreakNewerTimestampThenLowerSeq(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	older := putTestItem(t, eng, "standup notes", now.Add(-time.Hour), now, nil)
	newer := putTestItem(t, eng, "standup notes", now, now, nil)
	tiedA := putTestItem(t, eng, "standup notes", now.Add(-2*time.Hour), now, nil)
	tiedB := putTestItem(t, eng, "standup notes", now.Add(-2*time.Hour), now, nil)
	require.Less(t, tiedA.Seq, tiedB.Seq)

	results, err := eng.Search(context.Background(), SearchOptions{Query: "standup", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, newer.ID, results[0].Item.ID, "equal scores break to newer event time")
	assert.Equal(t, older.ID, results[1].Item.ID)
	assert.Equal(t, tiedA.ID, results[2].Item.ID, "equal timestamps break to lower sequence")
	assert.Equal(t, tiedB.ID, results[3].Item.ID)
}

func TestSearchRecencyDecay(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	eventTime := now.Add(-90 * 24 * time.Hour)
	fresh := putTestItem(t, eng, "quarterly report", eventTime, now, nil)
	stale := putTestItem(t, eng, "quarterly report", eventTime, now.Add(-60*24*time.Hour), nil)

	results, err := eng.Search(context.Background(), SearchOptions{Query: "quarterly", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, fresh.ID, results[0].Item.ID)
	assert.Equal(t, stale.ID, results[1].Item.ID)
	assert.Equal(t, 1.0, results[0].Components.Recency)
	// Two half-lives old: recency ≈ 0.25.
	assert.InDelta(t, 0.25, results[1].Components.Recency, 0.01)
}

func TestSearchGraphBoost(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	upsert, err := eng.stores.Graph.UpsertEntity(ctx, &types.EntityCandidate{
		Name: "Apollo", Type: types.EntityTypeProject, Confidence: 0.9,
	}, now)
	require.NoError(t, err)

	linked := putTestItem(t, eng, "status update", now, now, []string{upsert.ID})
	unlinked := putTestItem(t, eng, "status update", now, now, nil)

	results, err := eng.Search(ctx, SearchOptions{Query: "Apollo status", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, linked.ID, results[0].Item.ID, "graph proximity outranks an otherwise identical item")
	assert.Equal(t, 1.0, results[0].Components.GraphBoost, "seed entity is hop zero")
	assert.Equal(t, 0.0, results[1].Components.GraphBoost)
	assert.Equal(t, unlinked.ID, results[1].Item.ID)
}

func TestSearchEmbeddingSimilarity(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"rocket telemetry": {1, 0},
	}}
	eng := newTestEngine(t, emptyExtractor(), embedder)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	near := putTestItem(t, eng, "telemetry pipeline design", now, now, nil)
	far := putTestItem(t, eng, "lunch menu", now, now, nil)
	require.NoError(t, eng.stores.Embeddings.StoreEmbedding(ctx, near.ID, []float32{1, 0}, "fake-embed"))
	require.NoError(t, eng.stores.Embeddings.StoreEmbedding(ctx, far.ID, []float32{0, 1}, "fake-embed"))

	results, err := eng.Search(ctx, SearchOptions{Query: "rocket telemetry", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, near.ID, results[0].Item.ID)
	assert.InDelta(t, 1.0, results[0].Components.Similarity, 1e-9)
	assert.InDelta(t, 0.0, results[1].Components.Similarity, 1e-9)
}

func TestSearchEmbedderFailureFallsBackToText(t *testing.T) {
	// Embedder with no vector for the query errors out; search still works.
	eng := newTestEngine(t, emptyExtractor(), &fakeEmbedder{})
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	item := putTestItem(t, eng, "incident retro notes", now, now, nil)

	results, err := eng.Search(context.Background(), SearchOptions{Query: "incident retro", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, item.ID, results[0].Item.ID)
	assert.Equal(t, 1.0, results[0].Components.Similarity)
}

func TestSearchIsReadOnly(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	putTestItem(t, eng, "retro action items", now, now, nil)

	for i := 0; i < 2; i++ {
		results, err := eng.Search(ctx, SearchOptions{Query: "retro", Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 0.0, results[0].Components.AccessBoost)
	}

	items, err := eng.stores.Items.ListItems(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].AccessCount, "searching must not count as access")
	assert.Nil(t, items[0].LastAccessedAt)
}

func TestRecordAccessFeedsAccessBoost(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	item := putTestItem(t, eng, "retro action items", now, now, nil)

	eng.RecordAccess(ctx, []string{item.ID})

	results, err := eng.Search(ctx, SearchOptions{Query: "retro", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Components.AccessBoost, 0.0, "recorded consumption feeds the boost")
}

func TestSearchHonorsSourceFilter(t *testing.T) {
	eng := newTestEngine(t, emptyExtractor(), nil)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	eng.clock = func() time.Time { return now }

	chat := &types.MemoryItem{
		ID: "mem:filter-chat", Content: "deploy discussion",
		Timestamp: now, RecordedAt: now,
		Metadata:            map[string]string{"source": types.SourceChat},
		SourceInteractionID: "int:test",
	}
	doc := &types.MemoryItem{
		ID: "mem:filter-doc", Content: "deploy runbook",
		Timestamp: now, RecordedAt: now,
		Metadata:            map[string]string{"source": types.SourceDocument},
		SourceInteractionID: "int:test",
	}
	require.NoError(t, eng.stores.Items.PutItem(ctx, chat))
	require.NoError(t, eng.stores.Items.PutItem(ctx, doc))

	results, err := eng.Search(ctx, SearchOptions{
		Query:   "deploy",
		Limit:   10,
		Filters: &storage.ItemFilters{Source: types.SourceDocument},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doc.ID, results[0].Item.ID)
}

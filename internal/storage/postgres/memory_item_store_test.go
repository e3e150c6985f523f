package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/internal/storage/postgres"
	"github.com/scrypster/chronicle/pkg/types"
)

// postgresTestDSN returns the DSN for the test database. If
// POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.NewStore(postgresTestDSN(t))
	require.NoError(t, err, "NewStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestItem(content string) *types.MemoryItem {
	return &types.MemoryItem{
		ID:                  "mem:" + uuid.NewString(),
		Content:             content,
		Timestamp:           time.Now(),
		SourceInteractionID: "int:" + uuid.NewString(),
	}
}

func TestPutAndListItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newTestItem("first memory")
	second := newTestItem("second memory")
	second.Timestamp = first.Timestamp.Add(time.Hour)
	second.Metadata = map[string]string{"source": types.SourceChat}

	require.NoError(t, store.PutItem(ctx, first))
	require.NoError(t, store.PutItem(ctx, second))
	assert.Greater(t, second.Seq, first.Seq, "seq should be monotonically increasing")

	items, err := store.ListItems(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID, "newest first")

	chat, err := store.ListItems(ctx, &storage.ItemFilters{Source: types.SourceChat}, 0)
	require.NoError(t, err)
	require.Len(t, chat, 1)
	assert.Equal(t, second.ID, chat[0].ID)
}

func TestListItemsBetween(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		item := newTestItem("timeline item")
		item.Timestamp = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.PutItem(ctx, item))
		ids = append(ids, item.ID)
	}

	window, err := store.ListItemsBetween(ctx, base, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, ids[0], window[0].ID, "oldest first")

	_, err = store.ListItemsBetween(ctx, base, base)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestTouchItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := newTestItem("touched memory")
	require.NoError(t, store.PutItem(ctx, item))
	require.NoError(t, store.TouchItem(ctx, item.ID))

	items, err := store.ListItems(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].AccessCount)
	assert.NotNil(t, items[0].LastAccessedAt)

	assert.ErrorIs(t, store.TouchItem(ctx, "mem:missing"), storage.ErrNotFound)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := newTestItem("embedded memory")
	require.NoError(t, store.PutItem(ctx, item))

	vec := []float32{0.1, -0.5, 0.9, 0.0}
	require.NoError(t, store.StoreEmbedding(ctx, item.ID, vec, "nomic-embed-text"))

	got, err := store.GetEmbedding(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = store.GetEmbedding(ctx, "mem:missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNearestItems(t *testing.T) {
	store := newTestStore(t)
	if !store.VectorSearchAvailable() {
		t.Skip("pgvector not available; skipping vector search test")
	}
	ctx := context.Background()

	near := newTestItem("close memory")
	far := newTestItem("far memory")
	require.NoError(t, store.PutItem(ctx, near))
	require.NoError(t, store.PutItem(ctx, far))
	require.NoError(t, store.StoreEmbedding(ctx, near.ID, []float32{1, 0, 0}, "test"))
	require.NoError(t, store.StoreEmbedding(ctx, far.ID, []float32{0, 1, 0}, "test"))

	scored, err := store.NearestItems(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, near.ID, scored[0].Item.ID)
	assert.Greater(t, scored[0].Similarity, scored[1].Similarity)
}

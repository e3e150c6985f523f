package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

// Compile-time interface checks.
var (
	_ storage.MemoryItemStore = (*Store)(nil)
	_ storage.EmbeddingStore  = (*Store)(nil)
	_ storage.VectorSearcher  = (*Store)(nil)
)

// memoryItemColumns is the canonical SELECT column list for memory_items.
// It must match the scan order in scanItem.
const memoryItemColumns = `seq, id, content, timestamp, recorded_at, entity_ids, metadata,
	source_interaction_id, access_count, last_accessed_at`

// PutItem stores a new memory item; the sequence number is assigned by the
// BIGSERIAL column and written back to the item.
func (s *Store) PutItem(ctx context.Context, item *types.MemoryItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}
	if item.Content == "" {
		return fmt.Errorf("%w: item content is required", storage.ErrInvalidInput)
	}
	if item.SourceInteractionID == "" {
		return fmt.Errorf("%w: source interaction ID is required", storage.ErrInvalidInput)
	}
	if item.RecordedAt.IsZero() {
		item.RecordedAt = time.Now()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = item.RecordedAt
	}

	entityIDs, err := marshalJSON(item.EntityIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal entity IDs: %w", err)
	}
	metadata, err := marshalJSON(item.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal item metadata: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO memory_items
			(id, content, timestamp, recorded_at, entity_ids, metadata, source_interaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, item.ID, item.Content, item.Timestamp, item.RecordedAt,
		entityIDs, metadata, item.SourceInteractionID).Scan(&item.Seq)
	if err != nil {
		return fmt.Errorf("postgres: PutItem: %w", err)
	}
	return nil
}

// ListItems returns items matching the filters, newest first. limit <= 0
// means no limit.
func (s *Store) ListItems(ctx context.Context, filters *storage.ItemFilters, limit int) ([]*types.MemoryItem, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters != nil {
		if filters.Source != "" {
			conds = append(conds, "metadata->>'source' = "+arg(filters.Source))
		}
		if !filters.After.IsZero() {
			conds = append(conds, "timestamp > "+arg(filters.After))
		}
		if !filters.Before.IsZero() {
			conds = append(conds, "timestamp < "+arg(filters.Before))
		}
	}

	query := `SELECT ` + memoryItemColumns + ` FROM memory_items`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}

	return s.queryItems(ctx, query, args...)
}

// ListItemsBetween returns items whose event timestamp falls in [from, to),
// oldest first.
func (s *Store) ListItemsBetween(ctx context.Context, from, to time.Time) ([]*types.MemoryItem, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty time range", storage.ErrInvalidInput)
	}
	return s.queryItems(ctx, `
		SELECT `+memoryItemColumns+` FROM memory_items
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp ASC, seq ASC
	`, from, to)
}

// TouchItem increments access_count and updates last_accessed_at.
func (s *Store) TouchItem(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_items
		SET access_count = access_count + 1, last_accessed_at = $1
		WHERE id = $2
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("postgres: TouchItem: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: TouchItem rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// StoreEmbedding stores a vector for a memory item. The vector is always
// written to the BYTEA column; when pgvector is available it is also written
// to embedding_vec for native cosine-distance queries.
func (s *Store) StoreEmbedding(ctx context.Context, itemID string, embedding []float32, model string) error {
	if itemID == "" {
		return fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding is empty", storage.ErrInvalidInput)
	}

	if s.pgvectorAvailable {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO embeddings (item_id, embedding, dimension, model, embedding_vec)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT(item_id) DO UPDATE SET
				embedding     = excluded.embedding,
				dimension     = excluded.dimension,
				model         = excluded.model,
				embedding_vec = excluded.embedding_vec
		`, itemID, packFloat32(embedding), len(embedding), model, pgvector.NewVector(embedding))
		if err != nil {
			return fmt.Errorf("postgres: StoreEmbedding: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, embedding, dimension, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(item_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model     = excluded.model
	`, itemID, packFloat32(embedding), len(embedding), model)
	if err != nil {
		return fmt.Errorf("postgres: StoreEmbedding: %w", err)
	}
	return nil
}

// GetEmbedding retrieves the vector for a memory item from the BYTEA column.
func (s *Store) GetEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}

	var blob []byte
	var dimension int
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding, dimension FROM embeddings WHERE item_id = $1
	`, itemID).Scan(&blob, &dimension)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: GetEmbedding: %w", err)
	}

	embedding, err := unpackFloat32(blob)
	if err != nil {
		return nil, fmt.Errorf("postgres: GetEmbedding: %w", err)
	}
	if len(embedding) != dimension {
		return nil, fmt.Errorf("postgres: embedding for %s has %d values, expected %d",
			itemID, len(embedding), dimension)
	}
	return embedding, nil
}

// NearestItems returns up to limit items ordered by descending cosine
// similarity to the query vector, using the pgvector <=> operator.
func (s *Store) NearestItems(ctx context.Context, query []float32, limit int) ([]storage.ScoredItem, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidInput)
	}
	if !s.pgvectorAvailable {
		return nil, fmt.Errorf("postgres: vector search not available")
	}

	vec := pgvector.NewVector(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("m", memoryItemColumns)+`,
		       1 - (e.embedding_vec <=> $1::vector) AS similarity
		FROM memory_items m
		JOIN embeddings e ON e.item_id = m.id
		WHERE e.embedding_vec IS NOT NULL
		ORDER BY e.embedding_vec <=> $1::vector
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: NearestItems: %w", err)
	}
	defer rows.Close()

	var scored []storage.ScoredItem
	for rows.Next() {
		item, similarity, err := scanScoredItem(rows)
		if err != nil {
			return nil, err
		}
		scored = append(scored, storage.ScoredItem{Item: item, Similarity: similarity})
	}
	return scored, rows.Err()
}

func (s *Store) queryItems(ctx context.Context, query string, args ...interface{}) ([]*types.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query items: %w", err)
	}
	defer rows.Close()

	var items []*types.MemoryItem
	for rows.Next() {
		item, err := scanItem(rows, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanItem scans one memory item row. extra receives trailing columns beyond
// the canonical list (used for the similarity column).
func scanItem(rows *sql.Rows, extra []interface{}) (*types.MemoryItem, error) {
	item := &types.MemoryItem{}
	var entityIDs, metadata []byte
	var lastAccessed sql.NullTime

	dest := []interface{}{
		&item.Seq, &item.ID, &item.Content, &item.Timestamp, &item.RecordedAt,
		&entityIDs, &metadata, &item.SourceInteractionID,
		&item.AccessCount, &lastAccessed,
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("postgres: item scan: %w", err)
	}

	if len(entityIDs) > 0 {
		if err := json.Unmarshal(entityIDs, &item.EntityIDs); err != nil {
			return nil, fmt.Errorf("postgres: item entity IDs: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: item metadata: %w", err)
		}
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		item.LastAccessedAt = &t
	}
	return item, nil
}

func scanScoredItem(rows *sql.Rows) (*types.MemoryItem, float64, error) {
	var similarity float64
	item, err := scanItem(rows, []interface{}{&similarity})
	if err != nil {
		return nil, 0, err
	}
	return item, similarity, nil
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for queries that join.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// marshalJSON encodes a value as JSON, NULL for empty.
func marshalJSON(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func packFloat32(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func unpackFloat32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

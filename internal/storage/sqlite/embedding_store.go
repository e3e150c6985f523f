package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scrypster/chronicle/internal/storage"
)

// StoreEmbedding stores a vector for a memory item, replacing any prior
// vector. Vectors are packed as little-endian float32, the same layout the
// embedding providers emit.
func (s *Store) StoreEmbedding(ctx context.Context, itemID string, embedding []float32, model string) error {
	if itemID == "" {
		return fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding is empty", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (item_id, embedding, dimension, model)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model     = excluded.model
	`, itemID, packFloat32(embedding), len(embedding), model)
	if err != nil {
		return fmt.Errorf("sqlite: StoreEmbedding: %w", err)
	}
	return nil
}

// GetEmbedding retrieves the vector for a memory item.
func (s *Store) GetEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item ID is required", storage.ErrInvalidInput)
	}

	var blob []byte
	var dimension int
	err := s.db.QueryRowContext(ctx, `
		SELECT embedding, dimension FROM embeddings WHERE item_id = ?
	`, itemID).Scan(&blob, &dimension)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEmbedding: %w", err)
	}

	embedding, err := unpackFloat32(blob)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEmbedding: %w", err)
	}
	if len(embedding) != dimension {
		return nil, fmt.Errorf("sqlite: embedding for %s has %d values, expected %d",
			itemID, len(embedding), dimension)
	}
	return embedding, nil
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

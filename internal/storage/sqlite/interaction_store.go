package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

// AppendInteraction records a new interaction in the append-only log.
// Duplicate dedup hashes are rejected with ErrDuplicateInteraction.
func (s *Store) AppendInteraction(ctx context.Context, interaction *types.Interaction) error {
	if interaction == nil || interaction.ID == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if interaction.Content == "" {
		return fmt.Errorf("%w: interaction content is required", storage.ErrInvalidInput)
	}
	if interaction.DedupHash == "" {
		return fmt.Errorf("%w: dedup hash is required", storage.ErrInvalidInput)
	}
	if interaction.IngestedAt.IsZero() {
		interaction.IngestedAt = time.Now()
	}
	if interaction.State == "" {
		interaction.State = types.StateReceived
	}
	if !types.IsValidEvolutionState(interaction.State) {
		return fmt.Errorf("%w: unknown evolution state %q", storage.ErrInvalidInput, interaction.State)
	}

	metadata, err := marshalStringMap(interaction.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal interaction metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, content, source, occurred_at, ingested_at, dedup_hash, state, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, interaction.ID, interaction.Content, interaction.Source,
		interaction.OccurredAt, interaction.IngestedAt, interaction.DedupHash,
		interaction.State, nullableString(metadata))
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateInteraction
		}
		return fmt.Errorf("sqlite: AppendInteraction: %w", err)
	}
	return nil
}

// GetInteraction retrieves an interaction by ID.
func (s *Store) GetInteraction(ctx context.Context, id string) (*types.Interaction, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	return s.scanInteractionRow(ctx, `
		SELECT id, content, source, occurred_at, ingested_at, dedup_hash, state, metadata
		FROM interactions WHERE id = ?
	`, id)
}

// SetInteractionState records the latest evolution state for an interaction.
func (s *Store) SetInteractionState(ctx context.Context, id, state string) error {
	if id == "" {
		return fmt.Errorf("%w: interaction ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidEvolutionState(state) {
		return fmt.Errorf("%w: unknown evolution state %q", storage.ErrInvalidInput, state)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE interactions SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("sqlite: SetInteractionState: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: SetInteractionState rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FindInteractionByHash returns the interaction with the given dedup hash.
func (s *Store) FindInteractionByHash(ctx context.Context, hash string) (*types.Interaction, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: hash is required", storage.ErrInvalidInput)
	}
	return s.scanInteractionRow(ctx, `
		SELECT id, content, source, occurred_at, ingested_at, dedup_hash, state, metadata
		FROM interactions WHERE dedup_hash = ?
	`, hash)
}

func (s *Store) scanInteractionRow(ctx context.Context, query string, args ...interface{}) (*types.Interaction, error) {
	interaction := &types.Interaction{}
	var metadata sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&interaction.ID, &interaction.Content, &interaction.Source,
		&interaction.OccurredAt, &interaction.IngestedAt,
		&interaction.DedupHash, &interaction.State, &metadata,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: interaction scan: %w", err)
	}
	if interaction.Metadata, err = unmarshalStringMap(metadata); err != nil {
		return nil, fmt.Errorf("sqlite: interaction metadata: %w", err)
	}
	return interaction, nil
}

// isUniqueViolation reports whether the driver error is a UNIQUE constraint
// failure. modernc.org/sqlite surfaces the SQLite message text; matching it
// is the portable way to detect the condition without driver-specific types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// marshalStringMap encodes a metadata map as JSON, "" for empty.
func marshalStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalStringMap decodes a JSON metadata column, nil for NULL/empty.
func unmarshalStringMap(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

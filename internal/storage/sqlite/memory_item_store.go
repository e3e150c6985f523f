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

const memoryItemColumns = `seq, id, content, timestamp, recorded_at, entity_ids, metadata,
	source_interaction_id, access_count, last_accessed_at`

// PutItem stores a new memory item and assigns its insertion sequence
// number. Items are immutable apart from the access statistics.
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

	entityIDs, err := marshalStringSlice(item.EntityIDs)
	if err != nil {
		return fmt.Errorf("sqlite: marshal entity IDs: %w", err)
	}
	metadata, err := marshalStringMap(item.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal item metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_items
			(id, content, timestamp, recorded_at, entity_ids, metadata, source_interaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Content, item.Timestamp, item.RecordedAt,
		nullableString(entityIDs), nullableString(metadata), item.SourceInteractionID)
	if err != nil {
		return fmt.Errorf("sqlite: PutItem: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: PutItem seq: %w", err)
	}
	item.Seq = seq
	return nil
}

// ListItems returns items matching the filters, newest first. limit <= 0
// means no limit. Filters are pushed down to SQL where the schema allows.
func (s *Store) ListItems(ctx context.Context, filters *storage.ItemFilters, limit int) ([]*types.MemoryItem, error) {
	var conds []string
	var args []interface{}
	if filters != nil {
		if !filters.After.IsZero() {
			conds = append(conds, "timestamp > ?")
			args = append(args, filters.After)
		}
		if !filters.Before.IsZero() {
			conds = append(conds, "timestamp < ?")
			args = append(args, filters.Before)
		}
	}

	query := `SELECT ` + memoryItemColumns + ` FROM memory_items`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Source lives inside the metadata JSON; filter it Go-side.
	if filters != nil && filters.Source != "" {
		filtered := items[:0]
		for _, item := range items {
			if filters.Matches(item) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	return items, nil
}

// ListItemsBetween returns items whose event timestamp falls in [from, to),
// oldest first. This is the timeline view.
func (s *Store) ListItemsBetween(ctx context.Context, from, to time.Time) ([]*types.MemoryItem, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty time range", storage.ErrInvalidInput)
	}
	return s.queryItems(ctx, `
		SELECT `+memoryItemColumns+` FROM memory_items
		WHERE timestamp >= ? AND timestamp < ?
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
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("sqlite: TouchItem: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: TouchItem rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...interface{}) ([]*types.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query items: %w", err)
	}
	defer rows.Close()

	var items []*types.MemoryItem
	for rows.Next() {
		item := &types.MemoryItem{}
		var entityIDs, metadata sql.NullString
		var lastAccessed sql.NullTime
		if err := rows.Scan(
			&item.Seq, &item.ID, &item.Content, &item.Timestamp, &item.RecordedAt,
			&entityIDs, &metadata, &item.SourceInteractionID,
			&item.AccessCount, &lastAccessed,
		); err != nil {
			return nil, fmt.Errorf("sqlite: item scan: %w", err)
		}
		if item.EntityIDs, err = unmarshalStringSlice(entityIDs); err != nil {
			return nil, fmt.Errorf("sqlite: item entity IDs: %w", err)
		}
		if item.Metadata, err = unmarshalStringMap(metadata); err != nil {
			return nil, fmt.Errorf("sqlite: item metadata: %w", err)
		}
		if lastAccessed.Valid {
			t := lastAccessed.Time
			item.LastAccessedAt = &t
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func marshalStringSlice(ss []string) (string, error) {
	if len(ss) == 0 {
		return "", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStringSlice(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s.String), &ss); err != nil {
		return nil, err
	}
	return ss, nil
}

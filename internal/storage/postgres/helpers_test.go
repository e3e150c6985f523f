package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the memory item tables. It is
// defined in the postgres package (not the _test package) so it has access
// to the unexported db field, and exported so the postgres_test package can
// call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE embeddings, memory_items RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate memory items: %w", err)
	}
	return nil
}

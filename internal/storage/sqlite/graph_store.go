package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/chronicle/internal/names"
	"github.com/scrypster/chronicle/internal/storage"
	"github.com/scrypster/chronicle/pkg/types"
)

const (
	// entityMatchThreshold is the minimum name/alias similarity for a
	// candidate to resolve to an existing entity.
	entityMatchThreshold = 0.85

	// ambiguityEpsilon: when the two best matches are both above the
	// threshold and within this window of each other, resolution is
	// ambiguous and the upsert is rejected rather than guessed.
	ambiguityEpsilon = 0.05
)

// UpsertEntity resolves the candidate against existing entities by
// normalized name/alias similarity and either merges into the match or
// creates a new entity. The whole call runs in one transaction.
func (s *Store) UpsertEntity(ctx context.Context, candidate *types.EntityCandidate, observedAt time.Time) (*storage.UpsertResult, error) {
	if candidate == nil || candidate.Name == "" {
		return nil, fmt.Errorf("%w: candidate name is required", storage.ErrInvalidInput)
	}
	if !types.IsValidEntityType(candidate.Type) {
		return nil, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidInput, candidate.Type)
	}
	if candidate.Confidence < 0.0 || candidate.Confidence > 1.0 {
		return nil, fmt.Errorf("%w: confidence %f out of range", storage.ErrInvalidInput, candidate.Confidence)
	}
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEntity begin: %w", err)
	}
	defer tx.Rollback()

	entityID, err := s.resolveCandidateTx(ctx, tx, candidate)
	if err != nil {
		return nil, err
	}

	var result *storage.UpsertResult
	if entityID == "" {
		result, err = s.createEntityTx(ctx, tx, candidate, observedAt)
	} else {
		result, err = s.mergeEntityTx(ctx, tx, entityID, candidate, observedAt)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: UpsertEntity commit: %w", err)
	}
	return result, nil
}

// resolveCandidateTx returns the ID of the existing entity the candidate
// resolves to, or "" when no entity matches. Exact normalized matches win;
// otherwise the best fuzzy match above entityMatchThreshold is used.
// Two distinct entities above the threshold within ambiguityEpsilon of each
// other make the resolution ambiguous.
func (s *Store) resolveCandidateTx(ctx context.Context, tx *sql.Tx, candidate *types.EntityCandidate) (string, error) {
	normalized := names.Normalize(candidate.Name)

	// Exact match on canonical name or alias.
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM entities WHERE normalized_name = ?
		UNION
		SELECT entity_id FROM entity_aliases WHERE normalized_alias = ?
	`, normalized, normalized)
	if err != nil {
		return "", fmt.Errorf("sqlite: resolve exact: %w", err)
	}
	exact, err := collectIDs(rows)
	if err != nil {
		return "", err
	}
	switch len(exact) {
	case 1:
		return exact[0], nil
	default:
		if len(exact) > 1 {
			return "", fmt.Errorf("%w: %q matches %d entities exactly", storage.ErrAmbiguousEntity, candidate.Name, len(exact))
		}
	}

	// Fuzzy match over all known names and aliases. Keep the best score per
	// entity, then compare the top two.
	rows, err = tx.QueryContext(ctx, `
		SELECT id, normalized_name FROM entities
		UNION ALL
		SELECT entity_id, normalized_alias FROM entity_aliases
	`)
	if err != nil {
		return "", fmt.Errorf("sqlite: resolve fuzzy: %w", err)
	}
	defer rows.Close()

	best := make(map[string]float64)
	for rows.Next() {
		var id, known string
		if err := rows.Scan(&id, &known); err != nil {
			return "", fmt.Errorf("sqlite: resolve fuzzy scan: %w", err)
		}
		if score := names.Similarity(normalized, known); score > best[id] {
			best[id] = score
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("sqlite: resolve fuzzy rows: %w", err)
	}

	var bestID string
	var bestScore, secondScore float64
	for id, score := range best {
		switch {
		case score > bestScore:
			secondScore = bestScore
			bestScore, bestID = score, id
		case score > secondScore:
			secondScore = score
		}
	}

	if bestScore < entityMatchThreshold {
		return "", nil
	}
	if secondScore >= entityMatchThreshold && bestScore-secondScore < ambiguityEpsilon {
		return "", fmt.Errorf("%w: %q matches multiple entities (%.2f vs %.2f)",
			storage.ErrAmbiguousEntity, candidate.Name, bestScore, secondScore)
	}
	return bestID, nil
}

// createEntityTx inserts a brand-new entity with its aliases and open
// attribute revisions.
func (s *Store) createEntityTx(ctx context.Context, tx *sql.Tx, candidate *types.EntityCandidate, observedAt time.Time) (*storage.UpsertResult, error) {
	id := "ent:" + uuid.NewString()
	now := time.Now()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, type, canonical_name, normalized_name, valid_from, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, candidate.Type, candidate.Name, names.Normalize(candidate.Name), observedAt, now)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create entity: %w", err)
	}

	if err := s.insertAliasesTx(ctx, tx, id, candidate); err != nil {
		return nil, err
	}

	for _, name := range sortedAttributeNames(candidate.Attributes) {
		if err := s.insertAttributeTx(ctx, tx, id, name, candidate.Attributes[name], observedAt, now); err != nil {
			return nil, err
		}
	}

	return &storage.UpsertResult{ID: id, Created: true}, nil
}

// mergeEntityTx folds the candidate into an existing entity: new aliases are
// added, non-conflicting attributes extend the current revision set, and
// conflicting values close the open revision and open a new one. Prior
// values are never overwritten.
func (s *Store) mergeEntityTx(ctx context.Context, tx *sql.Tx, entityID string, candidate *types.EntityCandidate, observedAt time.Time) (*storage.UpsertResult, error) {
	if err := s.insertAliasesTx(ctx, tx, entityID, candidate); err != nil {
		return nil, err
	}

	now, err := s.nextRecordedAtTx(ctx, tx, entityID)
	if err != nil {
		return nil, err
	}

	superseded := 0
	for _, name := range sortedAttributeNames(candidate.Attributes) {
		value := candidate.Attributes[name]

		var openID, openValue string
		err := tx.QueryRowContext(ctx, `
			SELECT id, value FROM entity_attributes
			WHERE entity_id = ? AND name = ? AND valid_until IS NULL
		`, entityID, name).Scan(&openID, &openValue)

		switch {
		case err == sql.ErrNoRows:
			if err := s.insertAttributeTx(ctx, tx, entityID, name, value, observedAt, now); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("sqlite: merge attribute %q: %w", name, err)
		case openValue == value:
			// Same belief re-asserted; nothing to record.
		default:
			// Conflicting value: close the open revision, then open a new one.
			if _, err := tx.ExecContext(ctx, `
				UPDATE entity_attributes
				SET valid_until = ?, closed_recorded_at = ?
				WHERE id = ?
			`, observedAt, now, openID); err != nil {
				return nil, fmt.Errorf("sqlite: close attribute %q: %w", name, err)
			}
			if err := s.insertAttributeTx(ctx, tx, entityID, name, value, observedAt, now); err != nil {
				return nil, err
			}
			superseded++
		}
	}

	return &storage.UpsertResult{ID: entityID, Superseded: superseded}, nil
}

// insertAliasesTx records the candidate name and all candidate aliases as
// aliases of the entity (INSERT OR IGNORE keeps existing rows untouched).
func (s *Store) insertAliasesTx(ctx context.Context, tx *sql.Tx, entityID string, candidate *types.EntityCandidate) error {
	aliases := append([]string{candidate.Name}, candidate.Aliases...)
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO entity_aliases (entity_id, alias, normalized_alias)
			VALUES (?, ?, ?)
		`, entityID, alias, names.Normalize(alias))
		if err != nil {
			return fmt.Errorf("sqlite: insert alias %q: %w", alias, err)
		}
	}
	return nil
}

// insertAttributeTx writes a new open attribute revision.
func (s *Store) insertAttributeTx(ctx context.Context, tx *sql.Tx, entityID, name, value string, observedAt, recordedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entity_attributes (id, entity_id, name, value, valid_from, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, "attr:"+uuid.NewString(), entityID, name, value, observedAt, recordedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert attribute %q: %w", name, err)
	}
	return nil
}

// nextRecordedAtTx returns a system timestamp strictly greater than every
// recorded_at already written for the entity, so a revision sequence is
// totally ordered even when writes land within clock resolution.
func (s *Store) nextRecordedAtTx(ctx context.Context, tx *sql.Tx, entityID string) (time.Time, error) {
	now := time.Now()

	var last sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT MAX(recorded_at) FROM entity_attributes WHERE entity_id = ?
	`, entityID).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return now, fmt.Errorf("sqlite: last recorded_at: %w", err)
	}
	if last.Valid && !now.After(last.Time) {
		now = last.Time.Add(time.Microsecond)
	}
	return now, nil
}

// UpsertRelationship inserts a new open edge after closing any still-open
// edge with the identical (subject, predicate, object) triple. Both
// endpoints must already exist.
func (s *Store) UpsertRelationship(ctx context.Context, rel *types.Relationship) (*storage.UpsertResult, error) {
	if rel == nil || rel.SubjectID == "" || rel.ObjectID == "" {
		return nil, fmt.Errorf("%w: subject and object are required", storage.ErrInvalidInput)
	}
	if !types.IsValidPredicate(rel.Predicate) {
		return nil, fmt.Errorf("%w: unknown predicate %q", storage.ErrInvalidInput, rel.Predicate)
	}
	if rel.Confidence < 0.0 || rel.Confidence > 1.0 {
		return nil, fmt.Errorf("%w: confidence %f out of range", storage.ErrInvalidInput, rel.Confidence)
	}
	if rel.ValidFrom.IsZero() {
		rel.ValidFrom = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: UpsertRelationship begin: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{rel.SubjectID, rel.ObjectID} {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM entities WHERE id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", storage.ErrDanglingReference, id)
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: endpoint check: %w", err)
		}
	}

	now := time.Now()

	// Close any open edge of the exact triple: the contradicting (or
	// re-asserted) fact supersedes it.
	res, err := tx.ExecContext(ctx, `
		UPDATE relationships
		SET valid_until = ?, closed_recorded_at = ?
		WHERE subject_id = ? AND predicate = ? AND object_id = ? AND valid_until IS NULL
	`, rel.ValidFrom, now, rel.SubjectID, rel.Predicate, rel.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: close prior edge: %w", err)
	}
	closed, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: close prior edge rows: %w", err)
	}

	if rel.ID == "" {
		rel.ID = "rel:" + uuid.NewString()
	}
	rel.RecordedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO relationships
			(id, subject_id, predicate, object_id, confidence, valid_from, recorded_at, source_interaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rel.ID, rel.SubjectID, rel.Predicate, rel.ObjectID, rel.Confidence,
		rel.ValidFrom, rel.RecordedAt, nullableString(rel.SourceInteractionID))
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: UpsertRelationship commit: %w", err)
	}

	return &storage.UpsertResult{ID: rel.ID, Created: true, Superseded: int(closed)}, nil
}

// GetEntity returns the entity with its aliases and currently open
// attribute revisions.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	entity, err := s.scanEntityRow(ctx, `SELECT id, type, canonical_name, valid_from, valid_until, recorded_at FROM entities WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}

	if entity.Aliases, err = s.loadAliases(ctx, id); err != nil {
		return nil, err
	}

	entity.Attributes = make(map[string]string)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM entity_attributes
		WHERE entity_id = ? AND valid_until IS NULL
	`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: GetEntity attributes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("sqlite: GetEntity attribute scan: %w", err)
		}
		entity.Attributes[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: GetEntity attribute rows: %w", err)
	}

	return entity, nil
}

// FindEntityByName looks up an entity by exact normalized canonical name or
// alias.
func (s *Store) FindEntityByName(ctx context.Context, name string) (*types.Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", storage.ErrInvalidInput)
	}
	normalized := names.Normalize(name)

	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM entities WHERE normalized_name = ?
		UNION
		SELECT entity_id FROM entity_aliases WHERE normalized_alias = ?
		LIMIT 1
	`, normalized, normalized).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: FindEntityByName: %w", err)
	}
	return s.GetEntity(ctx, id)
}

// ReadEntityAt returns the entity snapshot at an event time, as it was known
// at a system time. Attribute revisions recorded after asOfSystem are
// invisible, and a closure recorded after asOfSystem is ignored, so the
// caller sees exactly what the system believed then.
func (s *Store) ReadEntityAt(ctx context.Context, id string, asOfEvent, asOfSystem time.Time) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	entity, err := s.scanEntityRow(ctx, `
		SELECT id, type, canonical_name, valid_from, valid_until, recorded_at
		FROM entities
		WHERE id = ? AND recorded_at <= ? AND valid_from <= ?
	`, id, asOfSystem, asOfEvent)
	if err != nil {
		return nil, err
	}

	if entity.Aliases, err = s.loadAliases(ctx, id); err != nil {
		return nil, err
	}

	// A revision is visible when it was recorded by asOfSystem, covers the
	// event time, and any closure happened by asOfSystem.
	entity.Attributes = make(map[string]string)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value FROM entity_attributes
		WHERE entity_id = ?
		  AND recorded_at <= ?
		  AND valid_from <= ?
		  AND (valid_until IS NULL OR valid_until > ? OR closed_recorded_at > ?)
	`, id, asOfSystem, asOfEvent, asOfEvent, asOfSystem)
	if err != nil {
		return nil, fmt.Errorf("sqlite: ReadEntityAt attributes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("sqlite: ReadEntityAt scan: %w", err)
		}
		entity.Attributes[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: ReadEntityAt rows: %w", err)
	}

	return entity, nil
}

// ReadRelationshipAt returns the edge as it was known at a system time,
// provided it was valid at the given event time. ErrNotFound when the edge
// was not visible under those coordinates.
func (s *Store) ReadRelationshipAt(ctx context.Context, id string, asOfEvent, asOfSystem time.Time) (*types.Relationship, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: relationship ID is required", storage.ErrInvalidInput)
	}

	rel, err := s.scanRelationshipRow(ctx, `
		SELECT id, subject_id, predicate, object_id, confidence,
		       valid_from, valid_until, recorded_at, closed_recorded_at, source_interaction_id
		FROM relationships WHERE id = ?
	`, id)
	if err != nil {
		return nil, err
	}

	if rel.RecordedAt.After(asOfSystem) || rel.ValidFrom.After(asOfEvent) {
		return nil, storage.ErrNotFound
	}

	// A closure recorded after asOfSystem had not happened yet from the
	// reader's point of view: present the edge as still open.
	if rel.ClosedRecordedAt != nil && rel.ClosedRecordedAt.After(asOfSystem) {
		rel.ValidUntil = nil
		rel.ClosedRecordedAt = nil
	}
	if rel.ValidUntil != nil && !rel.ValidUntil.After(asOfEvent) {
		return nil, storage.ErrNotFound
	}

	return rel, nil
}

// OpenRelationships returns the currently open edges touching the entity in
// either direction.
func (s *Store) OpenRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, predicate, object_id, confidence,
		       valid_from, valid_until, recorded_at, closed_recorded_at, source_interaction_id
		FROM relationships
		WHERE (subject_id = ? OR object_id = ?) AND valid_until IS NULL
		ORDER BY recorded_at ASC
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: OpenRelationships: %w", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// QuerySubgraph performs bounded BFS from the seed entities over open edges.
// Termination is guaranteed by the hop limit; cycles are expected and handled
// by the visited set without affecting termination.
func (s *Store) QuerySubgraph(ctx context.Context, seedEntityIDs []string, bounds storage.SubgraphBounds) (*storage.Subgraph, error) {
	if len(seedEntityIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one seed entity is required", storage.ErrInvalidInput)
	}
	bounds.Normalize()

	result := &storage.Subgraph{HopDistance: make(map[string]int)}
	visited := make(map[string]bool)
	seenEdges := make(map[string]bool)
	edgeCount := 0

	var frontier []string
	for _, id := range seedEntityIDs {
		entity, err := s.GetEntity(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue // unknown seeds are skipped, not fatal
			}
			return nil, err
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		result.HopDistance[id] = 0
		result.Entities = append(result.Entities, entity)
		frontier = append(frontier, id)
	}

	for hop := 1; hop <= bounds.MaxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []string
		for _, id := range frontier {
			edges, err := s.OpenRelationships(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if seenEdges[edge.ID] {
					continue
				}
				if edgeCount >= bounds.MaxEdges {
					result.BoundsReached = appendOnce(result.BoundsReached, "max_edges")
					return result, nil
				}
				seenEdges[edge.ID] = true
				edgeCount++
				result.Relationships = append(result.Relationships, edge)

				neighbour := edge.ObjectID
				if neighbour == id {
					neighbour = edge.SubjectID
				}
				if visited[neighbour] {
					continue
				}
				if len(result.Entities) >= bounds.MaxNodes {
					result.BoundsReached = appendOnce(result.BoundsReached, "max_nodes")
					return result, nil
				}
				entity, err := s.GetEntity(ctx, neighbour)
				if err != nil {
					return nil, err
				}
				visited[neighbour] = true
				result.HopDistance[neighbour] = hop
				result.Entities = append(result.Entities, entity)
				next = append(next, neighbour)
			}
		}
		frontier = next
		if hop == bounds.MaxHops && len(next) > 0 {
			result.BoundsReached = appendOnce(result.BoundsReached, "max_hops")
		}
	}

	return result, nil
}

// Stats returns aggregate counts over the stored graph.
func (s *Store) Stats(ctx context.Context) (*storage.GraphStats, error) {
	stats := &storage.GraphStats{
		EntityTypes:   make(map[string]int),
		PredicateUses: make(map[string]int),
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM entities`, &stats.Entities},
		{`SELECT COUNT(*) FROM relationships WHERE valid_until IS NULL`, &stats.OpenEdges},
		{`SELECT COUNT(*) FROM relationships WHERE valid_until IS NOT NULL`, &stats.ClosedEdges},
		{`SELECT COUNT(*) FROM interactions`, &stats.Interactions},
		{`SELECT COUNT(*) FROM memory_items`, &stats.MemoryItems},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("sqlite: Stats: %w", err)
		}
	}

	groups := []struct {
		query string
		dest  map[string]int
	}{
		{`SELECT type, COUNT(*) FROM entities GROUP BY type`, stats.EntityTypes},
		{`SELECT predicate, COUNT(*) FROM relationships GROUP BY predicate`, stats.PredicateUses},
	}
	for _, g := range groups {
		rows, err := s.db.QueryContext(ctx, g.query)
		if err != nil {
			return nil, fmt.Errorf("sqlite: Stats group: %w", err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("sqlite: Stats group scan: %w", err)
			}
			g.dest[key] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: Stats group rows: %w", err)
		}
		rows.Close()
	}

	return stats, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// scanEntityRow runs a single-row entity query and scans the base fields.
func (s *Store) scanEntityRow(ctx context.Context, query string, args ...interface{}) (*types.Entity, error) {
	entity := &types.Entity{}
	var validUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&entity.ID, &entity.Type, &entity.CanonicalName,
		&entity.ValidFrom, &validUntil, &entity.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: entity scan: %w", err)
	}
	if validUntil.Valid {
		t := validUntil.Time
		entity.ValidUntil = &t
	}
	return entity, nil
}

// loadAliases returns the alias display forms for an entity, sorted.
func (s *Store) loadAliases(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias FROM entity_aliases WHERE entity_id = ? ORDER BY alias ASC`, entityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, fmt.Errorf("sqlite: alias scan: %w", err)
		}
		aliases = append(aliases, alias)
	}
	return aliases, rows.Err()
}

// scanRelationshipRow runs a single-row relationship query.
func (s *Store) scanRelationshipRow(ctx context.Context, query string, args ...interface{}) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	rel := &types.Relationship{}
	var validUntil, closedAt sql.NullTime
	var sourceID sql.NullString
	err := row.Scan(
		&rel.ID, &rel.SubjectID, &rel.Predicate, &rel.ObjectID, &rel.Confidence,
		&rel.ValidFrom, &validUntil, &rel.RecordedAt, &closedAt, &sourceID,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: relationship scan: %w", err)
	}
	applyRelationshipNullables(rel, validUntil, closedAt, sourceID)
	return rel, nil
}

// scanRelationship scans one relationship from a multi-row result set.
func scanRelationship(rows *sql.Rows) (*types.Relationship, error) {
	rel := &types.Relationship{}
	var validUntil, closedAt sql.NullTime
	var sourceID sql.NullString
	if err := rows.Scan(
		&rel.ID, &rel.SubjectID, &rel.Predicate, &rel.ObjectID, &rel.Confidence,
		&rel.ValidFrom, &validUntil, &rel.RecordedAt, &closedAt, &sourceID,
	); err != nil {
		return nil, fmt.Errorf("sqlite: relationship scan: %w", err)
	}
	applyRelationshipNullables(rel, validUntil, closedAt, sourceID)
	return rel, nil
}

func applyRelationshipNullables(rel *types.Relationship, validUntil, closedAt sql.NullTime, sourceID sql.NullString) {
	if validUntil.Valid {
		t := validUntil.Time
		rel.ValidUntil = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		rel.ClosedRecordedAt = &t
	}
	if sourceID.Valid {
		rel.SourceInteractionID = sourceID.String
	}
}

// collectIDs drains a single-column result set of IDs.
func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: id scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sortedAttributeNames returns the attribute names in a stable order so a
// failed upsert replays deterministically.
func sortedAttributeNames(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// appendOnce appends s to the slice if not already present.
func appendOnce(ss []string, s string) []string {
	for _, existing := range ss {
		if existing == s {
			return ss
		}
	}
	return append(ss, s)
}

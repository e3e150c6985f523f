// Package postgres provides a PostgreSQL implementation of the memory item
// and embedding stores, with native vector search via pgvector.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so startup can re-apply it.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_items (
    seq                   BIGSERIAL PRIMARY KEY,
    id                    TEXT NOT NULL UNIQUE,
    content               TEXT NOT NULL,
    timestamp             TIMESTAMPTZ NOT NULL,
    recorded_at           TIMESTAMPTZ NOT NULL,
    entity_ids            JSONB,
    metadata              JSONB,
    source_interaction_id TEXT NOT NULL,
    access_count          INTEGER NOT NULL DEFAULT 0,
    last_accessed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memory_items_timestamp ON memory_items(timestamp);
CREATE INDEX IF NOT EXISTS idx_memory_items_source ON memory_items((metadata->>'source'));

CREATE TABLE IF NOT EXISTS embeddings (
    item_id    TEXT PRIMARY KEY REFERENCES memory_items(id),
    embedding  BYTEA NOT NULL,
    dimension  INTEGER NOT NULL,
    model      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// MigrationPgvector adds native vector support to the embeddings table.
// Applied only when the vector extension is available. Safe to run multiple
// times.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`

package sqlite

// Schema is the SQLite DDL for the Chronicle store. Every versioned table
// carries the bi-temporal quartet: valid_from/valid_until (event time) and
// recorded_at/closed_recorded_at (system time). recorded_at is write-once;
// closed_recorded_at is set exactly once, when a row's validity is closed,
// so point-in-time reads can ignore closures recorded after the as-of time.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	canonical_name  TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	valid_from      TIMESTAMP NOT NULL,
	valid_until     TIMESTAMP,
	recorded_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_normalized ON entities(normalized_name);

CREATE TABLE IF NOT EXISTS entity_aliases (
	entity_id        TEXT NOT NULL REFERENCES entities(id),
	alias            TEXT NOT NULL,
	normalized_alias TEXT NOT NULL,
	PRIMARY KEY (entity_id, normalized_alias)
);

CREATE INDEX IF NOT EXISTS idx_aliases_normalized ON entity_aliases(normalized_alias);

CREATE TABLE IF NOT EXISTS entity_attributes (
	id                 TEXT PRIMARY KEY,
	entity_id          TEXT NOT NULL REFERENCES entities(id),
	name               TEXT NOT NULL,
	value              TEXT NOT NULL,
	valid_from         TIMESTAMP NOT NULL,
	valid_until        TIMESTAMP,
	recorded_at        TIMESTAMP NOT NULL,
	closed_recorded_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_attributes_entity ON entity_attributes(entity_id, name);

CREATE TABLE IF NOT EXISTS relationships (
	id                    TEXT PRIMARY KEY,
	subject_id            TEXT NOT NULL REFERENCES entities(id),
	predicate             TEXT NOT NULL,
	object_id             TEXT NOT NULL REFERENCES entities(id),
	confidence            REAL NOT NULL DEFAULT 1.0,
	valid_from            TIMESTAMP NOT NULL,
	valid_until           TIMESTAMP,
	recorded_at           TIMESTAMP NOT NULL,
	closed_recorded_at    TIMESTAMP,
	source_interaction_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_relationships_triple ON relationships(subject_id, predicate, object_id);
CREATE INDEX IF NOT EXISTS idx_relationships_object ON relationships(object_id);

CREATE TABLE IF NOT EXISTS interactions (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	source      TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	ingested_at TIMESTAMP NOT NULL,
	dedup_hash  TEXT NOT NULL UNIQUE,
	state       TEXT NOT NULL DEFAULT 'received',
	metadata    TEXT
);

CREATE INDEX IF NOT EXISTS idx_interactions_hash ON interactions(dedup_hash);

CREATE TABLE IF NOT EXISTS memory_items (
	seq                   INTEGER PRIMARY KEY AUTOINCREMENT,
	id                    TEXT NOT NULL UNIQUE,
	content               TEXT NOT NULL,
	timestamp             TIMESTAMP NOT NULL,
	recorded_at           TIMESTAMP NOT NULL,
	entity_ids            TEXT,
	metadata              TEXT,
	source_interaction_id TEXT NOT NULL,
	access_count          INTEGER NOT NULL DEFAULT 0,
	last_accessed_at      TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memory_items_timestamp ON memory_items(timestamp);

CREATE TABLE IF NOT EXISTS embeddings (
	item_id    TEXT PRIMARY KEY,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	model      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store implements storage.MemoryItemStore, storage.EmbeddingStore and
// storage.VectorSearcher on PostgreSQL.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
}

// NewStore opens a PostgreSQL connection, applies the schema, and probes for
// the pgvector extension. Vector search degrades gracefully when pgvector is
// not installed; the retrieval engine then scans embeddings itself.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	// Enabling the extension may fail on servers without pgvector installed.
	// Not fatal: vector search is disabled and callers fall back.
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector search disabled): %v", err)
	} else if _, err := db.Exec(MigrationPgvector); err != nil {
		log.Printf("postgres: failed to apply pgvector migration (vector search disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	return s, nil
}

// GetDB returns the underlying database connection (tests and wiring).
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// VectorSearchAvailable reports whether native vector search is usable.
func (s *Store) VectorSearchAvailable() bool {
	return s.pgvectorAvailable
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package postgres provides a PostgreSQL-backed implementation of the HiRA
// knowledge base using the pgvector extension for cosine-similarity search.
//
// A single [pgxpool.Pool] backs all operations. [New] installs the pgvector
// extension and the passages table via CREATE ... IF NOT EXISTS, so pointing
// the store at an empty database is enough to bootstrap it.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/hira-ai/hira/pkg/knowledge"
)

// Compile-time interface check.
var _ knowledge.Store = (*Store)(nil)

// Store is the pgvector-backed knowledge base.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and ensures
// the schema exists.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [knowledge.Passage.Embedding] values (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing this value after the first migration
// requires a manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the embedding column
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: ping: %w", err)
	}

	if err := migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// migrate installs the pgvector extension and the passages table.
func migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dims)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS passages (
    id          TEXT         PRIMARY KEY,
    document_id TEXT         NOT NULL,
    filename    TEXT         NOT NULL,
    page        INT          NOT NULL DEFAULT 0,
    scope       TEXT         NOT NULL DEFAULT 'core',
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    indexed_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_passages_document_id
    ON passages (document_id);

CREATE INDEX IF NOT EXISTS idx_passages_embedding_hnsw
    ON passages USING hnsw (embedding vector_cosine_ops);
`, dims)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create passages table: %w", err)
	}
	return nil
}

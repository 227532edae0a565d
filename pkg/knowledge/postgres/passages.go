package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/hira-ai/hira/pkg/knowledge"
)

// IndexPassage implements [knowledge.Store]. It upserts a pre-embedded
// passage; an existing passage with the same ID is completely replaced.
func (s *Store) IndexPassage(ctx context.Context, p knowledge.Passage) error {
	const q = `
		INSERT INTO passages
		    (id, document_id, filename, page, scope, content, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    document_id = EXCLUDED.document_id,
		    filename    = EXCLUDED.filename,
		    page        = EXCLUDED.page,
		    scope       = EXCLUDED.scope,
		    content     = EXCLUDED.content,
		    embedding   = EXCLUDED.embedding,
		    indexed_at  = EXCLUDED.indexed_at`

	indexedAt := p.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, q,
		p.ID,
		p.DocumentID,
		p.Filename,
		p.Page,
		string(p.Scope),
		p.Content,
		pgvector.NewVector(p.Embedding),
		indexedAt,
	)
	if err != nil {
		return fmt.Errorf("knowledge store: index passage: %w", err)
	}
	return nil
}

// Search implements [knowledge.Searcher]. It returns the topK passages
// closest (cosine distance) to the query embedding, ordered by descending
// similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]knowledge.Hit, error) {
	const q = `
		SELECT id, document_id, filename, page, scope, content, embedding, indexed_at,
		       embedding <=> $1 AS distance
		FROM   passages
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Hit, error) {
		var (
			h        knowledge.Hit
			scope    string
			vec      pgvector.Vector
			distance float64
		)
		if err := row.Scan(
			&h.Passage.ID,
			&h.Passage.DocumentID,
			&h.Passage.Filename,
			&h.Passage.Page,
			&scope,
			&h.Passage.Content,
			&vec,
			&h.Passage.IndexedAt,
			&distance,
		); err != nil {
			return knowledge.Hit{}, err
		}
		h.Passage.Scope = knowledge.Scope(scope)
		h.Passage.Embedding = vec.Slice()
		h.Similarity = 1 - distance
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []knowledge.Hit{}
	}
	return hits, nil
}

// DeleteDocument implements [knowledge.Store]. It removes every passage
// belonging to documentID; deleting an unknown document is not an error.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM passages WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("knowledge store: delete document: %w", err)
	}
	return nil
}

// Count implements [knowledge.Store].
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("knowledge store: count: %w", err)
	}
	return n, nil
}

// Package knowledge defines the retrieval surface of the HiRA knowledge base.
//
// The knowledge base is a flat collection of pre-embedded document passages.
// Chunking and embedding happen at ingest time; queries supply an embedding
// vector and receive the nearest passages with citation metadata. Search is
// idempotent and side-effect-free.
//
// Implementations must be safe for concurrent use.
package knowledge

import (
	"context"
	"time"
)

// Scope classifies a passage's origin within the document library.
type Scope string

const (
	// ScopeCore marks passages from the curated core document set.
	ScopeCore Scope = "core"

	// ScopeUser marks passages from user-uploaded documents.
	ScopeUser Scope = "user"
)

// IsValid reports whether s is a recognised scope.
func (s Scope) IsValid() bool {
	return s == ScopeCore || s == ScopeUser
}

// Passage is a pre-embedded segment of a library document.
type Passage struct {
	// ID is the unique identifier for this passage (e.g., a UUID).
	ID string

	// DocumentID groups passages that belong to the same source document.
	DocumentID string

	// Filename is the original document filename, used for citations.
	Filename string

	// Page is the 1-based source page number, or 0 when unknown.
	Page int

	// Scope records whether the passage comes from the core or a user library.
	Scope Scope

	// Content is the passage text.
	Content string

	// Embedding is the vector representation of Content. Dimension must match
	// the store configuration.
	Embedding []float32

	// IndexedAt is when the passage was written to the store.
	IndexedAt time.Time
}

// Hit pairs a retrieved passage with its similarity to the query embedding.
// Passage is embedded, so its fields are addressable directly on the hit.
type Hit struct {
	// Passage is the retrieved segment.
	Passage

	// Similarity is 1 − cosine distance, in [0, 1]; higher is more similar.
	Similarity float64
}

// Searcher is the read-only retrieval interface consumed by the voice relay's
// knowledge bridge.
type Searcher interface {
	// Search returns the topK passages closest to the query embedding,
	// ordered by descending Similarity. Returns an empty (non-nil) slice
	// when the store holds no passages.
	Search(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
}

// Store is the full knowledge-base interface: retrieval plus ingest-side
// passage management.
type Store interface {
	Searcher

	// IndexPassage upserts a pre-embedded passage. A passage with an existing
	// ID is completely replaced.
	IndexPassage(ctx context.Context, p Passage) error

	// DeleteDocument removes every passage belonging to documentID.
	// Deleting an unknown document is not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// Count returns the total number of indexed passages.
	Count(ctx context.Context) (int64, error)
}

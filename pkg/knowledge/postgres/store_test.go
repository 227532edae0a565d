package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hira-ai/hira/pkg/knowledge"
	"github.com/hira-ai/hira/pkg/knowledge/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if HIRA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("HIRA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HIRA_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean passages table.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	store, err := postgres.New(ctx, testDSN(t), testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)

	// Each suite run starts empty: remove any leftovers from earlier runs.
	for _, doc := range []string{"doc-a", "doc-b", "doc-upsert"} {
		if err := store.DeleteDocument(ctx, doc); err != nil {
			t.Fatalf("DeleteDocument(%s): %v", doc, err)
		}
	}
	return store
}

func passage(id, doc, content string, embedding []float32) knowledge.Passage {
	return knowledge.Passage{
		ID:         id,
		DocumentID: doc,
		Filename:   doc + ".pdf",
		Page:       1,
		Scope:      knowledge.ScopeCore,
		Content:    content,
		Embedding:  embedding,
		IndexedAt:  time.Now(),
	}
}

func TestIndexAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	passages := []knowledge.Passage{
		passage("p1", "doc-a", "Annual leave must be requested two weeks in advance.", []float32{1, 0, 0, 0}),
		passage("p2", "doc-a", "Remote work requires manager approval.", []float32{0, 1, 0, 0}),
		passage("p3", "doc-b", "Expense reports are due by the fifth of each month.", []float32{0, 0, 1, 0}),
	}
	for _, p := range passages {
		if err := store.IndexPassage(ctx, p); err != nil {
			t.Fatalf("IndexPassage(%s): %v", p.ID, err)
		}
	}

	hits, err := store.Search(ctx, []float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Search: want 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "p1" {
		t.Errorf("Search: closest hit = %s, want p1", hits[0].ID)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Errorf("Search: hits not ordered by similarity: %v then %v",
			hits[0].Similarity, hits[1].Similarity)
	}
	if hits[0].Similarity <= 0 || hits[0].Similarity > 1 {
		t.Errorf("Search: similarity %v outside (0, 1]", hits[0].Similarity)
	}
}

func TestIndexPassage_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := passage("u1", "doc-upsert", "first revision", []float32{1, 0, 0, 0})
	if err := store.IndexPassage(ctx, p); err != nil {
		t.Fatalf("IndexPassage: %v", err)
	}
	p.Content = "second revision"
	if err := store.IndexPassage(ctx, p); err != nil {
		t.Fatalf("IndexPassage (update): %v", err)
	}

	hits, err := store.Search(ctx, []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Search: want 1 hit, got %d", len(hits))
	}
	if hits[0].Content != "second revision" {
		t.Errorf("Search: content = %q, want updated revision", hits[0].Content)
	}
}

func TestDeleteDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, p := range []knowledge.Passage{
		passage("d1", "doc-a", "keep me", []float32{1, 0, 0, 0}),
		passage("d2", "doc-b", "remove me", []float32{0, 1, 0, 0}),
		passage("d3", "doc-b", "remove me too", []float32{0, 0, 1, 0}),
	} {
		if err := store.IndexPassage(ctx, p); err != nil {
			t.Fatalf("IndexPassage(%s): %v", p.ID, err)
		}
	}

	before, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if err := store.DeleteDocument(ctx, "doc-b"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	after, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if before-after != 2 {
		t.Errorf("DeleteDocument: removed %d passages, want 2", before-after)
	}

	hits, err := store.Search(ctx, []float32{0, 1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range hits {
		if h.DocumentID == "doc-b" {
			t.Errorf("Search: passage %s from deleted document still returned", h.ID)
		}
	}
}

func TestSearch_Empty(t *testing.T) {
	store := newTestStore(t)

	hits, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits == nil {
		t.Error("Search: want non-nil empty slice on no results")
	}
	if len(hits) != 0 {
		t.Errorf("Search: want 0 hits on empty store, got %d", len(hits))
	}
}

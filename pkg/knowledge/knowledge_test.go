package knowledge_test

import (
	"testing"

	"github.com/hira-ai/hira/pkg/knowledge"
)

func TestScope_IsValid(t *testing.T) {
	t.Parallel()

	for _, s := range []knowledge.Scope{knowledge.ScopeCore, knowledge.ScopeUser} {
		if !s.IsValid() {
			t.Errorf("Scope(%q).IsValid() = false; want true", s)
		}
	}
	for _, s := range []knowledge.Scope{"", "CORE", "global"} {
		if s.IsValid() {
			t.Errorf("Scope(%q).IsValid() = true; want false", s)
		}
	}
}

// Callers read passage fields directly off a hit, so the embedding must stay
// in place.
func TestHit_ExposesPassageFields(t *testing.T) {
	t.Parallel()

	h := knowledge.Hit{
		Passage: knowledge.Passage{
			Filename: "handbook.pdf",
			Content:  "Annual leave is 25 days.",
			Page:     4,
		},
		Similarity: 0.87,
	}

	if h.Filename != "handbook.pdf" {
		t.Errorf("h.Filename = %q; want %q", h.Filename, "handbook.pdf")
	}
	if h.Content != "Annual leave is 25 days." {
		t.Errorf("h.Content = %q; want %q", h.Content, "Annual leave is 25 days.")
	}
	if h.Page != 4 {
		t.Errorf("h.Page = %d; want 4", h.Page)
	}
}

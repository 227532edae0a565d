package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/hira-ai/hira/pkg/provider/embeddings/mock"
)

func TestEmbeddingsFallback_PrimarySucceeds(t *testing.T) {
	primary := &mock.Provider{EmbedResult: []float32{1, 2, 3}, DimensionsValue: 3, ModelIDValue: "primary-model"}
	backup := &mock.Provider{EmbedResult: []float32{9, 9, 9}}

	f := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	vec, err := f.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("Embed = %v; want primary result", vec)
	}
	if len(backup.EmbedTexts) != 0 {
		t.Error("backup should not be called while primary is healthy")
	}
	if f.Dimensions() != 3 || f.ModelID() != "primary-model" {
		t.Errorf("metadata = (%d, %q); want primary's", f.Dimensions(), f.ModelID())
	}
}

func TestEmbeddingsFallback_FailsOverToBackup(t *testing.T) {
	primary := &mock.Provider{EmbedErr: errors.New("rate limited")}
	backup := &mock.Provider{EmbedResult: []float32{4, 5, 6}}

	f := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	vec, err := f.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 4 {
		t.Errorf("Embed = %v; want backup result", vec)
	}
	if len(primary.EmbedTexts) != 1 || len(backup.EmbedTexts) != 1 {
		t.Errorf("call counts = (%d, %d); want (1, 1)",
			len(primary.EmbedTexts), len(backup.EmbedTexts))
	}
}

func TestEmbeddingsFallback_AllFail(t *testing.T) {
	primary := &mock.Provider{EmbedErr: errors.New("down")}
	backup := &mock.Provider{EmbedErr: errors.New("also down")}

	f := NewEmbeddingsFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	if _, err := f.Embed(context.Background(), "hello"); !errors.Is(err, ErrAllFailed) {
		t.Errorf("Embed error = %v; want ErrAllFailed", err)
	}
}

func TestEmbeddingsFallback_SkipsOpenBreaker(t *testing.T) {
	primary := &mock.Provider{EmbedErr: errors.New("down")}
	backup := &mock.Provider{EmbedBatchResult: [][]float32{{1}, {2}}}

	f := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2},
	})
	f.AddFallback("backup", backup)

	ctx := context.Background()
	// Trip the primary's breaker.
	for i := 0; i < 3; i++ {
		if _, err := f.EmbedBatch(ctx, []string{"a", "b"}); err != nil {
			t.Fatalf("EmbedBatch %d: %v", i, err)
		}
	}

	// Breaker open after 2 failures: the third call skips the primary.
	if got := len(primary.EmbedBatchTexts); got != 2 {
		t.Errorf("primary calls = %d; want 2 (breaker open afterwards)", got)
	}
	if got := len(backup.EmbedBatchTexts); got != 3 {
		t.Errorf("backup calls = %d; want 3", got)
	}
}

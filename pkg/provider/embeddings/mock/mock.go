// Package mock provides a test double for the embeddings.Provider interface.
//
// Provider returns pre-canned vectors without a live model and records every
// text submitted for embedding so tests can assert on it.
package mock

import (
	"context"
	"sync"

	"github.com/hira-ai/hira/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
// The zero value is usable; configure the exported fields before use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed. EmbedErr, if non-nil, takes priority.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult is returned by EmbedBatch. If nil, a slice of nil
	// vectors matching len(texts) is returned instead.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	// DimensionsValue is returned by Dimensions, ModelIDValue by ModelID.
	DimensionsValue int
	ModelIDValue    string

	// EmbedTexts records every text passed to Embed, in order.
	EmbedTexts []string
	// EmbedBatchTexts records every slice passed to EmbedBatch, in order.
	EmbedBatchTexts [][]string
}

// Embed records the call and returns EmbedResult, EmbedErr.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedTexts = append(p.EmbedTexts, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.EmbedResult, nil
}

// EmbedBatch records the call and returns EmbedBatchResult, EmbedBatchErr.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchTexts = append(p.EmbedBatchTexts, cp)
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedTexts = nil
	p.EmbedBatchTexts = nil
}

// Package retrieval answers knowledge-base tool calls issued during a voice
// session.
//
// The Bridge embeds the spoken request, runs a similarity search over the
// indexed passages and condenses the hits into a tool output small enough to
// be spoken aloud. Lookups are bounded by a timeout and guarded by a circuit
// breaker: a degraded vector store must never stall the audio path, so any
// failure degrades to a fallback result instead of an error the session would
// have to swallow.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hira-ai/hira/internal/observe"
	"github.com/hira-ai/hira/internal/resilience"
	"github.com/hira-ai/hira/pkg/knowledge"
	"github.com/hira-ai/hira/pkg/provider/embeddings"
)

// FallbackContext is the context string returned when the knowledge base has
// nothing relevant or the lookup failed. The model turns it into a spoken
// "I don't have information about that" style reply.
const FallbackContext = "No information found in knowledge base"

// Defaults for a Bridge.
const (
	DefaultTopK            = 3
	DefaultMaxContextChars = 500
	DefaultMaxSources      = 2
	DefaultTimeout         = 5 * time.Second
)

// Source identifies a document that contributed to the retrieved context.
type Source struct {
	Filename string `json:"filename"`
}

// Result is the condensed outcome of a knowledge-base lookup.
type Result struct {
	// Context is the passage text to ground the reply on, truncated to the
	// speech budget. Equal to FallbackContext when nothing was found.
	Context string

	// Sources lists the contributing documents, deduplicated, newest-ranked
	// first, capped at the configured maximum.
	Sources []Source

	// Truncated is true when the concatenated passages exceeded the speech
	// budget and were cut.
	Truncated bool

	// Fallback is true when the lookup failed or found nothing relevant.
	Fallback bool
}

// toolOutput is the JSON shape submitted back to the model as tool output.
type toolOutput struct {
	Context        string   `json:"context"`
	Sources        []Source `json:"sources"`
	MeetingContext string   `json:"meeting_context,omitempty"`
}

// ToolOutput renders the result as the JSON the model expects as tool output.
// meetingContext carries recent conversation turns so the model can resolve
// follow-up phrasing; it may be empty.
func (r Result) ToolOutput(meetingContext string) (string, error) {
	sources := r.Sources
	if sources == nil {
		sources = []Source{}
	}
	data, err := json.Marshal(toolOutput{
		Context:        r.Context,
		Sources:        sources,
		MeetingContext: meetingContext,
	})
	if err != nil {
		return "", fmt.Errorf("retrieval: marshal tool output: %w", err)
	}
	return string(data), nil
}

// FallbackResult is what a session submits when retrieval is unavailable.
func FallbackResult() Result {
	return Result{Context: FallbackContext, Sources: []Source{}, Fallback: true}
}

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithTopK sets how many passages a lookup requests. Default: 3.
func WithTopK(k int) Option {
	return func(b *Bridge) {
		b.topK = k
	}
}

// WithMaxContextChars sets the speech budget for the concatenated passage
// text. Default: 500.
func WithMaxContextChars(n int) Option {
	return func(b *Bridge) {
		b.maxContextChars = n
	}
}

// WithMaxSources caps how many source documents are reported. Default: 2.
func WithMaxSources(n int) Option {
	return func(b *Bridge) {
		b.maxSources = n
	}
}

// WithTimeout bounds a full lookup, embedding included. Default: 5s.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.timeout = d
	}
}

// WithMinSimilarity drops hits scoring below the threshold. Default: 0
// (keep everything the store returns).
func WithMinSimilarity(threshold float64) Option {
	return func(b *Bridge) {
		b.minSimilarity = threshold
	}
}

// WithCircuitBreaker replaces the default breaker guarding lookups.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(b *Bridge) {
		b.breaker = cb
	}
}

// Bridge connects a voice session to the knowledge base. It is safe for
// concurrent use.
type Bridge struct {
	embedder embeddings.Provider
	searcher knowledge.Searcher
	breaker  *resilience.CircuitBreaker

	topK            int
	maxContextChars int
	maxSources      int
	timeout         time.Duration
	minSimilarity   float64
}

// NewBridge creates a Bridge over the given embedder and searcher.
func NewBridge(embedder embeddings.Provider, searcher knowledge.Searcher, opts ...Option) *Bridge {
	b := &Bridge{
		embedder:        embedder,
		searcher:        searcher,
		topK:            DefaultTopK,
		maxContextChars: DefaultMaxContextChars,
		maxSources:      DefaultMaxSources,
		timeout:         DefaultTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	if b.breaker == nil {
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "knowledge-retrieval",
		})
	}
	return b
}

// Retrieve looks up the query and condenses the hits into a Result.
//
// Retrieve never leaves the caller without output: on embedding failure,
// search failure, timeout or an open circuit breaker it returns
// FallbackResult together with the error; an empty hit set returns
// FallbackResult with a nil error. Callers submit the Result either way and
// use the error only for logging and metrics.
func (b *Bridge) Retrieve(ctx context.Context, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "knowledge.retrieve",
		trace.WithAttributes(attribute.Int("retrieval.top_k", b.topK)))

	var hits []knowledge.Hit
	err := b.breaker.Execute(func() error {
		embedding, err := b.embedder.Embed(ctx, query)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err = b.searcher.Search(ctx, embedding, b.topK)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		return nil
	})
	if err != nil {
		observe.EndSpan(span, err)
		return FallbackResult(), fmt.Errorf("retrieval: %w", err)
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(hits)))
	observe.EndSpan(span, nil)
	return b.condense(hits), nil
}

// condense filters, concatenates and truncates hits into a Result.
func (b *Bridge) condense(hits []knowledge.Hit) Result {
	var (
		contextText string
		sources     []Source
		seen        = map[string]struct{}{}
		truncated   bool
	)

	for _, hit := range hits {
		if hit.Similarity < b.minSimilarity {
			continue
		}

		if contextText != "" {
			contextText += "\n\n"
		}
		contextText += hit.Content

		if _, ok := seen[hit.Filename]; !ok && hit.Filename != "" && len(sources) < b.maxSources {
			seen[hit.Filename] = struct{}{}
			sources = append(sources, Source{Filename: hit.Filename})
		}
	}

	if contextText == "" {
		return FallbackResult()
	}

	if runes := []rune(contextText); len(runes) > b.maxContextChars {
		contextText = string(runes[:b.maxContextChars])
		truncated = true
	}

	if sources == nil {
		sources = []Source{}
	}
	return Result{
		Context:   contextText,
		Sources:   sources,
		Truncated: truncated,
	}
}

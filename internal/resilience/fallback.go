package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] fails or
// has an open circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the circuit breaker created for each backend in
// a [FallbackGroup]. The breaker name is always overridden with the backend
// name so each backend trips independently.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// backend is one entry in the failover chain: a provider value plus the
// breaker tracking its health.
type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a failover chain of same-typed backends, e.g. a hosted
// embeddings endpoint with a self-hosted replica behind it. Calls go to the
// first backend whose breaker is closed; a failure moves on to the next.
//
// Register all backends before first use; the chain is safe for concurrent
// calls afterwards.
type FallbackGroup[T any] struct {
	chain []backend[T]
	cfg   FallbackConfig
}

// NewFallbackGroup creates a chain with primary as its head. Further
// backends are appended with [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.chain = append(fg.chain, fg.newBackend(primaryName, primary))
	return fg
}

// AddFallback appends a backend to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.chain = append(fg.chain, fg.newBackend(name, fallback))
}

// Primary returns the head of the chain. Static metadata (model identity,
// dimensionality) is read from the primary and never fails over.
func (fg *FallbackGroup[T]) Primary() T {
	return fg.chain[0].value
}

func (fg *FallbackGroup[T]) newBackend(name string, value T) backend[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return backend[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)}
}

// Execute runs fn against each backend in chain order until one succeeds.
// Open-breaker backends are skipped without being called. When the whole
// chain fails, the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. A package-level function because Go methods cannot introduce type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		b := &fg.chain[i]
		var result R
		err := b.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(b.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", b.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", b.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

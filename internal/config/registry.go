package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hira-ai/hira/pkg/provider/embeddings"
	"github.com/hira-ai/hira/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// pluggable provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	upstream   map[string]func(UpstreamConfig) (realtime.Provider, error)
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		upstream:   make(map[string]func(UpstreamConfig) (realtime.Provider, error)),
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterUpstream registers a speech-to-speech provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterUpstream(name string, factory func(UpstreamConfig) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upstream[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateUpstream instantiates a speech-to-speech provider using the factory
// registered under cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateUpstream(cfg UpstreamConfig) (realtime.Provider, error) {
	r.mu.RLock()
	factory, ok := r.upstream[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: upstream/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateEmbeddings instantiates an embeddings provider using the factory
// registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"upstream":   {"openai-realtime"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("upstream", cfg.Upstream.Name)
	validateProviderName("embeddings", cfg.Embeddings.Name)

	if cfg.Upstream.Name != "" && cfg.Upstream.APIKey == "" {
		slog.Warn("upstream.api_key is empty; connecting will fail unless the provider accepts anonymous access")
	}

	// Embeddings ↔ knowledge dimensions
	if cfg.Embeddings.Name != "" && cfg.Knowledge.EmbeddingDimensions <= 0 {
		slog.Warn("embeddings is configured but knowledge.embedding_dimensions is not set; defaulting to 1536")
	}

	// Knowledge availability
	if cfg.Knowledge.PostgresDSN == "" {
		slog.Warn("knowledge.postgres_dsn is empty; retrieval will always fall back to the no-information answer")
	}

	// Retrieval tuning
	if cfg.Retrieval.TopK < 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k %d must not be negative", cfg.Retrieval.TopK))
	}
	if cfg.Retrieval.MaxContextChars < 0 {
		errs = append(errs, fmt.Errorf("retrieval.max_context_chars %d must not be negative", cfg.Retrieval.MaxContextChars))
	}
	if cfg.Retrieval.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("retrieval.timeout_seconds %.2f must not be negative", cfg.Retrieval.TimeoutSeconds))
	}
	if cfg.Retrieval.MinSimilarity < 0 || cfg.Retrieval.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_similarity %.2f is out of range [0, 1]", cfg.Retrieval.MinSimilarity))
	}

	// Wake word
	if t := cfg.WakeWord.PhoneticThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("wake_word.phonetic_threshold %.2f is out of range [0, 1]", t))
	}
	seen := make(map[string]int, len(cfg.WakeWord.Names))
	for i, name := range cfg.WakeWord.Names {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("wake_word.names[%d] is empty", i))
			continue
		}
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("wake_word.names[%d] %q is a duplicate of wake_word.names[%d]", i, name, prev))
		}
		seen[key] = i
	}

	// Transcript
	if cfg.Transcript.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("transcript.buffer_size %d must not be negative", cfg.Transcript.BufferSize))
	}
	if cfg.Transcript.ContextSize < 0 {
		errs = append(errs, fmt.Errorf("transcript.context_size %d must not be negative", cfg.Transcript.ContextSize))
	}
	if cfg.Transcript.BufferSize > 0 && cfg.Transcript.ContextSize > cfg.Transcript.BufferSize {
		errs = append(errs, fmt.Errorf("transcript.context_size %d exceeds buffer_size %d", cfg.Transcript.ContextSize, cfg.Transcript.BufferSize))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

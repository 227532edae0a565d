// Command hira is the main entry point for the HiRA voice assistant server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hira-ai/hira/internal/config"
	"github.com/hira-ai/hira/internal/health"
	"github.com/hira-ai/hira/internal/observe"
	"github.com/hira-ai/hira/internal/relay"
	"github.com/hira-ai/hira/internal/resilience"
	"github.com/hira-ai/hira/internal/retrieval"
	"github.com/hira-ai/hira/internal/wakeword"
	knowledgepg "github.com/hira-ai/hira/pkg/knowledge/postgres"
	"github.com/hira-ai/hira/pkg/provider/embeddings"
	ollamaembed "github.com/hira-ai/hira/pkg/provider/embeddings/ollama"
	oaembed "github.com/hira-ai/hira/pkg/provider/embeddings/openai"
	"github.com/hira-ai/hira/pkg/provider/realtime"
	oarealtime "github.com/hira-ai/hira/pkg/provider/realtime/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hira: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hira: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("hira starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"ops_addr", cfg.Server.OpsAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hira",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	upstream, err := reg.CreateUpstream(cfg.Upstream)
	if err != nil {
		slog.Error("failed to create upstream provider", "kind", "upstream", "name", cfg.Upstream.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "upstream", "name", cfg.Upstream.Name, "model", cfg.Upstream.Model)

	// ── Knowledge base + retrieval ────────────────────────────────────────────
	var readyChecks []health.Checker
	retriever, store, err := buildRetrieval(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build retrieval", "err", err)
		return 1
	}
	if store != nil {
		defer store.Close()
		readyChecks = append(readyChecks, health.Checker{Name: "knowledge_store", Check: store.Ping})
	}

	// ── Relay server ──────────────────────────────────────────────────────────
	gate := gateFromConfig(cfg.WakeWord)
	serverOpts := []relay.ServerOption{
		relay.WithSessionConfig(realtime.SessionConfig{
			Voice:                   cfg.Upstream.Voice,
			Instructions:            cfg.Upstream.Instructions,
			InputTranscriptionModel: cfg.Upstream.TranscriptionModel,
		}),
		relay.WithServerGate(gate),
		relay.WithBufferSize(cfg.Transcript.BufferSize),
		relay.WithServerContextSize(cfg.Transcript.ContextSize),
	}
	if retriever != nil {
		serverOpts = append(serverOpts, relay.WithServerRetriever(retriever))
	}
	relaySrv := relay.NewServer(upstream, serverOpts...)

	relayMux := http.NewServeMux()
	relayMux.Handle("/ws", observe.Middleware(observe.DefaultMetrics())(relaySrv))

	// ── Ops endpoints ─────────────────────────────────────────────────────────
	opsMux := http.NewServeMux()
	health.New(readyChecks...).Register(opsMux)
	opsMux.Handle("GET /metrics", promhttp.Handler())

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(level, relaySrv, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           relayMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:              cfg.Server.OpsAddr,
		Handler:           opsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			slog.Info("websocket endpoint listening", "addr", httpSrv.Addr, "path", "/ws", "tls", true)
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			slog.Info("websocket endpoint listening", "addr", httpSrv.Addr, "path", "/ws", "tls", false)
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	})
	if opsSrv.Addr != "" {
		g.Go(func() error {
			slog.Info("ops endpoints listening", "addr", opsSrv.Addr)
			if err := opsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		slog.Info("shutdown signal received, stopping…")

		var errs []error
		// Stop accepting new connections first, then drain live sessions.
		errs = append(errs, httpSrv.Shutdown(shutdownCtx))
		if opsSrv.Addr != "" {
			errs = append(errs, opsSrv.Shutdown(shutdownCtx))
		}
		errs = append(errs, relaySrv.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with HiRA
// into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterUpstream("openai-realtime", func(cfg config.UpstreamConfig) (realtime.Provider, error) {
		var opts []oarealtime.Option
		if cfg.Model != "" {
			opts = append(opts, oarealtime.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, oarealtime.WithBaseURL(cfg.BaseURL))
		}
		return oarealtime.New(cfg.APIKey, opts...), nil
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})
}

// buildRetrieval assembles the knowledge store, embeddings provider, and
// retrieval bridge. When no knowledge base or embeddings provider is
// configured it returns a nil retriever: sessions still run, tool calls are
// answered with the not-found fallback, and audio relaying is unaffected.
func buildRetrieval(ctx context.Context, cfg *config.Config, reg *config.Registry) (relay.Retriever, *knowledgepg.Store, error) {
	if cfg.Knowledge.PostgresDSN == "" {
		slog.Warn("no knowledge database configured — retrieval disabled")
		return nil, nil, nil
	}
	if cfg.Embeddings.Name == "" {
		slog.Warn("no embeddings provider configured — retrieval disabled")
		return nil, nil, nil
	}

	embedder, err := reg.CreateEmbeddings(cfg.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Embeddings.Name, "model", cfg.Embeddings.Model)

	store, err := knowledgepg.New(ctx, cfg.Knowledge.PostgresDSN, cfg.Knowledge.EmbeddingDimensions)
	if err != nil {
		return nil, nil, err
	}

	// Embedding calls go through their own breaker so a flapping embeddings
	// backend is isolated from the store's health.
	guarded := resilience.NewEmbeddingsFallback(embedder, cfg.Embeddings.Name, resilience.FallbackConfig{})

	bridge := retrieval.NewBridge(guarded, store, retrievalOptions(cfg.Retrieval)...)
	return bridge, store, nil
}

func retrievalOptions(cfg config.RetrievalConfig) []retrieval.Option {
	var opts []retrieval.Option
	if cfg.TopK > 0 {
		opts = append(opts, retrieval.WithTopK(cfg.TopK))
	}
	if cfg.MaxContextChars > 0 {
		opts = append(opts, retrieval.WithMaxContextChars(cfg.MaxContextChars))
	}
	if cfg.MaxSources > 0 {
		opts = append(opts, retrieval.WithMaxSources(cfg.MaxSources))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, retrieval.WithTimeout(time.Duration(cfg.TimeoutSeconds*float64(time.Second))))
	}
	if cfg.MinSimilarity > 0 {
		opts = append(opts, retrieval.WithMinSimilarity(cfg.MinSimilarity))
	}
	return opts
}

func gateFromConfig(cfg config.WakeWordConfig) *wakeword.Gate {
	var opts []wakeword.Option
	if len(cfg.Greetings) > 0 {
		opts = append(opts, wakeword.WithGreetings(cfg.Greetings))
	}
	if len(cfg.Names) > 0 {
		opts = append(opts, wakeword.WithNames(cfg.Names))
	}
	if cfg.Phonetic != nil {
		opts = append(opts, wakeword.WithPhonetic(*cfg.Phonetic))
	}
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, wakeword.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	return wakeword.NewGate(opts...)
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload applies the hot-reloadable parts of a config change. Log level
// and upstream instructions take effect immediately; everything else requires
// a restart and is reported so the change is not silently ignored.
func applyReload(level *slog.LevelVar, srv *relay.Server, diff config.ConfigDiff) {
	if !diff.Changed() {
		return
	}
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.InstructionsChanged {
		srv.SetInstructions(diff.NewInstructions)
		slog.Info("upstream instructions updated")
	}
	if diff.WakeWordChanged {
		slog.Warn("wake word config changed — restart to apply")
	}
	if diff.RetrievalChanged {
		slog.Warn("retrieval config changed — restart to apply")
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optInt extracts an integer value from a provider Options map[string]any.
// Returns 0 if the map is nil, the key is absent, or the value is not an
// integer.
func optInt(opts map[string]any, key string) int {
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}

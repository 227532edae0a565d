package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-reads the config file.
const defaultPollInterval = 5 * time.Second

// Watcher re-reads the HiRA config file on an interval and reports content
// changes, so tunables like the log level and the upstream instructions can
// be adjusted on a running server. A rewrite that fails to parse or validate
// is logged and skipped; the last good config stays in effect.
//
// Polling keeps the watcher working on every filesystem (bind mounts,
// Kubernetes ConfigMap symlink swaps) where inotify-style watches miss
// updates.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	digest  [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts watching it for changes.
// onChange runs on the watcher goroutine with the previous and the newly
// loaded config whenever the file content changes to a different valid
// config; it may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, digest, err := w.snapshot()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.digest = digest

	go w.watch()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends the watch goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.reloadIfChanged()
		}
	}
}

// reloadIfChanged swaps in the config when the file content digest moved.
// A touched-but-identical file (same digest) is not a change.
func (w *Watcher) reloadIfChanged() {
	cfg, digest, err := w.snapshot()
	if err != nil {
		slog.Warn("config reload skipped", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if digest == w.digest {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.digest = digest
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// snapshot reads, parses and validates the config file, returning it with a
// digest of the raw bytes for change detection.
func (w *Watcher) snapshot() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}

	return cfg, sha256.Sum256(data), nil
}

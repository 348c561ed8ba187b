package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/knadh/koanf/providers/file"
)

// Store holds the live configuration. Readers take a snapshot with Current
// and keep it for the whole request; Reload swaps the pointer atomically.
type Store struct {
	path      string
	watchPath string
	static    bool
	logger  *slog.Logger
	current atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(*Config)
}

// NewStore loads the initial snapshot.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, watchPath: path, logger: logger}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			s.watchPath = DefaultConfigFile
		}
	}
	// The file watcher follows the parent directory, which a bare file name lacks.
	if s.watchPath != "" {
		if abs, err := filepath.Abs(s.watchPath); err == nil {
			s.watchPath = abs
		}
	}
	s.current.Store(cfg)
	return s, nil
}

// NewStaticStore wraps an existing snapshot. Reload is a no-op.
func NewStaticStore(cfg *Config) *Store {
	s := &Store{static: true, logger: slog.Default()}
	s.current.Store(cfg)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// OnReload registers fn to run after every successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Reload re-reads every source. On failure the previous snapshot stays active.
func (s *Store) Reload() error {
	if s.static {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error("config reload failed, keeping previous configuration", slog.String("error", err.Error()))
		return err
	}
	s.current.Store(cfg)
	s.logger.Info("configuration reloaded",
		slog.String("primary_model", cfg.Primary.Model),
		slog.String("secondary_model", cfg.Secondary.Model),
	)

	s.mu.Lock()
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// WatchPath is the absolute path of the file Watch follows: the explicit
// path, or DefaultConfigFile when it existed at startup. Empty means nothing
// to watch.
func (s *Store) WatchPath() string {
	return s.watchPath
}

// Watch reloads whenever the config file changes, until ctx is done. Without
// a file to follow it only waits for ctx.
func (s *Store) Watch(ctx context.Context) error {
	if s.watchPath == "" || s.static {
		<-ctx.Done()
		return nil
	}

	f := file.Provider(s.watchPath)
	if err := f.Watch(func(_ any, err error) {
		if err != nil {
			s.logger.Warn("config watch error", slog.String("error", err.Error()))
			return
		}
		_ = s.Reload()
	}); err != nil {
		return err
	}

	<-ctx.Done()
	return f.Unwatch()
}

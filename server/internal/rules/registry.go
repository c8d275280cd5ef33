package rules

import (
	"log/slog"
	"sync"
)

// Registry owns the process-wide events configuration.
//
// The configuration is loaded on the first call to Config (or an explicit
// Load at startup) and then never changes until Reload is called. Concurrent
// first calls share a single file read.
type Registry struct {
	path string
	load func(path string) (*Config, error) // injectable for tests

	mu  sync.RWMutex
	cfg *Config
}

// NewRegistry returns a Registry backed by the events file at path.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, load: LoadFile}
}

// NewStaticRegistry returns a Registry holding cfg. Reload is a no-op that
// keeps cfg.
func NewStaticRegistry(cfg *Config) *Registry {
	return &Registry{
		cfg:  cfg,
		load: func(string) (*Config, error) { return cfg, nil },
	}
}

// Path returns the events file path.
func (r *Registry) Path() string { return r.path }

// Config returns the active configuration, reading the file once if it has
// not been loaded yet.
func (r *Registry) Config() (*Config, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()
	if cfg != nil {
		return cfg, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg != nil {
		return r.cfg, nil
	}
	cfg, err := r.load(r.path)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	slog.Info("rules: loaded", "path", r.path, "events", len(cfg.Events))
	return cfg, nil
}

// Event returns the named event from the active configuration.
func (r *Registry) Event(name string) (*Event, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	return cfg.Find(name)
}

// Reload re-reads the events file and swaps it in. On failure the previous
// configuration stays active and the error is returned.
func (r *Registry) Reload() error {
	cfg, err := r.load(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	slog.Info("rules: reloaded", "path", r.path, "events", len(cfg.Events))
	return nil
}

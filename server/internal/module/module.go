package module

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
)

// ErrNotHandled is returned by a module that cannot serve a parsed query.
var ErrNotHandled = errors.New("module: request not handled")

// Module is one analytics endpoint.
type Module interface {
	// Name is the route key, lower case.
	Name() string

	// GetResponse computes the payload for q. A nil payload with a nil error
	// means there is no data. Errors wrapping ErrNotHandled mark q as a
	// malformed request; any other error is a collaborator failure.
	GetResponse(ctx context.Context, q query.Query) (any, error)
}

// Deps are the collaborators shared by the analytics modules.
type Deps struct {
	Store store.Reader
	Rules *rules.Registry
	Now   func() time.Time
}

// Clock returns d.Now, defaulting to time.Now.
func (d Deps) Clock() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

// Registry maps route keys to modules. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds m under m.Name(). Registering the same name twice panics.
func (r *Registry) Register(m Module) {
	name := strings.ToLower(m.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.modules[name]; dup {
		panic(fmt.Sprintf("module: %q registered twice", name))
	}
	r.modules[name] = m
}

// Get returns the module registered under name (case-insensitive).
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[strings.ToLower(name)]
	return m, ok
}

// Names returns the registered route keys in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

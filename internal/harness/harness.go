// Package harness provides the coding-assistant abstraction and its CLI
// implementations (claude, codex, gemini, opencode).
//
// A Harness turns a composed prompt into one subprocess invocation and a
// normalized result: success flag, token split, cost, session id, and a
// classified error category on failure. The loop treats harnesses as
// interchangeable; the registry selects one by name at process start.
package harness

import (
	"context"
	"sync"

	"github.com/cubtools/cub/internal/domain"
	"github.com/cubtools/cub/internal/errors"
)

// Harness is one coding-assistant CLI.
type Harness interface {
	// Name returns the harness identifier (claude, codex, gemini, opencode).
	Name() string

	// IsAvailable reports whether the harness executable is on PATH.
	IsAvailable(ctx context.Context) bool

	// DefaultModel returns the model used when neither the request nor
	// configuration selects one. May be empty (CLI decides).
	DefaultModel() string

	// Invoke runs the assistant once. The complete raw child output is
	// written to req.LogPath before Invoke returns. A classified failure
	// is reported in the result, not the error; the error return is
	// reserved for invocation-machinery failures.
	Invoke(ctx context.Context, req *domain.HarnessRequest) (*domain.HarnessResult, error)
}

// Registry maps harness names to implementations. Thread-safe.
type Registry struct {
	mu        sync.RWMutex
	harnesses map[string]Harness
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{harnesses: make(map[string]Harness)}
}

// Register adds a harness, replacing any existing entry with the same name.
func (r *Registry) Register(h Harness) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.harnesses[h.Name()] = h
}

// Get retrieves a harness by name. Returns ErrHarnessNotRegistered for
// unknown names.
func (r *Registry) Get(name string) (Harness, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.harnesses[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrHarnessNotRegistered, "%s", name)
	}
	return h, nil
}

// Has reports whether a harness is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.harnesses[name]
	return ok
}

// Names returns all registered harness names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.harnesses))
	for n := range r.harnesses {
		names = append(names, n)
	}
	return names
}

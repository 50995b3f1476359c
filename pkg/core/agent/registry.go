package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vango-go/vai-voice/pkg/core/types"
)

// Registry holds the strategies available to sessions. Selection walks the
// strategies in registration order and falls back to the default.
// Thread-safe for concurrent access.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	byName   map[string]Strategy
	fallback string
}

// NewRegistry creates a registry with echo registered as the default.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Strategy)}
	echo := NewEcho()
	_ = r.Register(echo)
	r.fallback = echo.Name()
	return r
}

// Register adds s. Names are unique.
func (r *Registry) Register(s Strategy) error {
	name := s.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrStrategyExists, name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	return nil
}

// SetDefault selects the strategy used when no other one can handle an
// utterance.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	r.fallback = name
	return nil
}

// Default returns the fallback strategy.
func (r *Registry) Default() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[r.fallback]
}

// Get returns a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	return s, nil
}

// Select returns the first non-default strategy whose CanHandle accepts u,
// else the default.
func (r *Registry) Select(u types.Utterance) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		if name == r.fallback {
			continue
		}
		if s := r.byName[name]; s.CanHandle(u) {
			return s
		}
	}
	return r.byName[r.fallback]
}

// List returns the registered profiles sorted by name.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s.Profile())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

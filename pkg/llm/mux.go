package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var _ Generator = (*Mux)(nil)

// DefaultMux is the default generator multiplexer.
var DefaultMux = NewMux()

// Handle registers a generator for the given name on the default mux.
func Handle(name string, gen Generator) error {
	return DefaultMux.Handle(name, gen)
}

// GenerateStream generates a stream using the default mux.
func GenerateStream(ctx context.Context, name string, req *Request) (Stream, error) {
	return DefaultMux.GenerateStream(ctx, name, req)
}

// Mux routes generation requests to registered generators. Lookup is by
// exact name first, then by the longest registered prefix, so a family
// entry like "gpt-4o" also serves "gpt-4o-2024-08-06" when no exact entry
// exists.
type Mux struct {
	mu   sync.RWMutex
	gens map[string]Generator
}

// NewMux creates a new generator multiplexer.
func NewMux() *Mux {
	return &Mux{gens: make(map[string]Generator)}
}

// Handle registers a generator for the given name.
// Returns an error if a generator is already registered for the name.
func (m *Mux) Handle(name string, gen Generator) error {
	if name == "" {
		return fmt.Errorf("llm: empty generator name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[name]; ok {
		return fmt.Errorf("llm: generator already registered for %s", name)
	}
	m.gens[name] = gen
	return nil
}

// GenerateStream looks up the generator for name and delegates to it.
func (m *Mux) GenerateStream(ctx context.Context, name string, req *Request) (Stream, error) {
	gen, err := m.get(name)
	if err != nil {
		return nil, err
	}
	return gen.GenerateStream(ctx, name, req)
}

// Resolves reports whether name maps to a registered generator, exactly
// or by prefix.
func (m *Mux) Resolves(name string) bool {
	_, err := m.get(name)
	return err == nil
}

// Names returns the registered generator names, sorted.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.gens))
	for name := range m.gens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Mux) get(name string) (Generator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if gen, ok := m.gens[name]; ok {
		return gen, nil
	}
	var best string
	for pattern := range m.gens {
		if strings.HasPrefix(name, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best == "" {
		return nil, fmt.Errorf("llm: generator not found for %s", name)
	}
	return m.gens[best], nil
}

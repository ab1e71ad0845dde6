// Package binding models the single active artifact binding: the mapping
// from the serving component's live configuration to the most recently built
// index. The binding is an explicit, injectable store rather than a
// process-wide variable so tests can substitute an in-memory one.
package binding

import (
	"context"
	"sync"
)

// Store reads and writes the active artifact binding. Exactly one binding is
// active at a time; Set is the only mutation.
type Store interface {
	// Get returns the currently bound artifact ID, or "" when nothing has
	// been bound yet.
	Get(ctx context.Context) (string, error)
	// Set repoints the binding at artifactID.
	Set(ctx context.Context, artifactID string) error
}

// Memory is an in-memory Store for tests and dry runs.
type Memory struct {
	mu sync.Mutex
	id string
}

// NewMemory creates an empty in-memory binding store.
func NewMemory() *Memory { return &Memory{} }

// Get implements Store.
func (m *Memory) Get(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, artifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = artifactID
	return nil
}

package loader

import (
	"context"
	"fmt"
	"sync"

	"kumascript/internal/common/errors"
	"kumascript/internal/script"
)

// Memory is an in-process store, mostly for tests and the CLI
type Memory struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{sources: make(map[string]Source)}
}

// Add registers source under name, replacing any previous entry
func (m *Memory) Add(name string, kind script.Kind, text string) error {
	key, err := normalize(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sources[key] = Source{Name: name, Kind: kind, Text: text}
	m.mu.Unlock()
	return nil
}

// Fetch implements Store
func (m *Memory) Fetch(ctx context.Context, name string) (Source, error) {
	key, err := normalize(name)
	if err != nil {
		return Source{}, err
	}
	m.mu.RLock()
	src, ok := m.sources[key]
	m.mu.RUnlock()
	if !ok {
		return Source{}, errors.NotFoundError(fmt.Sprintf("template %q", name))
	}
	return src, nil
}

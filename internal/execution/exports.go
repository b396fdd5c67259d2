package execution

import (
	"sort"
	"sync"
)

// Exports is the container a required macro populates. The same *Exports is
// handed to every Require of the same name within a lineage.
type Exports struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewExports returns an empty container
func NewExports() *Exports {
	return &Exports{values: make(map[string]interface{})}
}

// Set stores value under name
func (e *Exports) Set(name string, value interface{}) {
	e.mu.Lock()
	e.values[name] = value
	e.mu.Unlock()
}

// Get returns the value stored under name
func (e *Exports) Get(name string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[name]
	return v, ok
}

// Merge stores every entry of values
func (e *Exports) Merge(values map[string]interface{}) {
	e.mu.Lock()
	for k, v := range values {
		e.values[k] = v
	}
	e.mu.Unlock()
}

// Map returns a snapshot of the exported values
func (e *Exports) Map() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]interface{}, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// Keys returns the exported names in sorted order
func (e *Exports) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of exported values
func (e *Exports) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}

// Package syncx holds small generic concurrency helpers shared by the server
// and the pipeline manager.
package syncx

import "sync"

// Value is a mutex-guarded value. T should be a value type or treated as
// immutable once stored.
type Value[T any] struct {
	mu sync.RWMutex
	v  T
}

// NewValue creates a guarded value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

// Load returns the current value.
func (g *Value[T]) Load() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Store replaces the value.
func (g *Value[T]) Store(v T) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

// Swap replaces the value and returns the previous one.
func (g *Value[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.v
	g.v = v
	return old
}

// Update applies fn under the write lock and returns the new value.
func (g *Value[T]) Update(fn func(T) T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = fn(g.v)
	return g.v
}

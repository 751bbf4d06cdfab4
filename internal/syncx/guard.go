// Package syncx provides small generic lock helpers for state shared between
// connection handlers.
package syncx

import "sync"

// RWGuard wraps RWMutex with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Read executes fn while holding the read lock.
func (g *RWGuard[T]) Read(fn func(T)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn(g.value)
}

// Write executes fn while holding the write lock; fn may mutate through the
// pointer.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Update runs fn under the write lock and returns its result.
func Update[T, R any](g *RWGuard[T], fn func(*T) R) R {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}

// View runs fn under the read lock and returns its result.
func View[T, R any](g *RWGuard[T], fn func(T) R) R {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

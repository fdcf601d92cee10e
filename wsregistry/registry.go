// This package contains the concurrent connection registry: a generic key/value registry with
// lock-free reads and an identity registry which adds a user -> connections index on top of it.
package wsregistry

import (
	"sync"
	"sync/atomic"
)

// Concurrent registry backed by a sync.Map. Reads never block and writers only contend on the
// entries they touch.
type Registry[K comparable, V any] struct {
	entries sync.Map
	count   atomic.Int64
}

// Factory which creates a new, empty Registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{}
}

// # Description
//
// Insert value under key.
//
// # Returns
//
// False if key is already present. In this case the registry is left untouched.
func (r *Registry[K, V]) Add(key K, value V) bool {
	if _, loaded := r.entries.LoadOrStore(key, value); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

// # Description
//
// Insert or replace the value stored under key.
//
// # Returns
//
// The previous value and true if key was present.
func (r *Registry[K, V]) Store(key K, value V) (V, bool) {
	prev, loaded := r.entries.Swap(key, value)
	if !loaded {
		r.count.Add(1)
		var zero V
		return zero, false
	}
	return prev.(V), true
}

// # Description
//
// Remove key from the registry.
//
// # Returns
//
// The removed value and true if key was present.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	value, loaded := r.entries.LoadAndDelete(key)
	if !loaded {
		var zero V
		return zero, false
	}
	r.count.Add(-1)
	return value.(V), true
}

// Replace old by value if old is the value currently stored under key. V values must be
// comparable at runtime.
func (r *Registry[K, V]) CompareAndSwap(key K, old V, value V) bool {
	return r.entries.CompareAndSwap(key, old, value)
}

// Remove key if old is the value currently stored under key. V values must be comparable at
// runtime.
func (r *Registry[K, V]) CompareAndDelete(key K, old V) bool {
	if r.entries.CompareAndDelete(key, old) {
		r.count.Add(-1)
		return true
	}
	return false
}

// Return the value stored under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	value, found := r.entries.Load(key)
	if !found {
		var zero V
		return zero, false
	}
	return value.(V), true
}

// # Description
//
// Return a snapshot of all values. The snapshot can be iterated while the registry keeps being
// mutated concurrently.
func (r *Registry[K, V]) GetAll() []V {
	values := make([]V, 0, r.Len())
	r.entries.Range(func(_, value any) bool {
		values = append(values, value.(V))
		return true
	})
	return values
}

// Call f for each entry until f returns false. See sync.Map.Range for consistency guarantees.
func (r *Registry[K, V]) Range(f func(key K, value V) bool) {
	r.entries.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Return the number of entries.
func (r *Registry[K, V]) Len() int {
	return int(r.count.Load())
}

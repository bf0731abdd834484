// Package concurrent provides the keyed registry used for climate bridges,
// device controllers and pending registrations.
package concurrent

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry is a mutex-guarded map with get-or-construct-once semantics.
//
// All mutations are serialised by a single lock. GetOrConstruct holds the lock
// while the factory runs, so factories must be quick and must not call back
// into the same registry. Use GetOrConstructAsync for factories that block.
//
// The zero value is not usable; create instances with New.
type Registry[K ~string, V any] struct {
	mu     sync.Mutex
	items  map[K]V
	flight singleflight.Group
}

// New creates an empty registry.
func New[K ~string, V any]() *Registry[K, V] {
	return &Registry[K, V]{items: make(map[K]V)}
}

// Get returns the value stored under k.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[k]
	return v, ok
}

// GetOrConstruct returns the value stored under k, calling factory to create
// and store it if absent. The factory runs at most once per key; concurrent
// callers all observe the stored value. created reports whether this call ran
// the factory.
func (r *Registry[K, V]) GetOrConstruct(k K, factory func() V) (v V, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[k]; ok {
		return existing, false
	}
	v = factory()
	r.items[k] = v
	return v, true
}

// GetOrConstructAsync is the two-phase variant of GetOrConstruct for factories
// that perform blocking work.
//
// The slot is reserved through a singleflight group keyed by k, the factory
// runs without the map lock held, and the result is committed under the lock.
// Callers racing on the same key wait for the in-flight construction instead
// of starting another. If a value was stored for k while the factory ran, the
// stored value wins and is returned.
//
// A factory error is returned to every waiting caller and nothing is stored.
func (r *Registry[K, V]) GetOrConstructAsync(ctx context.Context, k K, factory func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := r.Get(k); ok {
		return v, nil
	}

	ch := r.flight.DoChan(string(k), func() (any, error) {
		if v, ok := r.Get(k); ok {
			return v, nil
		}

		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.items[k]; ok {
			return existing, nil
		}
		r.items[k] = v
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("constructing %q: %w", string(k), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("constructing %q: unexpected value type %T", string(k), res.Val)
		}
		return v, nil
	}
}

// Remove atomically detaches and returns the value stored under k.
func (r *Registry[K, V]) Remove(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[k]
	if ok {
		delete(r.items, k)
	}
	return v, ok
}

// RemoveAndRun atomically detaches the value stored under k and then runs
// action with it, outside the lock. It is a no-op returning false if k is
// absent.
//
// When predicate is non-nil it is evaluated against the detached value and
// action only runs if it returns true. The value stays detached either way.
// A panic in predicate or action is recovered and reported as false.
func (r *Registry[K, V]) RemoveAndRun(k K, action func(V), predicate func(V) bool) (ran bool) {
	v, ok := r.Remove(k)
	if !ok {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			ran = false
		}
	}()

	if predicate != nil && !predicate(v) {
		return false
	}
	if action != nil {
		action(v)
	}
	return true
}

// Len returns the number of stored values.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Keys returns a snapshot of the stored keys in no particular order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	return keys
}

// Values returns a snapshot of the stored values in no particular order.
func (r *Registry[K, V]) Values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make([]V, 0, len(r.items))
	for _, v := range r.items {
		values = append(values, v)
	}
	return values
}

// Range calls fn for each value in a snapshot taken under the lock. fn runs
// without the lock held and may call back into the registry. Iteration stops
// when fn returns false.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	r.mu.Lock()
	snapshot := make(map[K]V, len(r.items))
	for k, v := range r.items {
		snapshot[k] = v
	}
	r.mu.Unlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

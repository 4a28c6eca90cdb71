// Package oplock serializes coarse-grained async operations by name. A
// duplicate call for a name that is already running is coalesced into a
// no-op rather than queued: the caller is told its function did not run and
// must not assume otherwise.
package oplock

import (
	"context"
	"fmt"
	"sync"
)

// Registry tracks which operation names are currently held.
type Registry struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for name. When force is set the lock state is
// ignored and the call always succeeds; the release function still clears the
// flag so a stale in-flight holder cannot wedge the name forever.
func (r *Registry) TryAcquire(name string, force bool) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.held[name]; taken && !force {
		return nil, false
	}
	r.held[name] = struct{}{}

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, name)
			r.mu.Unlock()
		})
	}
	return release, true
}

// Held reports whether name is currently locked.
func (r *Registry) Held(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, taken := r.held[name]
	return taken
}

// Do runs fn under the named lock. If the name is already held and force is
// false, fn is not invoked and Do returns (false, nil). The lock is released
// on every exit path, including a panicking fn; the panic is converted into
// an error so one bad operation cannot take the process down.
func (r *Registry) Do(ctx context.Context, name string, force bool, fn func(ctx context.Context) error) (ran bool, err error) {
	release, ok := r.TryAcquire(name, force)
	if !ok {
		return false, nil
	}
	defer release()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("operation %q panicked: %v", name, rec)
		}
	}()
	return true, fn(ctx)
}

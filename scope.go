package veld

import (
	"context"
	"fmt"
)

// InstanceFactory creates one component instance for a scope store.
type InstanceFactory func() (any, error)

// Disposable is implemented by instances that need teardown when their
// owning scope is destroyed.
type Disposable interface {
	Dispose() error
}

// Scope governs how many instances of a component exist and how long
// each lives. Implementations must be safe for concurrent use.
type Scope interface {
	// ID returns the scope id this strategy serves.
	ID() ScopeID

	// Get returns the instance registered under name, creating it with
	// factory according to the scope's caching rules.
	Get(ctx context.Context, name string, factory InstanceFactory) (any, error)

	// Remove drops the cached instance for name and returns it, or nil
	// when nothing was cached.
	Remove(ctx context.Context, name string) any

	// DestroyAll tears down every cached instance, invoking Dispose on
	// instances that implement it. Disposal failures are logged and do
	// not abort destruction of the remaining instances.
	DestroyAll(ctx context.Context)

	// IsActive reports whether the scope can serve instances for the
	// given context.
	IsActive(ctx context.Context) bool

	// Count returns the number of instances currently cached for the
	// given context. Inactive scopes report zero.
	Count(ctx context.Context) int
}

// ScopeRegistry maps scope ids to scope strategies. The three built-in
// scopes are registered by the container; callers may add custom scopes
// before Refresh.
type ScopeRegistry struct {
	scopes map[ScopeID]Scope
}

// NewScopeRegistry creates a registry pre-populated with the built-in
// singleton, prototype, and request scopes.
func NewScopeRegistry(logger Logger) *ScopeRegistry {
	r := &ScopeRegistry{scopes: make(map[ScopeID]Scope)}
	r.Register(NewSingletonScope(logger))
	r.Register(NewPrototypeScope())
	r.Register(NewRequestScope(logger))
	return r
}

// Register adds or replaces the strategy for a scope id.
func (r *ScopeRegistry) Register(scope Scope) {
	r.scopes[scope.ID()] = scope
}

// Get returns the strategy for a scope id.
func (r *ScopeRegistry) Get(id ScopeID) (Scope, error) {
	scope, ok := r.scopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, id)
	}
	return scope, nil
}

// DestroyAll tears down every registered scope.
func (r *ScopeRegistry) DestroyAll(ctx context.Context) {
	for _, scope := range r.scopes {
		scope.DestroyAll(ctx)
	}
}

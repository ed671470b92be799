package veld

import "context"

// PrototypeScope creates a fresh instance on every Get. The store never
// tracks the instances it hands out, so Remove and DestroyAll are
// no-ops and disposal of prototypes is the caller's responsibility.
type PrototypeScope struct{}

// NewPrototypeScope creates a prototype scope store.
func NewPrototypeScope() *PrototypeScope { return &PrototypeScope{} }

// ID implements Scope.
func (s *PrototypeScope) ID() ScopeID { return ScopePrototype }

// Get implements Scope by invoking the factory unconditionally.
func (s *PrototypeScope) Get(_ context.Context, _ string, factory InstanceFactory) (any, error) {
	return factory()
}

// Remove implements Scope. Prototype instances are not tracked.
func (s *PrototypeScope) Remove(_ context.Context, _ string) any { return nil }

// DestroyAll implements Scope. Prototype instances are not tracked.
func (s *PrototypeScope) DestroyAll(_ context.Context) {}

// IsActive implements Scope.
func (s *PrototypeScope) IsActive(_ context.Context) bool { return true }

// Count implements Scope. Always zero: nothing is cached.
func (s *PrototypeScope) Count(_ context.Context) int { return 0 }

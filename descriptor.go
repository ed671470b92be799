// Package veld provides an application-container runtime for Go.
// It consumes component descriptors produced by an external build-time
// analyzer, resolves dependency order, manages per-component scopes,
// drives multi-phase lifecycle transitions, and wraps managed method
// calls in a composable interception pipeline with resilience handlers
// (circuit breaker, bulkhead, timeout, retry), validation, access
// control, and metrics.
//
// Basic usage:
//
//	container := veld.NewContainer(cfg, logger)
//	container.RegisterComponent(descriptor)
//	if err := container.Refresh(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := container.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package veld

import (
	"context"
	"reflect"
)

// ScopeID identifies the scope strategy governing a component's lifetime.
type ScopeID string

const (
	// ScopeSingleton creates a single instance that is shared across
	// the entire container lifetime. The instance is created on first
	// access and reused for all subsequent requests.
	ScopeSingleton ScopeID = "singleton"

	// ScopePrototype creates a new instance every time the component
	// is requested. No caching is performed.
	ScopePrototype ScopeID = "prototype"

	// ScopeRequest creates one instance per logical request. The caller
	// binds a request cache to the context around the scope boundary;
	// within one cache the component behaves like a singleton.
	ScopeRequest ScopeID = "request"
)

// String returns the string representation of the scope id.
func (s ScopeID) String() string {
	return string(s)
}

// EdgeKind tags how a dependency edge is satisfied in the dependent
// component: through its constructor, a field, or a method.
type EdgeKind string

const (
	EdgeConstructor EdgeKind = "constructor"
	EdgeField       EdgeKind = "field"
	EdgeMethod      EdgeKind = "method"
)

// DependencyRef is one declared dependency edge of a component.
// Target is the component name the edge points to.
type DependencyRef struct {
	Target string
	Kind   EdgeKind
}

// ComponentFactory constructs a component instance. Factories are
// produced by the external build-time analyzer and may resolve their
// own dependencies through the container.
type ComponentFactory func(ctx context.Context, c *Container) (any, error)

// Hook is a lifecycle callback bound to a component instance.
// Lower Order values run first.
type Hook struct {
	Name  string
	Order int
	Fn    func(instance any) error
}

// LifecycleHooks collects the declared lifecycle callbacks of one
// component. All slices may be empty; hooks within one slice are
// invoked in ascending Order.
type LifecycleHooks struct {
	// PostConstruct hooks run after construction and the component's
	// Initialize method, before the after-initialization post-processors.
	PostConstruct []Hook

	// PostInitialize hooks run during Refresh, after every component in
	// the registry has completed per-instance initialization.
	PostInitialize []Hook

	// OnStart hooks run during Start, after lifecycle components have
	// been started.
	OnStart []Hook

	// OnStop hooks run during Stop, after lifecycle components have
	// been stopped.
	OnStop []Hook

	// PreDestroy hooks run during Destroy, before the instance's
	// Dispose method.
	PreDestroy []Hook
}

// ComponentDescriptor is the static metadata describing one injectable
// unit. Descriptors are produced externally and are immutable for the
// container's lifetime.
type ComponentDescriptor struct {
	// Name uniquely identifies the component within the registry.
	Name string

	// Type is the nominal type identity of the produced instance.
	Type reflect.Type

	// Scope selects the scope strategy ("singleton", "prototype",
	// "request", or a custom registered scope id). Empty defaults to
	// singleton.
	Scope ScopeID

	// Primary marks this descriptor as the preferred candidate when
	// several descriptors share a type. At most one descriptor of a
	// given type may be primary.
	Primary bool

	// Lazy defers singleton creation until first resolution instead of
	// eager creation during Refresh.
	Lazy bool

	// Dependencies are the declared dependency edges of this component,
	// in declaration order.
	Dependencies []DependencyRef

	// Interfaces lists the interface types this component satisfies,
	// used for type-based resolution.
	Interfaces []reflect.Type

	// Factory constructs the instance. Required.
	Factory ComponentFactory

	// Hooks are the component's declared lifecycle callbacks.
	Hooks LifecycleHooks
}

// scopeOrDefault returns the descriptor's scope, defaulting to singleton.
func (d *ComponentDescriptor) scopeOrDefault() ScopeID {
	if d.Scope == "" {
		return ScopeSingleton
	}
	return d.Scope
}

// TypeName returns a printable name for the descriptor's type, or the
// component name when no type identity was recorded.
func (d *ComponentDescriptor) TypeName() string {
	if d.Type == nil {
		return d.Name
	}
	return d.Type.String()
}

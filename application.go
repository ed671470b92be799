package veld

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// containerState tracks the coarse container lifecycle.
type containerState int

const (
	stateCreated containerState = iota
	stateRefreshed
	stateDestroyed
)

// Reserved lifecycle names for the container's own infrastructure
// components.
const (
	workerPoolComponentName = "veld.workerPool"
	schedulerComponentName  = "veld.scheduler"
)

// eventSource identifies the container in emitted CloudEvents.
const eventSource = "veld/container"

// Container is the application container runtime. It holds the
// descriptor registry, the scope strategies, the lifecycle
// coordinator, the interception pipeline, and the shared resilience
// and async infrastructure.
//
// The usage sequence is: register components, Refresh once, Start,
// resolve and invoke as needed, Stop, Destroy. Registration is only
// permitted before Refresh; resolution only after.
type Container struct {
	mu     sync.RWMutex
	state  containerState
	logger Logger
	config *ContainerConfig

	descriptors map[string]*ComponentDescriptor
	order       []string // registration order

	scopes    *ScopeRegistry
	lifecycle *LifecycleCoordinator
	pipeline  *Pipeline
	graph     *DependencyGraph
	observers *observerRegistry

	circuits  *CircuitBreakerRegistry
	pool      *WorkerPool
	scheduler *Scheduler
}

// NewContainer creates a container with the given configuration and
// logger. A nil config uses DefaultContainerConfig; a nil logger
// discards framework logs.
func NewContainer(config *ContainerConfig, logger Logger) *Container {
	if config == nil {
		config = DefaultContainerConfig()
	}
	if logger == nil {
		logger = NewNoopLogger()
	}

	return &Container{
		logger:      logger,
		config:      config,
		descriptors: make(map[string]*ComponentDescriptor),
		scopes:      NewScopeRegistry(logger),
		lifecycle:   NewLifecycleCoordinator(logger),
		pipeline:    NewPipeline(logger),
		observers:   newObserverRegistry(logger),
		circuits:    NewCircuitBreakerRegistry(config.Resilience.CircuitBreaker.settings()),
		pool:        NewWorkerPool(config.Async.Workers, config.Async.QueueSize, logger),
		scheduler:   NewScheduler(logger),
	}
}

// RegisterComponent adds a component descriptor to the registry.
// Registration is rejected after Refresh, for duplicate names, and for
// descriptors without a factory.
func (c *Container) RegisterComponent(desc *ComponentDescriptor) error {
	if desc.Factory == nil {
		return fmt.Errorf("%w: component %q", ErrFactoryNil, desc.Name)
	}

	c.mu.Lock()
	switch c.state {
	case stateDestroyed:
		c.mu.Unlock()
		return ErrContainerDestroyed
	case stateRefreshed:
		c.mu.Unlock()
		return fmt.Errorf("cannot register component %q after refresh", desc.Name)
	case stateCreated:
	}
	if _, exists := c.descriptors[desc.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentAlreadyRegistered, desc.Name)
	}
	c.descriptors[desc.Name] = desc
	c.order = append(c.order, desc.Name)
	c.mu.Unlock()

	c.logger.Debug("Registered component", "component", desc.Name, "scope", desc.scopeOrDefault().String())
	c.emit(EventTypeComponentRegistered, map[string]any{
		"component": desc.Name,
		"type":      desc.TypeName(),
		"scope":     desc.scopeOrDefault().String(),
	})
	return nil
}

// Refresh validates the registry, builds the dependency graph, and
// eagerly instantiates non-lazy singletons. Validation failures
// (ambiguous primaries, missing dependencies, unknown scopes, cycles)
// and eager construction failures are fatal and leave the container
// unrefreshed. Refresh is idempotent; a second call is a no-op.
func (c *Container) Refresh(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateDestroyed:
		c.mu.Unlock()
		return ErrContainerDestroyed
	case stateRefreshed:
		c.mu.Unlock()
		c.logger.Debug("Container already refreshed, ignoring")
		return nil
	case stateCreated:
	}
	descriptors := make([]*ComponentDescriptor, 0, len(c.order))
	for _, name := range c.order {
		descriptors = append(descriptors, c.descriptors[name])
	}
	c.mu.Unlock()

	if err := c.validatePrimaries(descriptors); err != nil {
		return err
	}

	graph, err := c.buildGraph(descriptors)
	if err != nil {
		return err
	}
	if path, found := graph.DetectCycle(); found {
		return &CircularDependencyError{Path: path}
	}

	for _, desc := range descriptors {
		if _, err := c.scopes.Get(desc.scopeOrDefault()); err != nil {
			return fmt.Errorf("component %q: %w", desc.Name, err)
		}
	}

	// The container's own infrastructure participates in the managed
	// lifecycle so it starts and stops with user components.
	if _, err := c.lifecycle.Register(workerPoolComponentName, c.pool, LifecycleHooks{}); err != nil {
		return err
	}
	if _, err := c.lifecycle.Register(schedulerComponentName, c.scheduler, LifecycleHooks{}); err != nil {
		return err
	}

	c.mu.Lock()
	c.graph = graph
	c.state = stateRefreshed
	c.mu.Unlock()

	for _, desc := range descriptors {
		if desc.scopeOrDefault() != ScopeSingleton || desc.Lazy {
			continue
		}
		if _, err := c.Resolve(ctx, desc.Name); err != nil {
			c.mu.Lock()
			c.state = stateCreated
			c.graph = nil
			c.mu.Unlock()
			return fmt.Errorf("eager instantiation of %q failed: %w", desc.Name, err)
		}
	}

	c.lifecycle.Refresh()

	c.logger.Info("Container refreshed", "components", len(descriptors))
	c.emit(EventTypeContainerRefreshed, map[string]any{"components": len(descriptors)})
	return nil
}

// validatePrimaries rejects registries where more than one descriptor
// of the same type identity is marked primary.
func (c *Container) validatePrimaries(descriptors []*ComponentDescriptor) error {
	primaries := make(map[reflect.Type][]string)
	for _, desc := range descriptors {
		if !desc.Primary {
			continue
		}
		for _, t := range typesOf(desc) {
			primaries[t] = append(primaries[t], desc.Name)
		}
	}
	for t, names := range primaries {
		if len(names) > 1 {
			return fmt.Errorf("%w %s: %v", ErrAmbiguousPrimary, t, names)
		}
	}
	return nil
}

// buildGraph constructs the dependency graph from the registered
// descriptors. Dangling dependency edges fail with
// ErrMissingDependency.
func (c *Container) buildGraph(descriptors []*ComponentDescriptor) (*DependencyGraph, error) {
	graph := NewDependencyGraph()
	for _, desc := range descriptors {
		if err := graph.AddNode(desc); err != nil {
			return nil, err
		}
	}
	for _, desc := range descriptors {
		for _, ref := range desc.Dependencies {
			if err := graph.AddEdge(desc.Name, ref.Target, string(ref.Kind)); err != nil {
				return nil, err
			}
		}
	}
	return graph, nil
}

// Resolve returns the instance registered under name, creating it
// through its scope if necessary. Singleton instances are tracked by
// the lifecycle coordinator; prototype and custom-scoped instances run
// the construction pipeline but their teardown belongs to their scope.
func (c *Container) Resolve(ctx context.Context, name string) (any, error) {
	c.mu.RLock()
	state := c.state
	desc := c.descriptors[name]
	c.mu.RUnlock()

	switch state {
	case stateDestroyed:
		return nil, ErrContainerDestroyed
	case stateCreated:
		return nil, ErrContainerNotRefreshed
	case stateRefreshed:
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}

	scopeID := desc.scopeOrDefault()
	scope, err := c.scopes.Get(scopeID)
	if err != nil {
		return nil, err
	}

	instance, err := scope.Get(ctx, name, func() (any, error) {
		return c.construct(ctx, desc, scopeID)
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// construct runs the factory and the construction-phase lifecycle for
// one new instance.
func (c *Container) construct(ctx context.Context, desc *ComponentDescriptor, scopeID ScopeID) (any, error) {
	instance, err := desc.Factory(ctx, c)
	if err != nil {
		c.emit(EventTypeComponentFailed, map[string]any{"component": desc.Name, "error": err.Error()})
		return nil, fmt.Errorf("factory for component %q failed: %w", desc.Name, err)
	}

	if scopeID == ScopeSingleton {
		instance, err = c.lifecycle.Register(desc.Name, instance, desc.Hooks)
	} else {
		instance, err = c.lifecycle.Construct(desc.Name, instance, desc.Hooks)
	}
	if err != nil {
		c.emit(EventTypeComponentFailed, map[string]any{"component": desc.Name, "error": err.Error()})
		return nil, err
	}

	c.logger.Debug("Resolved component", "component", desc.Name, "scope", scopeID.String())
	c.emit(EventTypeComponentResolved, map[string]any{"component": desc.Name, "scope": scopeID.String()})
	return instance, nil
}

// ResolveType returns the instance whose descriptor matches the given
// type: an exact type identity, a declared interface, or an interface
// the component type implements. When several descriptors match, the
// one marked primary wins; without a primary the resolution fails with
// ErrAmbiguousType.
func (c *Container) ResolveType(ctx context.Context, t reflect.Type) (any, error) {
	c.mu.RLock()
	var candidates []*ComponentDescriptor
	for _, name := range c.order {
		desc := c.descriptors[name]
		if descriptorMatchesType(desc, t) {
			candidates = append(candidates, desc)
		}
	}
	c.mu.RUnlock()

	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: no component of type %s", ErrComponentNotFound, t)
	case 1:
		return c.Resolve(ctx, candidates[0].Name)
	}

	for _, desc := range candidates {
		if desc.Primary {
			return c.Resolve(ctx, desc.Name)
		}
	}
	return nil, fmt.Errorf("%w: %s has %d candidates", ErrAmbiguousType, t, len(candidates))
}

func descriptorMatchesType(desc *ComponentDescriptor, t reflect.Type) bool {
	if desc.Type == t {
		return true
	}
	for _, iface := range desc.Interfaces {
		if iface == t {
			return true
		}
	}
	if desc.Type != nil && t.Kind() == reflect.Interface && desc.Type.Implements(t) {
		return true
	}
	return false
}

// ResolveInto resolves the named component and assigns it to target,
// which must be a non-nil pointer to a compatible type (the concrete
// type, or an interface the instance implements).
func (c *Container) ResolveInto(ctx context.Context, name string, target any) error {
	if target == nil {
		return ErrTargetNotPointer
	}
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return ErrTargetNotPointer
	}

	instance, err := c.Resolve(ctx, name)
	if err != nil {
		return err
	}

	iv := reflect.ValueOf(instance)
	elem := tv.Elem()
	if !iv.Type().AssignableTo(elem.Type()) {
		return fmt.Errorf("%w: component %q of type %s into %s",
			ErrTargetIncompatible, name, iv.Type(), elem.Type())
	}
	elem.Set(iv)
	return nil
}

// Start starts the managed lifecycle: plain startable components in
// registration order, phased components in ascending phase order, then
// on-start hooks. The container must be refreshed first.
func (c *Container) Start(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	switch state {
	case stateDestroyed:
		return ErrContainerDestroyed
	case stateCreated:
		return ErrContainerNotRefreshed
	case stateRefreshed:
	}

	if c.lifecycle.IsStarted() {
		return nil
	}
	c.lifecycle.Start(ctx)
	c.emit(EventTypeContainerStarted, nil)
	return nil
}

// Stop stops the managed lifecycle in reverse start order. Stopping a
// container that is not started is a no-op.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == stateDestroyed {
		return ErrContainerDestroyed
	}
	if !c.lifecycle.IsStarted() {
		return nil
	}

	c.lifecycle.Stop(ctx)
	c.emit(EventTypeContainerStopped, nil)
	return nil
}

// Destroy tears the container down: the lifecycle is stopped if
// started, tracked instances run their pre-destroy hooks and Dispose
// in reverse registration order, and the scope caches are cleared.
// The container cannot be used afterwards. Destroy is idempotent.
func (c *Container) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateDestroyed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDestroyed
	names := c.order
	descriptors := c.descriptors
	c.mu.Unlock()

	// The coordinator owns disposal of tracked singletons; drop them
	// from the scope cache first so DestroyAll does not dispose twice.
	if singletons, err := c.scopes.Get(ScopeSingleton); err == nil {
		for _, name := range names {
			if descriptors[name].scopeOrDefault() == ScopeSingleton {
				singletons.Remove(ctx, name)
			}
		}
	}

	c.lifecycle.Destroy(ctx)
	c.scopes.DestroyAll(ctx)

	c.logger.Info("Container destroyed")
	c.emit(EventTypeContainerDestroyed, nil)
	return nil
}

// ExportGraph renders the dependency graph in the given format. The
// graph exists only after Refresh.
func (c *Container) ExportGraph(format ExportFormat) (string, error) {
	c.mu.RLock()
	graph := c.graph
	c.mu.RUnlock()
	if graph == nil {
		return "", ErrContainerNotRefreshed
	}
	return graph.Export(format)
}

// Graph returns the dependency graph built during Refresh, or nil
// before Refresh.
func (c *Container) Graph() *DependencyGraph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph
}

// RegisterAdvice attaches an advice to the interception pipeline. A
// nil matcher applies the advice to every managed call.
func (c *Container) RegisterAdvice(matcher Matcher, advice AdviceDescriptor) error {
	return c.pipeline.Register(matcher, advice)
}

// Invoke dispatches a managed call through the interception pipeline.
func (c *Container) Invoke(ctx context.Context, target any, method string, args []any,
	metadata map[string]any, call func(ctx context.Context, args []any) (any, error)) (any, error) {
	return c.pipeline.Invoke(ctx, target, method, args, metadata, call)
}

// RegisterStandardAdvices wires the built-in cross-cutting handlers
// into the pipeline, each bound to its metadata key: access control
// and validation as before advice, and retry, circuit breaker,
// timeout, and bulkhead as nested around advice (retry outermost, so
// the circuit observes each attempt's outcome and the timeout bounds
// every attempt individually). When reg is non-nil a metrics
// interceptor wraps all managed calls.
func (c *Container) RegisterStandardAdvices(reg prometheus.Registerer) error {
	if reg != nil {
		metrics, err := NewMetricsInterceptor(reg)
		if err != nil {
			return err
		}
		if err := c.pipeline.Register(nil, AdviceDescriptor{
			Kind: AdviceAround, Name: "metrics", Order: 50, Handler: metrics,
		}); err != nil {
			return err
		}
	}

	around := []struct {
		key     string
		name    string
		order   int
		handler Interceptor
	}{
		{MetadataRetry, "retry", 100, NewRetryInterceptor(c.config.Resilience.Retry.settings(), c.logger)},
		{MetadataCircuitName, "circuitBreaker", 200, NewCircuitBreakerInterceptor(c.circuits, c.logger)},
		{MetadataTimeout, "timeout", 300, NewTimeoutInterceptor(c.pool, c.config.Resilience.Timeout, c.logger)},
		{MetadataBulkheadName, "bulkhead", 400, NewBulkheadInterceptor(c.config.Resilience.Bulkhead.settings(), c.logger)},
	}
	for _, a := range around {
		if err := c.pipeline.Register(MatchMetadata(a.key), AdviceDescriptor{
			Kind: AdviceAround, Name: a.name, Order: a.order, Handler: a.handler,
		}); err != nil {
			return err
		}
	}

	if err := c.pipeline.Register(MatchMetadata(MetadataRolesAllowed), AdviceDescriptor{
		Kind: AdviceBefore, Name: "accessControl", Order: 100, Handler: NewAccessControlInterceptor(c.logger),
	}); err != nil {
		return err
	}
	return c.pipeline.Register(MatchMetadata(MetadataValidated), AdviceDescriptor{
		Kind: AdviceBefore, Name: "validation", Order: 200, Handler: NewValidationInterceptor(),
	})
}

// RegisterObserver subscribes an observer to container events,
// optionally filtered to the given event types. An empty filter
// receives every event.
func (c *Container) RegisterObserver(observer Observer, eventTypes ...string) {
	c.observers.register(observer, eventTypes...)
}

// UnregisterObserver removes an observer.
func (c *Container) UnregisterObserver(observer Observer) {
	c.observers.unregister(observer)
}

// Observers reports the registered observers.
func (c *Container) Observers() []ObserverInfo {
	return c.observers.observers()
}

// RegisterPostProcessor adds a lifecycle post-processor. Processors
// registered before Refresh see every component.
func (c *Container) RegisterPostProcessor(p PostProcessor) {
	c.lifecycle.AddPostProcessor(p)
}

// RegisterScope adds or replaces a custom scope strategy. Scopes must
// be registered before Refresh.
func (c *Container) RegisterScope(scope Scope) {
	c.scopes.Register(scope)
}

// Schedule registers a cron-driven task with the container scheduler.
// The scheduler starts and stops with the container lifecycle.
func (c *Container) Schedule(task ScheduledTask) error {
	return c.scheduler.Schedule(task)
}

// Submit runs fn on the shared worker pool and returns a handle to
// its eventual result.
func (c *Container) Submit(fn func() (any, error)) (*Future, error) {
	return c.pool.Submit(fn)
}

// SubmitVoid runs fn on the shared worker pool, logging rather than
// surfacing failures.
func (c *Container) SubmitVoid(fn func() error) error {
	return c.pool.SubmitVoid(fn)
}

// CircuitBreakers returns the container's circuit breaker registry for
// per-circuit configuration and state inspection.
func (c *Container) CircuitBreakers() *CircuitBreakerRegistry {
	return c.circuits
}

// Config returns the container configuration.
func (c *Container) Config() *ContainerConfig {
	return c.config
}

// Logger returns the container logger.
func (c *Container) Logger() Logger {
	return c.logger
}

// emit builds a CloudEvent and delivers it to the registered
// observers.
func (c *Container) emit(eventType string, data map[string]any) {
	event := NewCloudEvent(eventType, eventSource, data)
	c.observers.notify(context.Background(), event)
}

func typesOf(desc *ComponentDescriptor) []reflect.Type {
	var types []reflect.Type
	if desc.Type != nil {
		types = append(types, desc.Type)
	}
	types = append(types, desc.Interfaces...)
	return types
}

package veld

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Initializable is implemented by components that need an
// initialization step after construction and property wiring, before
// their post-construct hooks run.
type Initializable interface {
	Initialize() error
}

// Startable is implemented by components that need to perform startup
// operations when the container starts.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by components that need cleanup when the
// container stops, ahead of destruction.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Phased is implemented by startable/stoppable components that
// participate in ordered startup. Lower phases start first and stop
// last. Components without a phase start after all phased components.
type Phased interface {
	Phase() int
}

// PostProcessor hooks into component registration. Both callbacks may
// substitute the instance by returning a different object (for example
// a guarded wrapper); returning nil keeps the current instance.
// Processors run in ascending Order.
type PostProcessor interface {
	Order() int
	BeforeInitialization(instance any, name string) (any, error)
	AfterInitialization(instance any, name string) (any, error)
}

// boundHook is a component-level lifecycle callback bound to its
// resolved instance.
type boundHook struct {
	component string
	hook      Hook
	instance  any
}

func sortBoundHooks(hooks []boundHook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].hook.Order < hooks[j].hook.Order
	})
}

// LifecycleCoordinator orchestrates the multi-phase component
// lifecycle: construction post-processing and initialization on
// registration, registry-wide post-initialize on refresh, phased
// start/stop, and reverse-order destruction. It is safe for concurrent
// registration; the coarse transitions (Refresh, Start, Stop, Destroy)
// are serialized by the owning container.
type LifecycleCoordinator struct {
	mu         sync.Mutex
	logger     Logger
	processors []PostProcessor

	instances map[string]any
	order     []string // registration order, for reverse destruction

	postInit   []boundHook
	onStart    []boundHook
	onStop     []boundHook
	preDestroy []boundHook

	started      bool
	startedNames []string
}

// NewLifecycleCoordinator creates a coordinator with no registered
// instances.
func NewLifecycleCoordinator(logger Logger) *LifecycleCoordinator {
	return &LifecycleCoordinator{
		logger:    logger,
		instances: make(map[string]any),
	}
}

// AddPostProcessor registers a post-processor. Processors registered
// after components have been registered only affect later registrations.
func (lc *LifecycleCoordinator) AddPostProcessor(p PostProcessor) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.processors = append(lc.processors, p)
	sort.SliceStable(lc.processors, func(i, j int) bool {
		return lc.processors[i].Order() < lc.processors[j].Order()
	})
}

// Construct runs the construction-phase pipeline for a newly created
// instance: before-initialization post-processors, the instance's
// Initialize method, its post-construct hooks in ascending order, then
// after-initialization post-processors. The (possibly substituted)
// instance is returned without being tracked for start, stop, or
// destruction; callers that want tracking use Register. Any failure
// here is fatal for the instance.
func (lc *LifecycleCoordinator) Construct(name string, instance any, hooks LifecycleHooks) (any, error) {
	lc.mu.Lock()
	processors := slices.Clone(lc.processors)
	lc.mu.Unlock()

	for _, p := range processors {
		processed, err := p.BeforeInitialization(instance, name)
		if err != nil {
			return nil, fmt.Errorf("post-processor failed before initialization of %q: %w", name, err)
		}
		if processed != nil {
			instance = processed
		}
	}

	if initializable, ok := instance.(Initializable); ok {
		if err := initializable.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize component %q: %w", name, err)
		}
	}

	postConstruct := slices.Clone(hooks.PostConstruct)
	sort.SliceStable(postConstruct, func(i, j int) bool { return postConstruct[i].Order < postConstruct[j].Order })
	for _, h := range postConstruct {
		if err := h.Fn(instance); err != nil {
			return nil, fmt.Errorf("post-construct hook %q failed for component %q: %w", h.Name, name, err)
		}
	}

	for _, p := range processors {
		processed, err := p.AfterInitialization(instance, name)
		if err != nil {
			return nil, fmt.Errorf("post-processor failed after initialization of %q: %w", name, err)
		}
		if processed != nil {
			instance = processed
		}
	}

	return instance, nil
}

// Register runs the construction-phase pipeline via Construct and then
// tracks the instance for refresh, start, stop, and reverse-order
// destruction.
func (lc *LifecycleCoordinator) Register(name string, instance any, hooks LifecycleHooks) (any, error) {
	instance, err := lc.Construct(name, instance, hooks)
	if err != nil {
		return nil, err
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, tracked := lc.instances[name]; !tracked {
		lc.order = append(lc.order, name)
	}
	lc.instances[name] = instance
	for _, h := range hooks.PostInitialize {
		lc.postInit = append(lc.postInit, boundHook{component: name, hook: h, instance: instance})
	}
	for _, h := range hooks.OnStart {
		lc.onStart = append(lc.onStart, boundHook{component: name, hook: h, instance: instance})
	}
	for _, h := range hooks.OnStop {
		lc.onStop = append(lc.onStop, boundHook{component: name, hook: h, instance: instance})
	}
	for _, h := range hooks.PreDestroy {
		lc.preDestroy = append(lc.preDestroy, boundHook{component: name, hook: h, instance: instance})
	}

	lc.logger.Debug("Registered component for lifecycle management", "component", name)
	return instance, nil
}

// Refresh invokes every registered post-initialize hook, ordered
// ascending across the whole registry rather than per instance. These
// hooks run only after each individual component finished its own
// initialization, so they may rely on every other component being
// ready. Hook failures are logged and do not abort the remaining hooks.
func (lc *LifecycleCoordinator) Refresh() {
	lc.mu.Lock()
	hooks := slices.Clone(lc.postInit)
	lc.mu.Unlock()

	sortBoundHooks(hooks)
	for _, bh := range hooks {
		if err := bh.hook.Fn(bh.instance); err != nil {
			lc.logger.Error("Post-initialize hook failed", "component", bh.component, "hook", bh.hook.Name, "error", err)
		}
	}
}

// Start starts all managed instances: plain Startable instances in
// registration order, then phased instances in ascending phase order,
// then on-start hooks ascending. Start is idempotent; a second call
// while started is a no-op. Per-instance failures are logged and do
// not prevent the remaining instances from starting.
func (lc *LifecycleCoordinator) Start(ctx context.Context) {
	lc.mu.Lock()
	if lc.started {
		lc.mu.Unlock()
		lc.logger.Debug("Lifecycle already started, ignoring")
		return
	}
	lc.started = true
	phased, plain := lc.startableLocked()
	hooks := slices.Clone(lc.onStart)
	lc.mu.Unlock()

	var startedNames []string
	for _, name := range append(plain, phased...) {
		lc.mu.Lock()
		instance := lc.instances[name]
		lc.mu.Unlock()

		if err := instance.(Startable).Start(ctx); err != nil {
			lc.logger.Error("Failed to start component", "component", name, "error", err)
			continue
		}
		startedNames = append(startedNames, name)
		lc.logger.Debug("Started component", "component", name)
	}

	sortBoundHooks(hooks)
	for _, bh := range hooks {
		if err := bh.hook.Fn(bh.instance); err != nil {
			lc.logger.Error("On-start hook failed", "component", bh.component, "hook", bh.hook.Name, "error", err)
		}
	}

	lc.mu.Lock()
	lc.startedNames = startedNames
	lc.mu.Unlock()
	lc.logger.Info("Lifecycle started", "components", len(startedNames))
}

// startableLocked partitions the Startable instances into phased names
// (ascending phase, ties by registration order) and plain names
// (registration order). Callers hold lc.mu.
func (lc *LifecycleCoordinator) startableLocked() (phased, plain []string) {
	type phasedName struct {
		name  string
		phase int
	}
	var withPhase []phasedName
	for _, name := range lc.order {
		instance := lc.instances[name]
		if _, ok := instance.(Startable); !ok {
			continue
		}
		if p, ok := instance.(Phased); ok {
			withPhase = append(withPhase, phasedName{name: name, phase: p.Phase()})
		} else {
			plain = append(plain, name)
		}
	}
	sort.SliceStable(withPhase, func(i, j int) bool { return withPhase[i].phase < withPhase[j].phase })
	for _, pn := range withPhase {
		phased = append(phased, pn.name)
	}
	return phased, plain
}

// Stop stops all previously started instances: phased instances in
// descending phase order first, then plain instances in reverse start
// order, then on-stop hooks ascending. Stop is idempotent and a no-op
// when not started. Per-instance failures are logged and isolated.
func (lc *LifecycleCoordinator) Stop(ctx context.Context) {
	lc.mu.Lock()
	if !lc.started {
		lc.mu.Unlock()
		lc.logger.Debug("Lifecycle not started, ignoring stop")
		return
	}
	lc.started = false
	startedNames := lc.startedNames
	lc.startedNames = nil
	hooks := slices.Clone(lc.onStop)
	lc.mu.Unlock()

	// Phased instances stop before plain ones, higher phases first; the
	// remainder stops in reverse start order.
	type phasedName struct {
		name  string
		phase int
	}
	var withPhase []phasedName
	var plain []string
	for _, name := range startedNames {
		lc.mu.Lock()
		instance := lc.instances[name]
		lc.mu.Unlock()
		if p, ok := instance.(Phased); ok {
			withPhase = append(withPhase, phasedName{name: name, phase: p.Phase()})
		} else {
			plain = append(plain, name)
		}
	}
	sort.SliceStable(withPhase, func(i, j int) bool { return withPhase[i].phase > withPhase[j].phase })
	slices.Reverse(plain)

	stopOrder := make([]string, 0, len(withPhase)+len(plain))
	for _, pn := range withPhase {
		stopOrder = append(stopOrder, pn.name)
	}
	stopOrder = append(stopOrder, plain...)

	for _, name := range stopOrder {
		lc.mu.Lock()
		instance := lc.instances[name]
		lc.mu.Unlock()

		stoppable, ok := instance.(Stoppable)
		if !ok {
			continue
		}
		if err := stoppable.Stop(ctx); err != nil {
			lc.logger.Error("Failed to stop component", "component", name, "error", err)
			continue
		}
		lc.logger.Debug("Stopped component", "component", name)
	}

	sortBoundHooks(hooks)
	for _, bh := range hooks {
		if err := bh.hook.Fn(bh.instance); err != nil {
			lc.logger.Error("On-stop hook failed", "component", bh.component, "hook", bh.hook.Name, "error", err)
		}
	}

	lc.logger.Info("Lifecycle stopped", "components", len(stopOrder))
}

// Destroy tears down all managed instances. If the lifecycle is
// started it is stopped first. Pre-destroy hooks run per instance in
// reverse registration order, followed by the instance's Dispose
// method. Failures are logged and do not abort destruction. All
// bookkeeping is cleared; Count reports zero afterwards.
func (lc *LifecycleCoordinator) Destroy(ctx context.Context) {
	lc.Stop(ctx)

	lc.mu.Lock()
	instances := lc.instances
	order := lc.order
	preDestroy := lc.preDestroy
	lc.instances = make(map[string]any)
	lc.order = nil
	lc.postInit = nil
	lc.onStart = nil
	lc.onStop = nil
	lc.preDestroy = nil
	lc.mu.Unlock()

	hooksByComponent := make(map[string][]boundHook)
	for _, bh := range preDestroy {
		hooksByComponent[bh.component] = append(hooksByComponent[bh.component], bh)
	}

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		hooks := hooksByComponent[name]
		sortBoundHooks(hooks)
		for _, bh := range hooks {
			if err := bh.hook.Fn(bh.instance); err != nil {
				lc.logger.Error("Pre-destroy hook failed", "component", name, "hook", bh.hook.Name, "error", err)
			}
		}

		if disposable, ok := instances[name].(Disposable); ok {
			if err := disposable.Dispose(); err != nil {
				lc.logger.Error("Failed to dispose component", "component", name, "error", err)
			}
		}
	}

	lc.logger.Info("Lifecycle destroyed", "components", len(order))
}

// IsStarted reports whether the lifecycle is currently started.
func (lc *LifecycleCoordinator) IsStarted() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.started
}

// Count returns the number of instances under lifecycle management.
func (lc *LifecycleCoordinator) Count() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.instances)
}

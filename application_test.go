package veld

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The test domain: a repository feeding a service, with an interface
// used for type-based resolution.

type userRepository interface {
	Find(id string) string
}

type sqlRepository struct {
	disposed int
}

func (r *sqlRepository) Find(id string) string { return "user:" + id }

func (r *sqlRepository) Dispose() error {
	r.disposed++
	return nil
}

type userService struct {
	repo    userRepository
	started bool
	stopped bool
}

func (s *userService) Start(_ context.Context) error { s.started = true; return nil }
func (s *userService) Stop(_ context.Context) error  { s.stopped = true; return nil }

func repoDescriptor() *ComponentDescriptor {
	return &ComponentDescriptor{
		Name:       "repo",
		Type:       reflect.TypeOf(&sqlRepository{}),
		Interfaces: []reflect.Type{reflect.TypeOf((*userRepository)(nil)).Elem()},
		Factory: func(context.Context, *Container) (any, error) {
			return &sqlRepository{}, nil
		},
	}
}

func serviceDescriptor() *ComponentDescriptor {
	return &ComponentDescriptor{
		Name:         "service",
		Type:         reflect.TypeOf(&userService{}),
		Dependencies: []DependencyRef{{Target: "repo", Kind: EdgeConstructor}},
		Factory: func(ctx context.Context, c *Container) (any, error) {
			repo, err := c.Resolve(ctx, "repo")
			if err != nil {
				return nil, err
			}
			return &userService{repo: repo.(userRepository)}, nil
		},
	}
}

func newTestContainer(t *testing.T, descriptors ...*ComponentDescriptor) *Container {
	t.Helper()
	c := NewContainer(nil, newTestLogger())
	for _, d := range descriptors {
		require.NoError(t, c.RegisterComponent(d))
	}
	return c
}

func TestContainerRegisterComponentValidation(t *testing.T) {
	c := NewContainer(nil, newTestLogger())

	err := c.RegisterComponent(&ComponentDescriptor{Name: "broken"})
	assert.ErrorIs(t, err, ErrFactoryNil)

	require.NoError(t, c.RegisterComponent(repoDescriptor()))
	err = c.RegisterComponent(repoDescriptor())
	assert.ErrorIs(t, err, ErrComponentAlreadyRegistered)
}

func TestContainerRegisterAfterRefreshFails(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())
	require.NoError(t, c.Refresh(ctx))

	err := c.RegisterComponent(serviceDescriptor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after refresh")
}

func TestContainerResolveBeforeRefresh(t *testing.T) {
	c := newTestContainer(t, repoDescriptor())
	_, err := c.Resolve(context.Background(), "repo")
	assert.ErrorIs(t, err, ErrContainerNotRefreshed)
}

func TestContainerRefreshEagerSingletons(t *testing.T) {
	created := 0
	eager := &ComponentDescriptor{
		Name: "eager",
		Factory: func(context.Context, *Container) (any, error) {
			created++
			return "eager-instance", nil
		},
	}
	lazy := &ComponentDescriptor{
		Name: "lazy",
		Lazy: true,
		Factory: func(context.Context, *Container) (any, error) {
			created++
			return "lazy-instance", nil
		},
	}

	ctx := context.Background()
	c := newTestContainer(t, eager, lazy)
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 1, created)

	_, err := c.Resolve(ctx, "lazy")
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Refresh is idempotent.
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, 2, created)
}

func TestContainerRefreshMissingDependency(t *testing.T) {
	c := newTestContainer(t, serviceDescriptor())
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestContainerRefreshCircularDependency(t *testing.T) {
	a := &ComponentDescriptor{
		Name:         "a",
		Dependencies: []DependencyRef{{Target: "b", Kind: EdgeConstructor}},
		Factory:      func(context.Context, *Container) (any, error) { return "a", nil },
	}
	b := &ComponentDescriptor{
		Name:         "b",
		Dependencies: []DependencyRef{{Target: "a", Kind: EdgeField}},
		Factory:      func(context.Context, *Container) (any, error) { return "b", nil },
	}

	c := newTestContainer(t, a, b)
	err := c.Refresh(context.Background())
	require.Error(t, err)

	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"a", "b", "a"}, cycleErr.Path)
}

func TestContainerRefreshAmbiguousPrimary(t *testing.T) {
	ifaceType := reflect.TypeOf((*userRepository)(nil)).Elem()
	first := repoDescriptor()
	first.Name = "repoA"
	first.Primary = true
	second := &ComponentDescriptor{
		Name:       "repoB",
		Type:       reflect.TypeOf(&sqlRepository{}),
		Interfaces: []reflect.Type{ifaceType},
		Primary:    true,
		Factory:    func(context.Context, *Container) (any, error) { return &sqlRepository{}, nil },
	}

	c := newTestContainer(t, first, second)
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAmbiguousPrimary)
}

func TestContainerRefreshUnknownScope(t *testing.T) {
	desc := repoDescriptor()
	desc.Scope = ScopeID("session")

	c := newTestContainer(t, desc)
	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestContainerRefreshEagerFailureIsFatal(t *testing.T) {
	broken := &ComponentDescriptor{
		Name: "broken",
		Factory: func(context.Context, *Container) (any, error) {
			return nil, errors.New("database unreachable")
		},
	}

	c := newTestContainer(t, broken)
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eager instantiation")
}

func TestContainerResolveSingletonIdentity(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor(), serviceDescriptor())
	require.NoError(t, c.Refresh(ctx))

	first, err := c.Resolve(ctx, "service")
	require.NoError(t, err)
	second, err := c.Resolve(ctx, "service")
	require.NoError(t, err)
	assert.Same(t, first, second)

	svc := first.(*userService)
	assert.Equal(t, "user:42", svc.repo.Find("42"))
}

func TestContainerResolveUnknownComponent(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())
	require.NoError(t, c.Refresh(ctx))

	_, err := c.Resolve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestContainerResolvePrototype(t *testing.T) {
	desc := &ComponentDescriptor{
		Name:  "proto",
		Scope: ScopePrototype,
		Factory: func(context.Context, *Container) (any, error) {
			// Zero-sized allocations share one address, which would
			// defeat the NotSame assertions below.
			return new(int), nil
		},
	}

	ctx := context.Background()
	c := newTestContainer(t, desc)
	require.NoError(t, c.Refresh(ctx))

	first, err := c.Resolve(ctx, "proto")
	require.NoError(t, err)
	second, err := c.Resolve(ctx, "proto")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestContainerResolveRequestScoped(t *testing.T) {
	desc := &ComponentDescriptor{
		Name:  "requestCtx",
		Scope: ScopeRequest,
		Factory: func(context.Context, *Container) (any, error) {
			// Zero-sized allocations share one address, which would
			// defeat the NotSame assertion below.
			return new(int), nil
		},
	}

	c := newTestContainer(t, desc)
	require.NoError(t, c.Refresh(context.Background()))

	_, err := c.Resolve(context.Background(), "requestCtx")
	assert.ErrorIs(t, err, ErrScopeNotActive)

	reqCtx := WithRequestScope(context.Background())
	first, err := c.Resolve(reqCtx, "requestCtx")
	require.NoError(t, err)
	second, err := c.Resolve(reqCtx, "requestCtx")
	require.NoError(t, err)
	assert.Same(t, first, second)

	otherCtx := WithRequestScope(context.Background())
	third, err := c.Resolve(otherCtx, "requestCtx")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestContainerResolveTypeByInterface(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())
	require.NoError(t, c.Refresh(ctx))

	instance, err := c.ResolveType(ctx, reflect.TypeOf((*userRepository)(nil)).Elem())
	require.NoError(t, err)
	assert.Equal(t, "user:7", instance.(userRepository).Find("7"))
}

func TestContainerResolveTypePrimaryWins(t *testing.T) {
	ifaceType := reflect.TypeOf((*userRepository)(nil)).Elem()
	plain := repoDescriptor()
	plain.Name = "plainRepo"
	primary := repoDescriptor()
	primary.Name = "primaryRepo"
	primary.Primary = true

	ctx := context.Background()
	c := newTestContainer(t, plain, primary)
	require.NoError(t, c.Refresh(ctx))

	instance, err := c.ResolveType(ctx, ifaceType)
	require.NoError(t, err)

	viaName, err := c.Resolve(ctx, "primaryRepo")
	require.NoError(t, err)
	assert.Same(t, viaName, instance)
}

func TestContainerResolveTypeAmbiguous(t *testing.T) {
	first := repoDescriptor()
	first.Name = "repoA"
	second := repoDescriptor()
	second.Name = "repoB"

	ctx := context.Background()
	c := newTestContainer(t, first, second)
	require.NoError(t, c.Refresh(ctx))

	_, err := c.ResolveType(ctx, reflect.TypeOf((*userRepository)(nil)).Elem())
	assert.ErrorIs(t, err, ErrAmbiguousType)
}

func TestContainerResolveTypeNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())
	require.NoError(t, c.Refresh(ctx))

	_, err := c.ResolveType(ctx, reflect.TypeOf((*Startable)(nil)).Elem())
	assert.ErrorIs(t, err, ErrComponentNotFound)
}

func TestContainerResolveInto(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())
	require.NoError(t, c.Refresh(ctx))

	var repo userRepository
	require.NoError(t, c.ResolveInto(ctx, "repo", &repo))
	assert.Equal(t, "user:1", repo.Find("1"))

	var concrete *sqlRepository
	require.NoError(t, c.ResolveInto(ctx, "repo", &concrete))
	assert.NotNil(t, concrete)

	assert.ErrorIs(t, c.ResolveInto(ctx, "repo", nil), ErrTargetNotPointer)
	assert.ErrorIs(t, c.ResolveInto(ctx, "repo", sqlRepository{}), ErrTargetNotPointer)

	var wrong *userService
	assert.ErrorIs(t, c.ResolveInto(ctx, "repo", &wrong), ErrTargetIncompatible)
}

func TestContainerStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor(), serviceDescriptor())

	assert.ErrorIs(t, c.Start(ctx), ErrContainerNotRefreshed)

	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Start(ctx))

	svc, err := c.Resolve(ctx, "service")
	require.NoError(t, err)
	assert.True(t, svc.(*userService).started)

	require.NoError(t, c.Stop(ctx))
	assert.True(t, svc.(*userService).stopped)

	// Stop without a running lifecycle is a no-op.
	require.NoError(t, c.Stop(ctx))
}

func TestContainerDestroyDisposesOnce(t *testing.T) {
	repo := &sqlRepository{}
	desc := &ComponentDescriptor{
		Name: "repo",
		Factory: func(context.Context, *Container) (any, error) {
			return repo, nil
		},
	}

	ctx := context.Background()
	c := newTestContainer(t, desc)
	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.Destroy(ctx))
	assert.Equal(t, 1, repo.disposed)

	// Destroy is idempotent and poisons further use.
	require.NoError(t, c.Destroy(ctx))
	assert.Equal(t, 1, repo.disposed)

	_, err := c.Resolve(ctx, "repo")
	assert.ErrorIs(t, err, ErrContainerDestroyed)
	assert.ErrorIs(t, c.Start(ctx), ErrContainerDestroyed)
	assert.ErrorIs(t, c.RegisterComponent(repoDescriptor()), ErrContainerDestroyed)
}

func TestContainerComponentHooks(t *testing.T) {
	var mu sync.Mutex
	var journal []string
	record := func(label string) func(any) error {
		return func(any) error {
			mu.Lock()
			defer mu.Unlock()
			journal = append(journal, label)
			return nil
		}
	}

	desc := &ComponentDescriptor{
		Name: "hooked",
		Factory: func(context.Context, *Container) (any, error) {
			return "instance", nil
		},
		Hooks: LifecycleHooks{
			PostConstruct:  []Hook{{Name: "pc", Fn: record("post-construct")}},
			PostInitialize: []Hook{{Name: "pi", Fn: record("post-initialize")}},
			OnStart:        []Hook{{Name: "start", Fn: record("on-start")}},
			OnStop:         []Hook{{Name: "stop", Fn: record("on-stop")}},
			PreDestroy:     []Hook{{Name: "pd", Fn: record("pre-destroy")}},
		},
	}

	ctx := context.Background()
	c := newTestContainer(t, desc)
	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Destroy(ctx))

	assert.Equal(t, []string{
		"post-construct", "post-initialize", "on-start", "on-stop", "pre-destroy",
	}, journal)
}

func TestContainerEmitsLifecycleEvents(t *testing.T) {
	observer := &collectingObserver{id: "events"}

	ctx := context.Background()
	c := NewContainer(nil, newTestLogger())
	c.RegisterObserver(observer)
	require.NoError(t, c.RegisterComponent(repoDescriptor()))
	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Destroy(ctx))

	seen := observer.seen()
	assert.Contains(t, seen, EventTypeComponentRegistered)
	assert.Contains(t, seen, EventTypeComponentResolved)
	assert.Contains(t, seen, EventTypeContainerRefreshed)
	assert.Contains(t, seen, EventTypeContainerStarted)
	assert.Contains(t, seen, EventTypeContainerStopped)
	assert.Contains(t, seen, EventTypeContainerDestroyed)
}

func TestContainerObserverFilterAndUnregister(t *testing.T) {
	filtered := &collectingObserver{id: "only-failures"}

	ctx := context.Background()
	c := NewContainer(nil, newTestLogger())
	c.RegisterObserver(filtered, EventTypeComponentFailed)
	require.Len(t, c.Observers(), 1)

	broken := &ComponentDescriptor{
		Name:    "broken",
		Lazy:    true,
		Factory: func(context.Context, *Container) (any, error) { return nil, errors.New("boom") },
	}
	require.NoError(t, c.RegisterComponent(broken))
	require.NoError(t, c.Refresh(ctx))

	_, err := c.Resolve(ctx, "broken")
	require.Error(t, err)
	assert.Equal(t, []string{EventTypeComponentFailed}, filtered.seen())

	c.UnregisterObserver(filtered)
	assert.Empty(t, c.Observers())
}

func TestContainerExportGraph(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor(), serviceDescriptor())

	_, err := c.ExportGraph(ExportDOT)
	assert.ErrorIs(t, err, ErrContainerNotRefreshed)

	require.NoError(t, c.Refresh(ctx))

	out, err := c.ExportGraph(ExportDOT)
	require.NoError(t, err)
	assert.Contains(t, out, `"service" -> "repo"`)

	require.NotNil(t, c.Graph())
	assert.Equal(t, []string{"repo", "service"}, c.Graph().Nodes())
}

func TestContainerPostProcessorWrapsComponents(t *testing.T) {
	var journal []string
	c := NewContainer(nil, newTestLogger())
	c.RegisterPostProcessor(&orderedProcessor{order: 1, journal: &journal})
	require.NoError(t, c.RegisterComponent(repoDescriptor()))

	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))
	assert.Contains(t, journal, "before-init:repo")
	assert.Contains(t, journal, "after-init:repo")
}

func TestContainerCustomScope(t *testing.T) {
	c := NewContainer(nil, newTestLogger())
	c.RegisterScope(&namedScope{id: "session"})

	desc := &ComponentDescriptor{
		Name:    "sessionThing",
		Scope:   ScopeID("session"),
		Factory: func(context.Context, *Container) (any, error) { return "session-value", nil },
	}
	require.NoError(t, c.RegisterComponent(desc))

	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	instance, err := c.Resolve(ctx, "sessionThing")
	require.NoError(t, err)
	assert.Equal(t, "session-value", instance)
}

// namedScope is a minimal custom scope delegating to the factory.
type namedScope struct {
	id ScopeID
}

func (s *namedScope) ID() ScopeID { return s.id }
func (s *namedScope) Get(_ context.Context, _ string, factory InstanceFactory) (any, error) {
	return factory()
}
func (s *namedScope) Remove(context.Context, string) any { return nil }
func (s *namedScope) DestroyAll(context.Context)         {}
func (s *namedScope) IsActive(context.Context) bool      { return true }
func (s *namedScope) Count(context.Context) int          { return 0 }

func TestContainerStandardAdvices(t *testing.T) {
	ctx := context.Background()
	c := NewContainer(nil, newTestLogger())
	require.NoError(t, c.RegisterStandardAdvices(nil))
	require.NoError(t, c.Refresh(ctx))

	// Retryable call recovers from a transient failure.
	calls := 0
	result, err := c.Invoke(ctx, nil, "Send", nil, map[string]any{MetadataRetry: true},
		func(context.Context, []any) (any, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return "sent", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "sent", result)
	assert.Equal(t, 2, calls)

	// Role-guarded call is denied without the role.
	_, err = c.Invoke(ctx, nil, "Purge", nil,
		map[string]any{MetadataRolesAllowed: []string{"admin"}}, passthroughCall(nil, nil))
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Circuit metadata engages the breaker registry.
	c.CircuitBreakers().Configure("edge", CircuitBreakerSettings{
		FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute, WindowSize: 5,
	})
	_, err = c.Invoke(ctx, nil, "Call", nil, map[string]any{MetadataCircuitName: "edge"},
		passthroughCall(nil, errors.New("downstream")))
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, c.CircuitBreakers().State("edge"))

	require.NoError(t, c.Destroy(ctx))
}

func TestContainerAsyncAndScheduling(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, repoDescriptor())

	var ticks sync.WaitGroup
	ticks.Add(1)
	var once sync.Once
	require.NoError(t, c.Schedule(ScheduledTask{
		Name: "tick",
		Spec: "@every 10ms",
		Fn: func(context.Context) error {
			once.Do(ticks.Done)
			return nil
		},
	}))

	require.NoError(t, c.Refresh(ctx))
	require.NoError(t, c.Start(ctx))

	future, err := c.Submit(func() (any, error) { return "async", nil })
	require.NoError(t, err)
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "async", result)

	waitDone := make(chan struct{})
	go func() {
		ticks.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never fired")
	}

	require.NoError(t, c.Destroy(ctx))

	// The pool is stopped with the container.
	_, err = c.Submit(func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestContainerConfigAccessors(t *testing.T) {
	cfg := DefaultContainerConfig()
	cfg.Async.Workers = 2
	logger := newTestLogger()

	c := NewContainer(cfg, logger)
	assert.Same(t, cfg, c.Config())
	assert.Same(t, logger, c.Logger())
}

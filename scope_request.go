package veld

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type requestScopeKey struct{}

// requestCache is the scope-local instance map bound to one logical
// request. The caller owns its lifetime: it is attached with
// WithRequestScope and torn down with EndRequestScope. Callers sharing
// one cache get singleton semantics; callers under different caches are
// fully isolated from one another.
type requestCache struct {
	id      string
	mu      sync.Mutex
	entries map[string]*singletonEntry
	created []string
}

// WithRequestScope binds a fresh request-scope cache to the context,
// opening a request scope boundary. The returned context must be used
// for all resolutions belonging to the request.
func WithRequestScope(ctx context.Context) context.Context {
	cache := &requestCache{
		id:      uuid.NewString(),
		entries: make(map[string]*singletonEntry),
	}
	return context.WithValue(ctx, requestScopeKey{}, cache)
}

// RequestScopeID returns the identifier of the request scope bound to
// the context, or the empty string outside a scope boundary.
func RequestScopeID(ctx context.Context) string {
	if cache := requestCacheFrom(ctx); cache != nil {
		return cache.id
	}
	return ""
}

func requestCacheFrom(ctx context.Context) *requestCache {
	cache, _ := ctx.Value(requestScopeKey{}).(*requestCache)
	return cache
}

// RequestScope caches instances in the caller-supplied request cache
// carried by the context. Within one cache it behaves like the
// singleton scope; the store never synchronizes across distinct caches.
type RequestScope struct {
	logger Logger
}

// NewRequestScope creates a request scope store.
func NewRequestScope(logger Logger) *RequestScope {
	return &RequestScope{logger: logger}
}

// ID implements Scope.
func (s *RequestScope) ID() ScopeID { return ScopeRequest }

// Get implements Scope. Resolution outside an active request boundary
// fails with ErrScopeNotActive.
func (s *RequestScope) Get(ctx context.Context, name string, factory InstanceFactory) (any, error) {
	cache := requestCacheFrom(ctx)
	if cache == nil {
		return nil, fmt.Errorf("%w: no request scope bound to context for %q", ErrScopeNotActive, name)
	}

	cache.mu.Lock()
	entry := cache.entries[name]
	if entry == nil {
		entry = &singletonEntry{}
		cache.entries[name] = entry
		cache.created = append(cache.created, name)
	}
	cache.mu.Unlock()

	entry.once.Do(func() {
		entry.instance, entry.err = factory()
	})
	if entry.err != nil {
		cache.mu.Lock()
		if cache.entries[name] == entry {
			delete(cache.entries, name)
		}
		cache.mu.Unlock()
		return nil, entry.err
	}
	return entry.instance, nil
}

// Remove implements Scope.
func (s *RequestScope) Remove(ctx context.Context, name string) any {
	cache := requestCacheFrom(ctx)
	if cache == nil {
		return nil
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	entry, ok := cache.entries[name]
	if !ok {
		return nil
	}
	delete(cache.entries, name)
	return entry.instance
}

// DestroyAll implements Scope. It tears down only the cache bound to
// the given context; other in-flight requests are unaffected.
func (s *RequestScope) DestroyAll(ctx context.Context) {
	cache := requestCacheFrom(ctx)
	if cache == nil {
		return
	}

	cache.mu.Lock()
	entries := cache.entries
	created := cache.created
	cache.entries = make(map[string]*singletonEntry)
	cache.created = nil
	cache.mu.Unlock()

	for i := len(created) - 1; i >= 0; i-- {
		entry := entries[created[i]]
		if entry == nil || entry.err != nil {
			continue
		}
		if disposable, ok := entry.instance.(Disposable); ok {
			if err := disposable.Dispose(); err != nil {
				s.logger.Error("Failed to dispose request-scoped instance",
					"component", created[i], "scope", cache.id, "error", err)
			}
		}
	}
}

// EndRequestScope closes the request boundary bound to the context,
// disposing every instance cached under it.
func (s *RequestScope) EndRequestScope(ctx context.Context) {
	s.DestroyAll(ctx)
}

// IsActive implements Scope. The request scope is active only while a
// request cache is bound to the context.
func (s *RequestScope) IsActive(ctx context.Context) bool {
	return requestCacheFrom(ctx) != nil
}

// Count implements Scope. Outside an active boundary the count is zero.
func (s *RequestScope) Count(ctx context.Context) int {
	cache := requestCacheFrom(ctx)
	if cache == nil {
		return 0
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	return len(cache.entries)
}

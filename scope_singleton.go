package veld

import (
	"context"
	"slices"
	"sync"
)

// singletonEntry claims a name before construction so that concurrent
// first access runs the factory exactly once. The once acts as the
// atomic claim; callers that lose the race block until the winner's
// factory call completes and then observe the identical instance.
type singletonEntry struct {
	once     sync.Once
	instance any
	err      error
}

// SingletonScope caches one instance per component name for the
// lifetime of the store. First access creates via the factory; all
// subsequent access returns the same instance regardless of caller.
type SingletonScope struct {
	mu      sync.RWMutex
	entries map[string]*singletonEntry
	created []string // creation claim order, for reverse destruction
	logger  Logger
}

// NewSingletonScope creates an empty singleton scope store.
func NewSingletonScope(logger Logger) *SingletonScope {
	return &SingletonScope{
		entries: make(map[string]*singletonEntry),
		logger:  logger,
	}
}

// ID implements Scope.
func (s *SingletonScope) ID() ScopeID { return ScopeSingleton }

// Get implements Scope. The fast path is an unsynchronized-read lookup
// of an already-built entry; misses fall back to claiming an entry
// under the write lock. The factory itself runs outside the store lock
// so that factories may resolve further components re-entrantly.
func (s *SingletonScope) Get(_ context.Context, name string, factory InstanceFactory) (any, error) {
	s.mu.RLock()
	entry := s.entries[name]
	s.mu.RUnlock()

	if entry == nil {
		s.mu.Lock()
		entry = s.entries[name]
		if entry == nil {
			entry = &singletonEntry{}
			s.entries[name] = entry
			s.created = append(s.created, name)
		}
		s.mu.Unlock()
	}

	entry.once.Do(func() {
		entry.instance, entry.err = factory()
	})
	if entry.err != nil {
		// Failed constructions do not stay claimed; a later Get retries.
		s.mu.Lock()
		if s.entries[name] == entry {
			delete(s.entries, name)
			if i := slices.Index(s.created, name); i >= 0 {
				s.created = slices.Delete(s.created, i, i+1)
			}
		}
		s.mu.Unlock()
		return nil, entry.err
	}
	return entry.instance, nil
}

// Remove implements Scope.
func (s *SingletonScope) Remove(_ context.Context, name string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return nil
	}
	delete(s.entries, name)
	if i := slices.Index(s.created, name); i >= 0 {
		s.created = slices.Delete(s.created, i, i+1)
	}
	return entry.instance
}

// DestroyAll implements Scope. Instances are disposed in reverse
// creation order; a failing Dispose is logged and destruction continues.
func (s *SingletonScope) DestroyAll(_ context.Context) {
	s.mu.Lock()
	entries := s.entries
	created := s.created
	s.entries = make(map[string]*singletonEntry)
	s.created = nil
	s.mu.Unlock()

	for i := len(created) - 1; i >= 0; i-- {
		name := created[i]
		entry := entries[name]
		if entry == nil || entry.err != nil {
			continue
		}
		if disposable, ok := entry.instance.(Disposable); ok {
			if err := disposable.Dispose(); err != nil {
				s.logger.Error("Failed to dispose singleton", "component", name, "error", err)
			}
		}
	}
}

// IsActive implements Scope. The singleton store is active for the
// whole container lifetime.
func (s *SingletonScope) IsActive(_ context.Context) bool { return true }

// Count implements Scope.
func (s *SingletonScope) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

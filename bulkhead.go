package veld

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// BulkheadSettings configures one named bulkhead.
type BulkheadSettings struct {
	// MaxConcurrent bounds the number of in-flight calls sharing the
	// bulkhead name.
	MaxConcurrent int64

	// MaxWait is how long a call waits for a permit before it is
	// rejected. Zero rejects immediately when the bulkhead is full.
	MaxWait time.Duration
}

// DefaultBulkheadSettings returns the settings used for bulkheads
// without explicit configuration.
func DefaultBulkheadSettings() BulkheadSettings {
	return BulkheadSettings{MaxConcurrent: 25}
}

func (s BulkheadSettings) normalized() BulkheadSettings {
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = DefaultBulkheadSettings().MaxConcurrent
	}
	return s
}

// MetadataBulkheadName is the invocation metadata key naming the
// bulkhead a call shares.
const MetadataBulkheadName = "bulkhead"

// BulkheadInterceptor limits concurrent in-flight calls per bulkhead
// name using a weighted semaphore. Calls beyond the limit wait up to
// the configured bound, then are rejected; rejection invokes the
// configured fallback when one is present.
type BulkheadInterceptor struct {
	mu       sync.Mutex
	limiters map[string]*semaphore.Weighted
	settings map[string]BulkheadSettings
	defaults BulkheadSettings
	logger   Logger
}

// NewBulkheadInterceptor creates a bulkhead interceptor with the given
// default settings.
func NewBulkheadInterceptor(defaults BulkheadSettings, logger Logger) *BulkheadInterceptor {
	return &BulkheadInterceptor{
		limiters: make(map[string]*semaphore.Weighted),
		settings: make(map[string]BulkheadSettings),
		defaults: defaults.normalized(),
		logger:   logger,
	}
}

// Configure sets the settings for a named bulkhead. It has no effect
// on a bulkhead that was already created.
func (i *BulkheadInterceptor) Configure(name string, settings BulkheadSettings) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.settings[name] = settings.normalized()
}

func (i *BulkheadInterceptor) limiterFor(name string) (*semaphore.Weighted, BulkheadSettings) {
	i.mu.Lock()
	defer i.mu.Unlock()

	settings, ok := i.settings[name]
	if !ok {
		settings = i.defaults
		i.settings[name] = settings
	}
	limiter, ok := i.limiters[name]
	if !ok {
		limiter = semaphore.NewWeighted(settings.MaxConcurrent)
		i.limiters[name] = limiter
	}
	return limiter, settings
}

func bulkheadName(inv *Invocation) string {
	if name, ok := inv.Metadata[MetadataBulkheadName].(string); ok && name != "" {
		return name
	}
	return inv.Method
}

// Invoke implements Interceptor.
func (i *BulkheadInterceptor) Invoke(inv *Invocation) (any, error) {
	name := bulkheadName(inv)
	limiter, settings := i.limiterFor(name)

	acquired := limiter.TryAcquire(1)
	if !acquired && settings.MaxWait > 0 {
		waitCtx, cancel := context.WithTimeout(inv.Context(), settings.MaxWait)
		acquired = limiter.Acquire(waitCtx, 1) == nil
		cancel()
	}
	if !acquired {
		i.logger.Debug("Bulkhead rejected call", "bulkhead", name, "method", inv.Method)
		if fb, ok := fallbackFor(inv); ok {
			return fb(inv.Args)
		}
		return nil, fmt.Errorf("%w: bulkhead %q", ErrBulkheadFull, name)
	}
	defer limiter.Release(1)

	return inv.Proceed()
}

package veld

import (
	"context"
	"fmt"
	"time"
)

// MetadataTimeout is the invocation metadata key carrying a per-call
// timeout as a time.Duration.
const MetadataTimeout = "timeout"

// TimeoutInterceptor bounds the duration of a guarded call. The rest
// of the chain and the real method execute on a managed worker; when
// the budget elapses the caller receives ErrInvocationTimeout and the
// in-flight call is cancelled through its context. Cancellation is
// cooperative: the call may run to completion in the background, but
// its result is discarded.
type TimeoutInterceptor struct {
	pool     *WorkerPool
	duration time.Duration
	logger   Logger
}

// NewTimeoutInterceptor creates a timeout interceptor with the given
// default budget, overridable per call through MetadataTimeout.
func NewTimeoutInterceptor(pool *WorkerPool, duration time.Duration, logger Logger) *TimeoutInterceptor {
	return &TimeoutInterceptor{pool: pool, duration: duration, logger: logger}
}

// Invoke implements Interceptor.
func (i *TimeoutInterceptor) Invoke(inv *Invocation) (any, error) {
	budget := i.duration
	if d, ok := inv.Metadata[MetadataTimeout].(time.Duration); ok && d > 0 {
		budget = d
	}
	if budget <= 0 {
		return inv.Proceed()
	}

	// The inner chain runs on a fork bound to a cancellable child
	// context. The fork keeps the caller's invocation (and its
	// context) untouched, so an outer retry sees the original context
	// and a timed-out worker cannot mutate shared state.
	callCtx, cancel := context.WithCancel(inv.Context())
	defer cancel()

	forked := inv.fork(callCtx)
	future, err := i.pool.Submit(func() (any, error) {
		return forked.Proceed()
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-future.Done():
		inv.absorb(forked)
		return future.Result()
	case <-timer.C:
		// Best-effort cancellation; the worker keeps the goroutine and
		// the late result is dropped with the fork.
		i.logger.Warn("Invocation timed out", "method", inv.Method, "timeout", budget)
		return nil, fmt.Errorf("%w: %s after %s", ErrInvocationTimeout, inv.Method, budget)
	}
}

package veld

import (
	"context"
	"fmt"
	"sync"
)

// Future is the handle returned for an asynchronously dispatched call.
// The result becomes available once Done is closed.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Done returns a channel closed when the call has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result blocks until the call completes and returns its outcome.
func (f *Future) Result() (any, error) {
	<-f.done
	return f.result, f.err
}

// Wait blocks until the call completes or the context is cancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for async result: %w", ctx.Err())
	}
}

type poolTask struct {
	fn     func() (any, error)
	future *Future
	void   bool
}

// WorkerPool is the shared bounded pool executing asynchronous
// component calls and timeout-guarded invocations. It implements
// Startable and Stoppable so the container manages it like any other
// lifecycle participant.
type WorkerPool struct {
	size   int
	tasks  chan poolTask
	wg     sync.WaitGroup
	mu     sync.Mutex
	logger Logger
	state  poolState
}

type poolState int

const (
	poolIdle poolState = iota
	poolRunning
	poolStopped
)

// NewWorkerPool creates a pool with the given worker count and queue
// capacity. Non-positive values fall back to small defaults.
func NewWorkerPool(workers, queueSize int, logger Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WorkerPool{
		size:   workers,
		tasks:  make(chan poolTask, queueSize),
		logger: logger,
	}
}

// Start implements Startable, launching the worker goroutines.
func (p *WorkerPool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != poolIdle {
		return nil
	}
	p.state = poolRunning

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.logger.Debug("Worker pool started", "workers", p.size)
	return nil
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *WorkerPool) run(task poolTask) {
	defer func() {
		if r := recover(); r != nil {
			if task.void {
				p.logger.Error("Async task panicked", "panic", r)
			} else {
				task.future.err = fmt.Errorf("async task panicked: %v", r)
				close(task.future.done)
			}
		}
	}()

	result, err := task.fn()
	if task.void {
		if err != nil {
			// Fire-and-forget failures are logged, never surfaced.
			p.logger.Error("Async task failed", "error", err)
		}
		return
	}
	task.future.result, task.future.err = result, err
	close(task.future.done)
}

// Submit enqueues a call and returns its future. Submission fails once
// the pool has been stopped.
func (p *WorkerPool) Submit(fn func() (any, error)) (*Future, error) {
	future := &Future{done: make(chan struct{})}
	if err := p.enqueue(poolTask{fn: fn, future: future}); err != nil {
		return nil, err
	}
	return future, nil
}

// SubmitVoid enqueues a fire-and-forget call. Errors and panics are
// logged and never reach the original caller.
func (p *WorkerPool) SubmitVoid(fn func() error) error {
	return p.enqueue(poolTask{
		fn:   func() (any, error) { return nil, fn() },
		void: true,
	})
}

func (p *WorkerPool) enqueue(task poolTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == poolStopped {
		return ErrPoolStopped
	}
	if p.state == poolIdle {
		// Lazy start keeps the pool usable before the container's
		// lifecycle phase has run.
		p.state = poolRunning
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	}
	p.tasks <- task
	return nil
}

// Stop implements Stoppable. It stops accepting work and waits for
// in-flight tasks, bounded by the context.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == poolStopped {
		p.mu.Unlock()
		return nil
	}
	started := p.state == poolRunning
	p.state = poolStopped
	close(p.tasks)
	p.mu.Unlock()

	if !started {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool drain interrupted: %w", ctx.Err())
	}
}

package veld

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ScheduledTask is a component callback executed on a cron schedule
// while the container is started.
type ScheduledTask struct {
	// Name identifies the task in logs.
	Name string

	// Spec is a cron expression (standard five-field format, or
	// @every / @hourly style descriptors).
	Spec string

	// Fn is the task body. Failures are logged, never fatal.
	Fn func(ctx context.Context) error
}

// Scheduler runs registered scheduled tasks. It participates in the
// container lifecycle as a phased component started late and stopped
// early, so tasks only fire while the rest of the container is up.
type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Schedule registers a task. Registration after Start takes effect
// immediately.
func (s *Scheduler) Schedule(task ScheduledTask) error {
	if task.Fn == nil {
		return fmt.Errorf("%w: %q", ErrScheduledTaskNil, task.Name)
	}

	_, err := s.cron.AddFunc(task.Spec, func() {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := task.Fn(ctx); err != nil {
			s.logger.Error("Scheduled task failed", "task", task.Name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %q: %w", task.Name, err)
	}
	s.logger.Debug("Scheduled task", "task", task.Name, "spec", task.Spec)
	return nil
}

// Start implements Startable.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.cron.Start()
	s.logger.Debug("Scheduler started")
	return nil
}

// Stop implements Stoppable. It waits for running tasks bounded by
// the given context.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler drain interrupted: %w", ctx.Err())
	}
}

// Phase implements Phased. The scheduler starts after regular
// components and stops before them.
func (s *Scheduler) Phase() int { return 1000 }

// Package scheduler runs recurring background tasks on fixed intervals.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Task is one unit of scheduled work. The context carries the per-run
// timeout and the process-wide shutdown signal.
type Task func(ctx context.Context) error

// Scheduler wraps a cron runner with interval-based scheduling and a
// per-task timeout.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
}

// New creates a scheduler. Tasks inherit ctx; cancelling it makes
// in-flight runs wind down at their next cancellation check.
func New(ctx context.Context, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		ctx:     ctx,
		timeout: timeout,
	}
}

// Every registers task to run once per interval. The name only appears
// in logs.
func (s *Scheduler) Every(interval time.Duration, name string, task Task) error {
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		start := time.Now()

		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()

		if err := task(ctx); err != nil {
			logrus.Errorf("Task %s failed: %v", name, err)
			return
		}
		logrus.Debugf("Task %s completed in %v", name, time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		return err
	}
	logrus.Infof("Scheduled task %s every %v", name, interval)
	return nil
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

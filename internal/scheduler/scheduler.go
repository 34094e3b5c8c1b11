// Package scheduler drives periodic full pipeline runs. Each tick is an
// ordinary batch run; overlapping runs are prevented so a slow fetch never
// races a following tick over the same artifacts.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Runner executes one full pipeline run.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler runs the pipeline at a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler running the pipeline every interval.
func New(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the periodic run and starts the underlying scheduler. The
// first run fires immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Every(s.interval).StartImmediately().Do(func() {
		s.logger.Info("scheduled pipeline run starting")
		if err := s.runner.Run(ctx); err != nil {
			s.logger.Error("scheduled pipeline run failed", "error", err)
			return
		}
		s.logger.Info("scheduled pipeline run complete")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

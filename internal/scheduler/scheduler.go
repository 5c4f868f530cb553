package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Resyncer reloads the full record list.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Scheduler periodically reloads the live list so drift from missed push
// events does not accumulate.
type Scheduler struct {
	scheduler *gocron.Scheduler
	target    Resyncer
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler. An interval <= 0 disables it.
func New(interval, timeout time.Duration, target Resyncer, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		target:    target,
		interval:  interval,
		timeout:   timeout,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start schedules the resync job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("resync disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).SingletonMode().WaitForSchedule().Do(s.run)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("resync scheduled", "interval", s.interval)
	return nil
}

func (s *Scheduler) run() {
	s.logger.Debug("running resync job")

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.target.Resync(ctx); err != nil {
		s.logger.Warn("resync failed", "error", err)
		return
	}
	s.logger.Debug("completed resync job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("retention scheduler is already running")

// Scheduler runs the pruner on a cron schedule. A nil run means stopped.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	logger   *slog.Logger

	mu  sync.Mutex
	run *running
}

type running struct {
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewScheduler creates a stopped scheduler. schedule is a standard five
// field cron expression such as "0 3 * * *".
func NewScheduler(pruner *Pruner, schedule string) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		logger:   slog.Default().With("component", "retention.scheduler"),
	}
}

// Start schedules pruning. An empty schedule leaves the scheduler stopped.
// Jobs run with a context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return ErrAlreadyRunning
	}
	if s.schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	sched, err := cron.ParseStandard(s.schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))),
	))
	c.Schedule(sched, cron.FuncJob(func() { s.runPruning(jobCtx) }))
	c.Start()

	s.run = &running{cron: c, cancel: cancel}
	s.logger.Info("retention scheduler started",
		"schedule", s.schedule,
		"retention_days", s.pruner.config.Days,
		"switch_log_days", s.pruner.config.SwitchLogDays,
	)
	return nil
}

// RunNow prunes once, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	return s.pruner.Prune(ctx)
}

func (s *Scheduler) runPruning(ctx context.Context) {
	res, err := s.pruner.Prune(ctx)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("scheduled pruning cancelled", "error", err)
			return
		}
		s.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	if res.Total() > 0 {
		s.logger.Info("scheduled pruning completed",
			"request_logs_deleted", res.RequestLogs,
			"switch_events_deleted", res.SwitchEvents,
		)
	} else {
		s.logger.Debug("scheduled pruning completed, no records deleted")
	}
}

// Stop cancels running jobs and waits for them to return. Stopping a
// stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	run := s.run
	s.run = nil
	s.mu.Unlock()

	if run == nil {
		return
	}
	run.cancel()
	<-run.cron.Stop().Done()
	s.logger.Info("retention scheduler stopped")
}

// IsRunning reports whether a schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// NextRun returns the next scheduled prune time, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return nil
	}
	entries := s.run.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"first-issue-service/internal/model"
)

// Synchronizer runs one reconciliation pass over tracked repositories.
type Synchronizer interface {
	Sync(ctx context.Context, repositoryIDs []int64) (*model.SyncResult, error)
}

// LeaseKeeper is the lifecycle manager's scheduled surface.
type LeaseKeeper interface {
	SweepExpired(ctx context.Context) (*model.SweepResult, error)
	SendExpiryReminders(ctx context.Context, hoursThreshold int) error
}

// Scheduler drives the periodic jobs: repository sync, expired-lease sweep
// and expiry reminders. Jobs run on independent timers and may overlap; each
// one is safe to run concurrently with the others and with live requests.
type Scheduler struct {
	syncer Synchronizer
	leases LeaseKeeper
	logger *slog.Logger

	syncInterval     time.Duration
	sweepInterval    time.Duration
	reminderInterval time.Duration
	graceHours       int
}

func New(syncer Synchronizer, leases LeaseKeeper, logger *slog.Logger,
	syncInterval, sweepInterval, reminderInterval time.Duration, graceHours int) *Scheduler {
	return &Scheduler{
		syncer:           syncer,
		leases:           leases,
		logger:           logger,
		syncInterval:     syncInterval,
		sweepInterval:    sweepInterval,
		reminderInterval: reminderInterval,
		graceHours:       graceHours,
	}
}

// Start runs all job loops until ctx is cancelled, then returns once every
// in-flight job has finished. Each loop fires immediately on startup.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		"sync_interval", s.syncInterval.String(),
		"sweep_interval", s.sweepInterval.String(),
		"reminder_interval", s.reminderInterval.String())

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.runLoop(ctx, "sync", s.syncInterval, s.runSync)
	}()
	go func() {
		defer wg.Done()
		s.runLoop(ctx, "sweep", s.sweepInterval, s.runSweep)
	}()
	go func() {
		defer wg.Done()
		s.runLoop(ctx, "reminders", s.reminderInterval, s.runReminders)
	}()
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			s.logger.Info("Scheduler job shutting down", "job", job, "reason", ctx.Err())
			return
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if _, err := s.syncer.Sync(ctx, nil); err != nil {
		s.logger.Error("Scheduled sync failed", "error", err)
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	result, err := s.leases.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Scheduled sweep failed", "error", err)
		return
	}
	if result.ReleasedCount > 0 || len(result.Errors) > 0 {
		s.logger.Info("Sweep completed", "released", result.ReleasedCount, "errors", len(result.Errors))
	}
}

func (s *Scheduler) runReminders(ctx context.Context) {
	if err := s.leases.SendExpiryReminders(ctx, s.graceHours); err != nil {
		s.logger.Error("Scheduled reminder pass failed", "error", err)
	}
}

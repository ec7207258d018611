/**
 * @description
 * Cron scheduler setup for the periodic jobs.
 */
package jobs

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job.
type Schedules struct {
	PendingSweep       string
	MaintenanceFee     string
	VirtualAccountLoop string
	BalanceSync        string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.add("pending transfer sweep", s.schedules.PendingSweep, s.jobs.SweepPendingTransfers)
	s.add("maintenance fee", s.schedules.MaintenanceFee, s.jobs.ApplyMaintenanceFees)
	s.add("virtual account retry", s.schedules.VirtualAccountLoop, s.jobs.RetryVirtualAccounts)
	s.add("balance sync", s.schedules.BalanceSync, s.jobs.SyncBalances)
	s.cron.Start()
}

func (s *Scheduler) add(name, schedule string, fn func()) {
	if schedule == "" {
		s.logger.Warn("job has no schedule, skipping", "job", name)
		return
	}
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", schedule, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

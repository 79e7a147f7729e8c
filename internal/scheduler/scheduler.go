/**
 * @description
 * Cron scheduler setup for the campaign jobs.
 */
package scheduler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each job. An empty expression disables the job.
type Schedules struct {
	Finalize    string
	RefundSweep string
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
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the number of
// jobs scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	if s.register("campaign finalize", s.schedules.Finalize, s.jobs.FinalizeCampaign) {
		scheduled++
	}
	if s.register("refund sweep", s.schedules.RefundSweep, s.jobs.SweepRefunds) {
		scheduled++
	}

	s.cron.Start()
	return scheduled
}

func (s *Scheduler) register(name, schedule string, job func()) bool {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.logger.Info("job disabled", "job", name)
		return false
	}
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", schedule, "error", err)
		return false
	}
	s.logger.Info("scheduled job", "job", name, "schedule", schedule)
	return true
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

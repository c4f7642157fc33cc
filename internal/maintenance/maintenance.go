// Package maintenance provides periodic background jobs for the movierec
// engine.
//
// Jobs (such as the preference repair sweep and aggregated-state reporting)
// are scheduled using cron expressions.
package maintenance

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/movierec/movierec/internal/operation"
	"github.com/movierec/movierec/internal/preferences"
)

// DefaultSweepSchedule runs the repair sweep hourly.
const DefaultSweepSchedule = "0 * * * *"

// DefaultReportSchedule logs aggregated operation state every five minutes.
const DefaultReportSchedule = "*/5 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ScheduleRepairSweep registers a periodic run of the synchronizer's
// local-store repair sweep.
func (s *Scheduler) ScheduleRepairSweep(expr string, syncer *preferences.Synchronizer) error {
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	return s.AddJob(expr, func() {
		repaired, err := syncer.RepairSweep(context.Background())
		if err != nil {
			slog.Error("Scheduler: periodic repair sweep failed", "error", err)
			return
		}
		slog.Debug("Scheduler: periodic repair sweep completed", "repaired", repaired)
	})
}

// ScheduleStateReport registers periodic logging of the registry's aggregated
// operation state, a cheap liveness signal in long-running deployments.
func (s *Scheduler) ScheduleStateReport(expr string, registry *operation.Registry) error {
	if expr == "" {
		expr = DefaultReportSchedule
	}
	return s.AddJob(expr, func() {
		agg := registry.AggregatedState()
		slog.Info("Scheduler: operation state report",
			"busy", agg.Busy,
			"active", agg.ActiveCount,
			"highest_priority", agg.HighestActivePriority,
			"recent_errors", len(agg.RecentErrors))
	})
}

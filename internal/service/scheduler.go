package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// MonthRollover fires at the first instant of every month, when the
// new-this-month count resets.
const MonthRollover = "0 0 0 1 * *"

// Scheduler runs periodic jobs against the stats engine.
type Scheduler struct {
	cron   *cron.Cron
	engine *StatsEngine
}

// NewScheduler creates a scheduler evaluating schedules in loc.
func NewScheduler(engine *StatsEngine, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		engine: engine,
	}
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(MonthRollover, func() {
		slog.Info("month rollover, refreshing dashboard stats")
		s.engine.Refresh()
	})
	if err != nil {
		return fmt.Errorf("register month rollover job: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Next returns when the next job runs, or the zero time when none is
// scheduled.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

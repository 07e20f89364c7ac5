package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorhill/cronexpr"
)

// DefaultSchedule runs the backup once a day at 04:00.
const DefaultSchedule = "0 4 * * *"

// Scheduler triggers BackupAll on a cron schedule.
type Scheduler struct {
	manager  *Manager
	expr     *cronexpr.Expression
	schedule string
	now      func() time.Time
	log      *slog.Logger
}

// NewScheduler parses schedule, a standard cron expression.
func NewScheduler(manager *Manager, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("bad backup schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		manager:  manager,
		expr:     expr,
		schedule: schedule,
		now:      time.Now,
		log:      slog.Default().With("component", "backup-scheduler"),
	}, nil
}

// Next returns the first run time after from, or the zero time if none.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from)
}

// Start runs until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		now := s.now()
		next := s.Next(now)
		if next.IsZero() {
			s.log.Warn("Backup schedule has no future run", "schedule", s.schedule)
			return
		}
		s.log.Debug("Next backup scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.manager.BackupAll(ctx); err != nil {
			s.log.Warn("Scheduled backup finished with errors", "error", err)
		}
	}
}

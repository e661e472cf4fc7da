// Package scheduler runs the periodic due-plan scan: plans whose reminder
// window has opened are surfaced as proactive reminders and snoozed so the
// next scan does not re-fire them.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/store"
)

const defaultSnoozeMinutes = 10

// NotifyFunc receives one due plan. Implementations push a reminder into the
// owning session's stream, or log when no consumer is attached.
type NotifyFunc func(plan *store.MemoryEntry)

// Scheduler polls for due plans on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	plans  *memory.PlanManager
	limit  int
	notify NotifyFunc
}

func New(plans *memory.PlanManager, limit int, notify NotifyFunc) *Scheduler {
	if limit <= 0 {
		limit = 10
	}
	if notify == nil {
		notify = func(plan *store.MemoryEntry) {
			slog.Info("Plan reminder due", "plan_id", plan.ID, "title", plan.Key)
		}
	}
	return &Scheduler{
		cron:   cron.New(),
		plans:  plans,
		limit:  limit,
		notify: notify,
	}
}

// Start schedules the scan on a standard 5-field cron expression; empty
// means every minute.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = "* * * * *"
	}
	if _, err := s.cron.AddFunc(spec, s.Scan); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop; a scan in flight finishes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Scan surfaces every due plan once and snoozes it by its reminder offset so
// the reminder does not repeat every scan.
func (s *Scheduler) Scan() {
	due, err := s.plans.GetDuePlans(s.limit)
	if err != nil {
		slog.Warn("Due-plan scan failed", "error", err)
		return
	}
	for _, plan := range due {
		s.notify(plan)

		snooze := plan.ReminderOffsetMn
		if snooze <= 0 {
			snooze = defaultSnoozeMinutes
		}
		if err := s.plans.Snooze(plan.ID, snooze); err != nil {
			slog.Warn("Could not snooze reminded plan", "plan_id", plan.ID, "error", err)
		}
	}
}

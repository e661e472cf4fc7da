package store

import (
	"fmt"
	"time"
)

// sqliteTime renders a timestamp the way SQLite's datetime() expects it.
func sqliteTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// DuePlans returns open plans whose reminder window has opened:
// now >= target_time - reminder_offset, and any snooze has lapsed. Snoozed
// plans come back once snooze_until passes.
func (s *Store) DuePlans(now time.Time, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+memoryColumns+` FROM memories
		 WHERE category = ? AND plan_status IN (?, ?)
		   AND target_time IS NOT NULL
		   AND datetime(target_time, '-' || reminder_offset_minutes || ' minutes') <= datetime(?)
		   AND (snooze_until IS NULL OR datetime(snooze_until) <= datetime(?))
		 ORDER BY target_time ASC LIMIT ?`,
		CategoryPlan, PlanPending, PlanSnoozed, sqliteTime(now), sqliteTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due plans: %w", err)
	}
	return collectMemories(rows)
}

// ListPlans returns plan entries filtered by status ("" for all).
func (s *Store) ListPlans(status PlanStatus, limit int) ([]*MemoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if status == "" {
		rows, err := s.db.Query(
			`SELECT `+memoryColumns+` FROM memories WHERE category = ? ORDER BY target_time ASC LIMIT ?`,
			CategoryPlan, limit,
		)
		if err != nil {
			return nil, fmt.Errorf("list plans: %w", err)
		}
		return collectMemories(rows)
	}
	rows, err := s.db.Query(
		`SELECT `+memoryColumns+` FROM memories WHERE category = ? AND plan_status = ? ORDER BY target_time ASC LIMIT ?`,
		CategoryPlan, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return collectMemories(rows)
}

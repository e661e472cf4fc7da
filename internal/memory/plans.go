package memory

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	kerrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/store"
)

// PlanManager layers reminder scheduling on top of plan-category entries.
type PlanManager struct {
	store *store.Store
}

func NewPlanManager(s *store.Store) *PlanManager {
	return &PlanManager{store: s}
}

// PlanParams describes a new plan reminder.
type PlanParams struct {
	SessionID        string
	Title            string
	Description      string
	TargetTime       time.Time
	ReminderOffsetMn int
	RepeatType       store.RepeatType
}

func (p *PlanManager) Create(params PlanParams) (*store.MemoryEntry, error) {
	if params.Title == "" {
		return nil, kerrors.InvalidInput("plan title is required")
	}
	if params.TargetTime.IsZero() {
		return nil, kerrors.InvalidInput("plan target time is required")
	}
	if params.RepeatType == "" {
		params.RepeatType = store.RepeatNone
	}
	target := params.TargetTime.UTC()
	now := time.Now().UTC()
	entry := &store.MemoryEntry{
		ID:               ulid.Make().String(),
		SessionID:        params.SessionID,
		Category:         store.CategoryPlan,
		Key:              params.Title,
		Value:            params.Description,
		Confidence:       1.0,
		Source:           store.SourceUserStated,
		CreatedAt:        now,
		LastAccessed:     now,
		TargetTime:       &target,
		ReminderOffsetMn: params.ReminderOffsetMn,
		RepeatType:       params.RepeatType,
		PlanStatus:       store.PlanPending,
	}
	if err := p.store.InsertMemory(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetDuePlans returns pending, non-snoozed plans whose reminder window has
// opened.
func (p *PlanManager) GetDuePlans(limit int) ([]*store.MemoryEntry, error) {
	return p.store.DuePlans(time.Now().UTC(), limit)
}

func (p *PlanManager) List(status store.PlanStatus, limit int) ([]*store.MemoryEntry, error) {
	return p.store.ListPlans(status, limit)
}

// Complete marks the plan done. Repeating plans spawn the next occurrence.
func (p *PlanManager) Complete(planID string) (*store.MemoryEntry, error) {
	plan, err := p.load(planID)
	if err != nil {
		return nil, err
	}
	plan.PlanStatus = store.PlanCompleted
	plan.SnoozeUntil = nil
	if err := p.store.UpdateMemory(plan); err != nil {
		return nil, err
	}
	if plan.RepeatType == store.RepeatNone || plan.TargetTime == nil {
		return nil, nil
	}
	next := nextOccurrence(*plan.TargetTime, plan.RepeatType)
	return p.Create(PlanParams{
		SessionID:        plan.SessionID,
		Title:            plan.Key,
		Description:      plan.Value,
		TargetTime:       next,
		ReminderOffsetMn: plan.ReminderOffsetMn,
		RepeatType:       plan.RepeatType,
	})
}

func (p *PlanManager) Dismiss(planID string) error {
	plan, err := p.load(planID)
	if err != nil {
		return err
	}
	plan.PlanStatus = store.PlanDismissed
	plan.SnoozeUntil = nil
	return p.store.UpdateMemory(plan)
}

// Snooze pushes the reminder out by the given number of minutes from now.
func (p *PlanManager) Snooze(planID string, minutes int) error {
	if minutes <= 0 {
		return kerrors.InvalidInput("snooze minutes must be positive")
	}
	plan, err := p.load(planID)
	if err != nil {
		return err
	}
	until := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
	plan.PlanStatus = store.PlanSnoozed
	plan.SnoozeUntil = &until
	return p.store.UpdateMemory(plan)
}

func (p *PlanManager) load(planID string) (*store.MemoryEntry, error) {
	plan, err := p.store.GetMemory(planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsPlan() {
		return nil, kerrors.InvalidInput(fmt.Sprintf("memory %s is not a plan", planID))
	}
	return plan, nil
}

// nextOccurrence advances target by one repeat interval. Monthly increments
// clamp to the last day of the shorter month instead of rolling over, so a
// Jan 31 plan recurs on Feb 28/29.
func nextOccurrence(target time.Time, repeat store.RepeatType) time.Time {
	switch repeat {
	case store.RepeatDaily:
		return target.AddDate(0, 0, 1)
	case store.RepeatWeekly:
		return target.AddDate(0, 0, 7)
	case store.RepeatMonthly:
		return addMonthClamped(target)
	}
	return target
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

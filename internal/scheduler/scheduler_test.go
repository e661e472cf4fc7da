package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/store"
)

func TestScan_NotifiesAndSnoozes(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	plans := memory.NewPlanManager(s)
	_, err = plans.Create(memory.PlanParams{
		Title:            "吃药",
		TargetTime:       time.Now().UTC().Add(-time.Minute),
		ReminderOffsetMn: 15,
	})
	require.NoError(t, err)

	var fired []string
	sched := New(plans, 10, func(plan *store.MemoryEntry) {
		fired = append(fired, plan.Key)
	})

	sched.Scan()
	require.Equal(t, []string{"吃药"}, fired)

	// The snooze keeps the same plan quiet on the next scan.
	sched.Scan()
	assert.Len(t, fired, 1)
}

func TestScan_NothingDue(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	plans := memory.NewPlanManager(s)
	_, err = plans.Create(memory.PlanParams{
		Title:      "明年的事",
		TargetTime: time.Now().UTC().Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)

	fired := 0
	sched := New(plans, 10, func(*store.MemoryEntry) { fired++ })
	sched.Scan()
	assert.Zero(t, fired)
}

func TestStartStop(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sched := New(memory.NewPlanManager(s), 10, func(*store.MemoryEntry) {})
	require.NoError(t, sched.Start("@every 1h"))
	sched.Stop()

	assert.Error(t, New(memory.NewPlanManager(s), 10, nil).Start("not a cron spec"))
}

package form

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/store"
)

type fixture struct {
	store    *store.Store
	pending  *PendingTable
	handler  *Handler
	longterm *memory.LongTermManager
	plans    *memory.PlanManager
	working  *memory.WorkingManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{
		store:    s,
		pending:  NewPendingTable(time.Minute),
		longterm: memory.NewLongTermManager(s, 100, 10),
		plans:    memory.NewPlanManager(s),
		working:  memory.NewWorkingManager(s),
	}
	f.handler = NewHandler(f.pending, f.longterm, f.plans, f.working)
	return f
}

func (f *fixture) session(t *testing.T) string {
	t.Helper()
	sess, err := f.store.CreateSession("", "")
	require.NoError(t, err)
	return sess.ID
}

func preferenceForm() *Request {
	req := NewRequest(TypeForm, "饮品偏好", []Field{
		{
			Name: "drink", Type: FieldSelect, Label: "喜欢的饮品", Required: true,
			Options: []Option{{Value: "coffee", Label: "咖啡"}, {Value: "tea", Label: "茶"}},
		},
		{Name: "note", Type: FieldText, Label: "备注"},
	}, time.Minute)
	req.Context = &Context{Intent: "collect_preference", MemoryCategory: "preference"}
	return req
}

func TestPendingTable_ExpiryAndSweep(t *testing.T) {
	table := NewPendingTable(time.Millisecond)

	long := NewRequest(TypeForm, "long", nil, time.Minute)
	table.Put(long, "sess")

	short := NewRequest(TypeForm, "short", nil, 0) // inherits the 1ms default
	table.Put(short, "sess")
	assert.Equal(t, 2, table.Len())

	time.Sleep(5 * time.Millisecond)

	_, _, ok := table.Get(short.ID)
	assert.False(t, ok, "expired entry must not be returned")

	_, _, ok = table.Get(long.ID)
	assert.True(t, ok)

	assert.Equal(t, 0, table.Sweep(), "Get already dropped the expired entry")
	assert.Equal(t, 1, table.Len())
}

func TestHandle_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.handler.Handle(Submission{RequestID: "nope", SessionID: "s", Action: "approve"})
	assert.ErrorIs(t, err, kokoroErrors.ErrExpired)
}

func TestHandle_SessionMismatch(t *testing.T) {
	f := newFixture(t)
	owner := f.session(t)
	other := f.session(t)

	req := preferenceForm()
	f.pending.Put(req, owner)

	_, err := f.handler.Handle(Submission{RequestID: req.ID, SessionID: other, Action: "approve"})
	assert.ErrorIs(t, err, kokoroErrors.ErrSessionMismatch)

	_, _, ok := f.pending.Get(req.ID)
	assert.True(t, ok, "mismatched submission must not consume the request")
}

func TestHandle_Reject(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)
	req := preferenceForm()
	f.pending.Put(req, sess)

	out, err := f.handler.Handle(Submission{RequestID: req.ID, SessionID: sess, Action: "reject"})
	require.NoError(t, err)
	assert.Contains(t, out.Continuation, "skipped")

	_, _, ok := f.pending.Get(req.ID)
	assert.False(t, ok)
}

func TestHandle_MissingRequiredField(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)
	req := preferenceForm()
	f.pending.Put(req, sess)

	out, err := f.handler.Handle(Submission{
		RequestID: req.ID,
		SessionID: sess,
		Action:    "approve",
		Data:      map[string]any{"note": "只是备注"},
	})
	require.NoError(t, err)
	assert.Equal(t, "missing required field: drink", out.FieldError)
	assert.Contains(t, out.Continuation, "喜欢的饮品")

	_, _, ok := f.pending.Get(req.ID)
	assert.True(t, ok, "invalid submission keeps the request pending")
}

func TestHandle_ApproveWritesPreferences(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)
	req := preferenceForm()
	f.pending.Put(req, sess)

	out, err := f.handler.Handle(Submission{
		RequestID: req.ID,
		SessionID: sess,
		Action:    "approve",
		Data:      map[string]any{"drink": "coffee"},
	})
	require.NoError(t, err)
	assert.Empty(t, out.FieldError)
	assert.Contains(t, out.Continuation, "咖啡", "option value resolves to its label")
	assert.Equal(t, "low", out.Complexity)

	entries, err := f.store.ListMemoriesByCategory(store.CategoryPreference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "喜欢的饮品", entries[0].Key)
	assert.Equal(t, "咖啡", entries[0].Value)
	assert.InDelta(t, 0.9, entries[0].Confidence, 1e-9)
	assert.Equal(t, store.SourceECSForm, entries[0].Source)

	// Submission lands in working memory under a title-derived key.
	raw, ok, err := f.working.GetContextVariable(sess, "form_饮品偏好")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, raw)

	_, _, ok = f.pending.Get(req.ID)
	assert.False(t, ok, "approved request is consumed")
}

func TestHandle_ApprovePlanForm(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)

	req := NewRequest(TypeForm, "新计划", []Field{
		{Name: "title", Type: FieldText, Label: "标题", Required: true},
		{Name: "target_datetime", Type: FieldDatetime, Label: "时间", Required: true},
		{Name: "reminder_offset", Type: FieldNumber, Label: "提前提醒"},
		{Name: "repeat_type", Type: FieldSelect, Label: "重复"},
	}, time.Minute)
	req.Context = &Context{Intent: "collect_plan"}
	f.pending.Put(req, sess)

	_, err := f.handler.Handle(Submission{
		RequestID: req.ID,
		SessionID: sess,
		Action:    "approve",
		Data: map[string]any{
			"title":           "牙医预约",
			"target_datetime": "2026-09-01 15:00",
			"reminder_offset": float64(30),
			"repeat_type":     "none",
		},
	})
	require.NoError(t, err)

	plans, err := f.store.ListPlans(store.PlanPending, 10)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "牙医预约", plans[0].Key)
	assert.Equal(t, 30, plans[0].ReminderOffsetMn)
	require.NotNil(t, plans[0].TargetTime)
	assert.WithinDuration(t, time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC), *plans[0].TargetTime, time.Second)
}

func TestHandle_ImageConfirmCategoryFlip(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)

	// Raised as a memory confirmation, but the user edited category to plan.
	req := NewRequest(TypeImageMemoryConfirm, "照片记忆确认", []Field{
		{Name: "key", Type: FieldText, Label: "内容", Required: true},
		{Name: "value", Type: FieldText, Label: "详情"},
		{Name: "category", Type: FieldSelect, Label: "类别"},
		{Name: "target_time", Type: FieldDatetime, Label: "时间"},
	}, time.Minute)
	f.pending.Put(req, sess)

	_, err := f.handler.Handle(Submission{
		RequestID: req.ID,
		SessionID: sess,
		Action:    "edit",
		Data: map[string]any{
			"key":         "音乐节",
			"value":       "周末的音乐节门票",
			"category":    "plan",
			"target_time": "2026-09-05 18:00",
		},
	})
	require.NoError(t, err)

	plans, err := f.store.ListPlans(store.PlanPending, 10)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "音乐节", plans[0].Key)

	facts, err := f.store.ListMemoriesByCategory(store.CategoryFact, 10)
	require.NoError(t, err)
	assert.Empty(t, facts, "plan-flipped confirmation writes no fact entry")
}

func TestHandle_ImageConfirmFact(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)

	req := NewRequest(TypeImageMemoryConfirm, "照片记忆确认", []Field{
		{Name: "key", Type: FieldText, Label: "内容", Required: true},
		{Name: "value", Type: FieldText, Label: "详情"},
		{Name: "category", Type: FieldSelect, Label: "类别"},
	}, time.Minute)
	f.pending.Put(req, sess)

	_, err := f.handler.Handle(Submission{
		RequestID: req.ID,
		SessionID: sess,
		Action:    "approve",
		Data:      map[string]any{"key": "养了一只猫", "value": "橘猫，叫小桔", "category": "fact"},
	})
	require.NoError(t, err)

	facts, err := f.store.ListMemoriesByCategory(store.CategoryFact, 10)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "养了一只猫", facts[0].Key)
	assert.Equal(t, store.SourceECSForm, facts[0].Source)
}

func TestHandle_VisualDisplayDismissOnly(t *testing.T) {
	f := newFixture(t)
	sess := f.session(t)

	req := NewRequest(TypeVisualDisplay, "天气卡片", nil, time.Minute)
	assert.Equal(t, []string{"dismiss"}, req.Actions)
	f.pending.Put(req, sess)

	_, err := f.handler.Handle(Submission{RequestID: req.ID, SessionID: sess, Action: "approve"})
	assert.Error(t, err, "displays accept only dismiss")

	out, err := f.handler.Handle(Submission{RequestID: req.ID, SessionID: sess, Action: "dismiss"})
	require.NoError(t, err)
	assert.Contains(t, out.Continuation, "dismissed")

	_, _, ok := f.pending.Get(req.ID)
	assert.False(t, ok)
}

func TestComplexityLabel(t *testing.T) {
	many := make([]Field, 6)
	data := map[string]any{}
	for i := range many {
		name := string(rune('a' + i))
		many[i] = Field{Name: name, Label: name}
		data[name] = "x"
	}
	req := &Request{Fields: many}
	assert.Equal(t, "high", complexityLabel(req, Submission{Data: data}))

	two := &Request{Fields: []Field{{Name: "a", Label: "a"}, {Name: "b", Label: "b"}}}
	assert.Equal(t, "medium", complexityLabel(two, Submission{Data: map[string]any{"a": "x", "b": "y"}}))

	one := &Request{Fields: []Field{{Name: "a", Label: "a"}}}
	assert.Equal(t, "low", complexityLabel(one, Submission{Data: map[string]any{"a": "短"}}))
}

func TestParseDatetime(t *testing.T) {
	got, err := parseDatetime("2026-09-01T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 15, 4, 5, 0, time.UTC), got)

	got, err = parseDatetime("2026-09-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDatetime("next tuesday")
	assert.Error(t, err)
}

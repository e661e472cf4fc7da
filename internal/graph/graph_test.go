package graph

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kokoro/internal/contract"
	"github.com/harunnryd/kokoro/internal/emotion"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/intent"
	"github.com/harunnryd/kokoro/internal/memory"
	modelcontract "github.com/harunnryd/kokoro/internal/model/contract"
	"github.com/harunnryd/kokoro/internal/store"
	"github.com/harunnryd/kokoro/internal/toolhost"
)

// scriptedRouter replays canned completions in order; the last one repeats.
type scriptedRouter struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (r *scriptedRouter) Route(_ context.Context, _ string, _ modelcontract.CompletionRequest) (*modelcontract.CompletionResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.calls
	if idx >= len(r.responses) {
		idx = len(r.responses) - 1
	}
	r.calls++
	return &modelcontract.CompletionResponse{Content: r.responses[idx]}, nil
}

func (r *scriptedRouter) RouteEmbedding(context.Context, string, string) ([]float32, error) {
	return nil, assert.AnError
}

func (r *scriptedRouter) ListModels() []string { return []string{"scripted"} }

func (r *scriptedRouter) Health(context.Context) error { return nil }

type graphFixture struct {
	store    *store.Store
	runner   *Runner
	router   *scriptedRouter
	pending  *form.PendingTable
	longterm *memory.LongTermManager
	hosts    *toolhost.Manager
	registry *toolhost.Registry
	events   []Event
	mu       sync.Mutex
}

func newGraphFixture(t *testing.T, responses ...string) *graphFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "kokoro.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	f := &graphFixture{
		store:    s,
		router:   &scriptedRouter{responses: responses},
		pending:  form.NewPendingTable(time.Minute),
		longterm: memory.NewLongTermManager(s, 100, 10),
		registry: toolhost.NewRegistry(s),
	}
	f.hosts = toolhost.NewManager(f.registry, time.Second)
	t.Cleanup(f.hosts.StopAll)

	f.runner = NewRunner(RunnerParams{
		Store:        s,
		Recognizer:   intent.NewRecognizer(f.router, "scripted", 0.7),
		Recaller:     memory.NewRecaller(s, 5, 50),
		Working:      memory.NewWorkingManager(s),
		LongTerm:     f.longterm,
		Router:       f.router,
		Hosts:        f.hosts,
		Executor:     toolhost.NewExecutor(f.hosts, 2*time.Second),
		Pending:      f.pending,
		ModelName:    "scripted",
		SystemPrompt: "You are a companion.",
		OuterLimit:   1,
		InnerLimit:   5,
	})
	return f
}

func (f *graphFixture) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *graphFixture) eventTypes() []EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]EventType, 0, len(f.events))
	for _, ev := range f.events {
		types = append(types, ev.Type)
	}
	return types
}

func (f *graphFixture) session(t *testing.T) string {
	t.Helper()
	sess, err := f.store.CreateSession("", "")
	require.NoError(t, err)
	return sess.ID
}

const plainReply = `{"emotion":{"primary":"happy","category":"positive","confidence":0.9,"indicators":["喜欢"]},` +
	`"response":"好呀，我记住了！","memory_update":{"should_store":true,"entries":` +
	`[{"category":"preference","key":"喜欢的饮品","value":"咖啡","confidence":0.9}]}}`

func TestRun_PlainTurnStoresMemoryAndResponds(t *testing.T) {
	f := newGraphFixture(t, plainReply)
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "好呀，我记住了！", state.Response)
	require.NotNil(t, state.IntentResult)
	assert.Equal(t, intent.CategoryMemory, state.IntentResult.Category)
	require.NotNil(t, state.DetectedEmotion)
	assert.Equal(t, emotion.EmotionHappy, state.DetectedEmotion.Primary)

	// user + assistant round the dialogue out
	require.Len(t, state.DialogueHistory, 2)
	assert.Equal(t, "user", state.DialogueHistory[0].Role)
	assert.Equal(t, "assistant", state.DialogueHistory[1].Role)

	assert.Contains(t, f.eventTypes(), EventText)
	assert.Contains(t, f.eventTypes(), EventEmotion)

	// The proposed memory write landed.
	entries, err := f.store.ListMemoriesByCategory(store.CategoryPreference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "咖啡", entries[0].Value)

	// The state was persisted and round-trips.
	data, err := f.store.GetGraphState(sess)
	require.NoError(t, err)
	restored, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, state.Response, restored.Response)
}

const formReply = `{"emotion":{"primary":"neutral","category":"neutral","confidence":0.8},` +
	`"response":"帮你记一下，确认这些信息哦。","memory_update":{"should_store":false},` +
	`"ecs_request":{"type":"form","title":"新计划","fields":[{"name":"title","type":"text","label":"标题","required":true},` +
	`{"name":"target_datetime","type":"datetime","label":"时间","required":true}],"context":{"intent":"collect_plan"}}}`

func TestRun_FormRequestSuspendsTurn(t *testing.T) {
	f := newGraphFixture(t, formReply)
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "提醒我明天下午三点买咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusSuspended, state.Status)
	require.NotNil(t, state.ECSFullRequest)
	assert.Equal(t, form.TypeForm, state.ECSFullRequest.Type)
	assert.Equal(t, state.ECSFullRequest.ID, state.ActionIDWaitingForAnswer)
	assert.Equal(t, 1, f.pending.Len())
	assert.Contains(t, f.eventTypes(), EventHITL)

	// The form contract ran through start -> suspend and was detached.
	require.Len(t, state.CompletedExecutions, 1)
	c := state.CompletedExecutions[0]
	assert.Equal(t, contract.ActionECSRequest, c.ActionType)
	assert.Equal(t, contract.StatusWaiting, c.Status)
	assert.Empty(t, state.PendingExecutions)
}

func TestRun_ResumeAfterFormSubmission(t *testing.T) {
	resumed := `{"emotion":{"primary":"happy","category":"positive","confidence":0.9},` +
		`"response":"记好啦，到时提醒你。","memory_update":{"should_store":false}}`
	f := newGraphFixture(t, formReply, resumed)
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "提醒我明天下午三点买咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))
	require.Equal(t, StatusSuspended, state.Status)

	require.NoError(t, f.runner.Resume(context.Background(), state,
		"The user approved the form: 标题=买咖啡, 时间=2026-08-27 15:00.", f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "记好啦，到时提醒你。", state.Response)
	assert.Empty(t, state.ActionIDWaitingForAnswer)
	assert.Nil(t, state.ECSRequest)
}

const toolReply = `{"emotion":{"primary":"neutral","category":"neutral","confidence":0.8},"response":"",` +
	`"memory_update":{"should_store":false},"tool_call":{"service":"echo","method":"ping","args":{"k":"v"}}}`

func TestRun_ToolLoopExecutesAndReturns(t *testing.T) {
	final := `{"emotion":{"primary":"calm","category":"neutral","confidence":0.9},` +
		`"response":"查到了，一切正常。","memory_update":{"should_store":false}}`
	f := newGraphFixture(t, toolReply, final)
	sess := f.session(t)

	cfg, err := f.registry.Add(toolhost.HostConfig{Name: "echo", Command: "cat", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, f.hosts.Start(cfg.ID))

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "查到了，一切正常。", state.Response)

	require.Len(t, state.ToolCallHistory, 1)
	assert.True(t, state.ToolCallHistory[0].Success)
	assert.Equal(t, "echo", state.ToolCallHistory[0].Service)

	// Contract went pending -> running -> completed and was detached.
	require.Len(t, state.CompletedExecutions, 1)
	assert.Equal(t, contract.StatusCompleted, state.CompletedExecutions[0].Status)
	assert.Empty(t, state.PendingExecutions)
	assert.NotEmpty(t, state.CompletedExecutions[0].IdempotencyKey)

	// Transitions landed on the observation trace.
	var transitions int
	for _, entry := range state.ExecutionTrace {
		if entry.NodeID == "tools" && entry.Metadata["trigger"] != "" {
			transitions++
		}
	}
	assert.Equal(t, 2, transitions)
}

func TestRun_ToolCallToStoppedHostIsIgnored(t *testing.T) {
	// The host named in the tool call is not running, so the call is treated
	// as a plain response.
	f := newGraphFixture(t, toolReply)
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Empty(t, state.ToolCallHistory)
	assert.Empty(t, state.PendingExecutions)
}

func TestRun_MaxLoopGuard(t *testing.T) {
	// Every reasoning pass asks for another tool call; the outer bound of 1
	// cycle trips on the second request.
	f := newGraphFixture(t, toolReply)
	sess := f.session(t)

	cfg, err := f.registry.Add(toolhost.HostConfig{Name: "echo", Command: "cat", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, f.hosts.Start(cfg.ID))

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Contains(t, f.eventTypes(), EventStatus)
	assert.NotEmpty(t, state.Response)
	require.Len(t, state.ToolCallHistory, 1, "only the first cycle's call runs")
}

const irreversibleToolReply = `{"emotion":{"primary":"neutral","category":"neutral","confidence":0.8},"response":"",` +
	`"memory_update":{"should_store":false},"tool_call":{"service":"echo","method":"ping","args":{"k":"v"},"irreversible":true}}`

func TestRun_DuplicateIrreversibleCallRefused(t *testing.T) {
	// The model asks for the same irreversible call twice in a row. The first
	// executes; the second is refused and reasoning is re-entered with the
	// refusal observation, after which the model answers plainly.
	final := `{"emotion":{"primary":"calm","category":"neutral","confidence":0.9},` +
		`"response":"那一步已经做过了，不再重复。","memory_update":{"should_store":false}}`
	f := newGraphFixture(t, irreversibleToolReply, irreversibleToolReply, final)
	sess := f.session(t)

	cfg, err := f.registry.Add(toolhost.HostConfig{Name: "echo", Command: "cat", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, f.hosts.Start(cfg.ID))

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "那一步已经做过了，不再重复。", state.Response)

	// Exactly one execution; the duplicate never became a contract.
	require.Len(t, state.ToolCallHistory, 1)
	require.Len(t, state.CompletedExecutions, 1)
	assert.Empty(t, state.PendingExecutions)
	assert.Equal(t, contract.StatusCompleted, state.CompletedExecutions[0].Status)

	// The refusal reached reasoning as an observation.
	assert.Contains(t, state.Observation, "action refused: already performed")
	assert.Contains(t, state.Observation, "[echo.ping]")
	assert.NotContains(t, f.eventTypes(), EventError)
}

func TestRun_ContractTimeoutFailsCall(t *testing.T) {
	// The host never answers; the contract-level timeout fails the call well
	// before the executor's default and reasoning is re-entered.
	timeoutReply := `{"emotion":{"primary":"neutral","category":"neutral","confidence":0.8},"response":"",` +
		`"memory_update":{"should_store":false},"tool_call":{"service":"echo","method":"ping","args":{"k":"v"},"timeout_seconds":0.2}}`
	final := `{"emotion":{"primary":"sad","category":"negative","confidence":0.8},` +
		`"response":"工具没响应，稍后再试吧。","memory_update":{"should_store":false}}`
	f := newGraphFixture(t, timeoutReply, final)
	sess := f.session(t)

	cfg, err := f.registry.Add(toolhost.HostConfig{Name: "echo", Command: "sleep 60", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, f.hosts.Start(cfg.ID))

	start := time.Now()
	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))
	assert.Less(t, time.Since(start), time.Second, "the 0.2s contract timeout applies, not the 2s default")

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "工具没响应，稍后再试吧。", state.Response)

	require.Len(t, state.ToolCallHistory, 1)
	assert.False(t, state.ToolCallHistory[0].Success)
	assert.Contains(t, state.ToolCallHistory[0].Error, "timeout")

	require.Len(t, state.CompletedExecutions, 1)
	c := state.CompletedExecutions[0]
	assert.Equal(t, contract.StatusFailed, c.Status)
	assert.InDelta(t, 0.2, c.TimeoutSeconds, 1e-9)
	assert.Contains(t, state.Observation, "timeout")
}

func TestRun_HITLDisabledIgnoresFormRequest(t *testing.T) {
	f := newGraphFixture(t, formReply)
	f.runner.features.HITL = false
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "提醒我明天下午三点买咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	// The form proposal is dropped; the turn ends as a plain response.
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.ECSFullRequest)
	assert.Equal(t, 0, f.pending.Len())
	assert.Empty(t, state.ActionIDWaitingForAnswer)
	assert.Equal(t, "帮你记一下，确认这些信息哦。", state.Response)
	assert.NotContains(t, f.eventTypes(), EventHITL)
}

func TestRun_MemoryEmotionDisabledSkipsNodes(t *testing.T) {
	f := newGraphFixture(t, plainReply)
	f.runner.features.MemoryEmotion = false
	sess := f.session(t)

	state := NewState(sess, SemanticInput{Text: "我最喜欢咖啡"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, "好呀，我记住了！", state.Response)

	// Emotion and recall never ran, and the proposed write was discarded.
	assert.Empty(t, state.EmotionalContext.ModulationInstruction)
	assert.Empty(t, state.WorkingMemory.RetrievedMemories)
	entries, err := f.store.ListMemoriesByCategory(store.CategoryPreference, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_IntentClassifierDisabledUsesRulesOnly(t *testing.T) {
	f := newGraphFixture(t, plainReply)
	f.runner.features.IntentRecognition = false
	sess := f.session(t)

	// No layer-1 rule matches, and the classifier is off, so the only model
	// call is the reasoning pass itself.
	state := NewState(sess, SemanticInput{Text: "陪我随便聊聊吧"})
	require.NoError(t, f.runner.Run(context.Background(), state, f.emit))

	require.NotNil(t, state.IntentResult)
	assert.Equal(t, intent.CategoryNormal, state.IntentResult.Category)
	assert.Empty(t, state.IntentResult.Source)
	assert.Equal(t, 1, f.router.calls)
}

func TestApply_MergeRules(t *testing.T) {
	s := &GraphState{Response: "old", PendingToolCalls: []ToolCallSpec{{Service: "a"}}}

	newResp := "new"
	suspended := StatusSuspended
	events := s.apply(&Update{
		Response:          &newResp,
		Status:            &suspended,
		RetrievedMemories: []memory.RecallResult{{Score: 1}},
		PendingToolCalls:  []ToolCallSpec{{Service: "b"}},
		Events:            []Event{{Type: EventText, Data: "hi"}},
	})

	assert.Equal(t, "new", s.Response)
	assert.Equal(t, StatusSuspended, s.Status)
	assert.Len(t, s.WorkingMemory.RetrievedMemories, 1)
	assert.Len(t, s.PendingToolCalls, 2, "lists append by default")
	require.Len(t, events, 1)

	s.apply(&Update{ReplacePendingToolCalls: true})
	assert.Empty(t, s.PendingToolCalls, "explicit replace wins")
}

func TestCarryForward(t *testing.T) {
	prev := &GraphState{
		ConversationID:           "sess",
		Status:                   StatusSuspended,
		DialogueHistory:          []modelcontract.Message{{Role: "user", Content: "hi"}},
		ActionIDWaitingForAnswer: "req-1",
		Response:                 "stale",
	}
	prev.WorkingMemory.CurrentGoals = []string{"learn go"}

	next := CarryForward(prev, SemanticInput{Text: "again"})
	assert.Equal(t, "sess", next.ConversationID)
	assert.Equal(t, StatusProcessing, next.Status)
	assert.Equal(t, prev.DialogueHistory, next.DialogueHistory)
	assert.Equal(t, "req-1", next.ActionIDWaitingForAnswer)
	assert.Equal(t, []string{"learn go"}, next.WorkingMemory.CurrentGoals)
	assert.Empty(t, next.Response, "per-turn fields start fresh")
}

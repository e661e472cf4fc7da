package contract

import (
	"encoding/json"
	"testing"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolDetail(t *testing.T, service, method string, args map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{"service": service, "method": method, "args": args})
	require.NoError(t, err)
	return b
}

func TestContract_HappyPathToCompleted(t *testing.T) {
	c := New(ActionToolCall, toolDetail(t, "weather", "get", map[string]any{"city": "北京"}))

	assert.Equal(t, StatusPending, c.Status)
	assert.NotEmpty(t, c.ExecutionID)
	assert.NotEmpty(t, c.IdempotencyKey)

	assert.NoError(t, c.Transition(TriggerStart, ActorToolNode, ""))
	assert.Equal(t, StatusRunning, c.Status)

	assert.NoError(t, c.Transition(TriggerSucceed, ActorToolNode, ""))
	assert.Equal(t, StatusCompleted, c.Status)
	assert.True(t, c.IsTerminal())
	assert.Len(t, c.Transitions, 2)
}

func TestContract_InvalidTransitionLeavesStateUntouched(t *testing.T) {
	c := New(ActionToolCall, toolDetail(t, "weather", "get", nil))

	err := c.Transition(TriggerSucceed, ActorToolNode, "")
	assert.ErrorIs(t, err, kokoroErrors.ErrInvalidTransition)
	assert.Equal(t, StatusPending, c.Status)
	assert.Empty(t, c.Transitions)
}

func TestContract_TerminalStatusesAdmitNoTrigger(t *testing.T) {
	triggers := []Trigger{
		TriggerStart, TriggerSucceed, TriggerFail, TriggerReject,
		TriggerSuspend, TriggerResume, TriggerCancel, TriggerTimeout,
	}

	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusRejected, StatusCancelled} {
		c := New(ActionToolCall, toolDetail(t, "svc", "m", nil))
		c.Status = terminal
		for _, trig := range triggers {
			err := c.Transition(trig, ActorSystem, "")
			assert.ErrorIs(t, err, kokoroErrors.ErrInvalidTransition, "status %s trigger %s", terminal, trig)
		}
	}
}

func TestContract_WaitingResumeAndTimeout(t *testing.T) {
	c := New(ActionECSRequest, json.RawMessage(`{"title":"认识你","type":"form"}`))
	assert.Empty(t, c.IdempotencyKey)

	require.NoError(t, c.Transition(TriggerStart, ActorECSNode, ""))
	require.NoError(t, c.Transition(TriggerSuspend, ActorECSNode, "waiting for user"))
	assert.Equal(t, StatusWaiting, c.Status)
	assert.True(t, c.WasSuspended())

	require.NoError(t, c.Transition(TriggerResume, ActorUser, ""))
	assert.Equal(t, StatusRunning, c.Status)

	require.NoError(t, c.Transition(TriggerSuspend, ActorECSNode, ""))
	require.NoError(t, c.Transition(TriggerTimeout, ActorSystem, "ttl elapsed"))
	assert.Equal(t, StatusCancelled, c.Status)
}

func TestComputeIdempotencyKey(t *testing.T) {
	det1 := json.RawMessage(`{"service":"weather","method":"get","args":{"city":"北京","day":1}}`)
	det2 := json.RawMessage(`{"service":"weather","method":"get","args":{"day":1,"city":"北京"}}`)
	det3 := json.RawMessage(`{"service":"weather","method":"get","args":{"city":"上海"}}`)

	k1 := ComputeIdempotencyKey(det1)
	k2 := ComputeIdempotencyKey(det2)
	k3 := ComputeIdempotencyKey(det3)

	assert.NotEmpty(t, k1)
	assert.Equal(t, k1, k2, "arg order must not change the key")
	assert.NotEqual(t, k1, k3)

	assert.Empty(t, ComputeIdempotencyKey(json.RawMessage(`{"service":"weather"}`)))
	assert.Empty(t, ComputeIdempotencyKey(json.RawMessage(`not json`)))
}

func TestCanCreate_BlocksCompletedIrreversibleDuplicate(t *testing.T) {
	detail := toolDetail(t, "payments", "send", map[string]any{"amount": 10})

	first := New(ActionToolCall, detail, WithIrreversible(true))
	require.NoError(t, first.Transition(TriggerStart, ActorToolNode, ""))
	require.NoError(t, first.Transition(TriggerSucceed, ActorToolNode, ""))

	assert.False(t, CanCreate(detail, []*Contract{first}))

	// A reversible duplicate, or one that failed, does not block.
	second := New(ActionToolCall, detail)
	assert.True(t, CanCreate(detail, []*Contract{second}))

	failed := New(ActionToolCall, detail, WithIrreversible(true))
	require.NoError(t, failed.Transition(TriggerStart, ActorToolNode, ""))
	require.NoError(t, failed.Transition(TriggerFail, ActorToolNode, "boom"))
	assert.True(t, CanCreate(detail, []*Contract{failed}))
}

func TestContract_JSONRoundTrip(t *testing.T) {
	c := New(ActionToolCall, toolDetail(t, "weather", "get", map[string]any{"city": "北京"}), WithIrreversible(true), WithTimeout(1))
	require.NoError(t, c.Transition(TriggerStart, ActorToolNode, ""))
	require.NoError(t, c.Transition(TriggerSucceed, ActorToolNode, ""))
	c.Result = "晴 28°C"

	data, err := c.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, c.ExecutionID, restored.ExecutionID)
	assert.Equal(t, StatusCompleted, restored.Status)
	assert.Equal(t, c.IdempotencyKey, restored.IdempotencyKey)
	assert.Equal(t, c.Result, restored.Result)
	assert.Len(t, restored.Transitions, 2)
	assert.Equal(t, c.Transitions[0].Trigger, restored.Transitions[0].Trigger)
}

func TestSnapshotAndConsequence(t *testing.T) {
	c := New(ActionToolCall, toolDetail(t, "weather", "get", nil), WithIrreversible(true))
	require.NoError(t, c.Transition(TriggerStart, ActorToolNode, ""))
	require.NoError(t, c.Transition(TriggerSucceed, ActorToolNode, ""))
	c.Result = "ok"

	now := time.Now().Add(time.Second)
	snap := c.Snapshot(now)
	assert.True(t, snap.IsTerminal)
	assert.True(t, snap.IsStable)
	assert.False(t, snap.IsResumable)
	assert.True(t, snap.HasSideEffects)
	assert.Equal(t, "call weather.get", snap.ActionSummary)
	assert.Equal(t, 2, snap.TransitionCount)
	assert.Equal(t, string(TriggerSucceed), snap.LastTrigger)

	view := c.Consequence(now)
	assert.Equal(t, "SUCCESS", view.ConsequenceLabel)
	assert.False(t, view.IsStillPending)
	assert.False(t, view.WasSuspended)
}

func TestBuildTimelineAndTopology(t *testing.T) {
	a := New(ActionToolCall, toolDetail(t, "a", "x", nil))
	b := New(ActionECSRequest, json.RawMessage(`{"title":"t","type":"form"}`))
	require.NoError(t, b.Transition(TriggerStart, ActorECSNode, ""))
	require.NoError(t, b.Transition(TriggerSuspend, ActorECSNode, ""))

	tl := BuildTimeline([]*Contract{a, b}, time.Now())
	assert.Equal(t, 2, tl.Total)
	assert.Equal(t, 0, tl.TerminalCount)
	assert.Equal(t, 1, tl.WaitingCount)

	topo := StateTopology()
	assert.Len(t, topo.Nodes, 7)
	assert.Len(t, topo.Edges, 9)
	assert.ElementsMatch(t, topo.Terminal, []Status{StatusCompleted, StatusFailed, StatusRejected, StatusCancelled})
	// Terminal statuses forbid everything.
	assert.Len(t, topo.Forbidden[StatusCompleted], 8)
}

func TestTranslateForbidsEngineeringTokens(t *testing.T) {
	c := New(ActionToolCall, toolDetail(t, "weather", "get", nil))
	out := TranslateConsequence(c.Consequence(time.Now()))
	for key := range out {
		assert.NotContains(t, key, "execution_id")
		assert.NotContains(t, key, "contract")
	}
	assert.Equal(t, "等待执行", out["状态"])
}

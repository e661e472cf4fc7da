package contract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is the read-only point-in-time projection of one contract.
type Snapshot struct {
	ExecutionID     string  `json:"execution_id"`
	ActionType      string  `json:"action_type"`
	ActionSummary   string  `json:"action_summary"`
	CurrentStatus   string  `json:"current_status"`
	EnteredAt       string  `json:"entered_at"`
	DurationInState int64   `json:"duration_in_state_ms"`
	IsTerminal      bool    `json:"is_terminal"`
	IsStable        bool    `json:"is_stable"`
	IsResumable     bool    `json:"is_resumable"`
	HasSideEffects  bool    `json:"has_side_effects"`
	Irreversible    bool    `json:"irreversible"`
	IdempotencyKey  string  `json:"idempotency_key,omitempty"`
	TimeoutSeconds  float64 `json:"timeout_seconds,omitempty"`
	Result          string  `json:"result,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	TransitionCount int     `json:"transition_count"`
	LastActor       string  `json:"last_actor,omitempty"`
	LastTrigger     string  `json:"last_trigger,omitempty"`
}

// ConsequenceView summarizes what the contract ultimately did to the world.
type ConsequenceView struct {
	ExecutionID      string `json:"execution_id"`
	ActionType       string `json:"action_type"`
	ActionSummary    string `json:"action_summary"`
	ConsequenceLabel string `json:"consequence_label"`
	Result           string `json:"result,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	HasSideEffects   bool   `json:"has_side_effects"`
	WasSuspended     bool   `json:"was_suspended"`
	IsStillPending   bool   `json:"is_still_pending"`
	TotalDurationMs  int64  `json:"total_duration_ms"`
}

// Timeline is the batched view over a session's contracts.
type Timeline struct {
	Snapshots      []Snapshot `json:"snapshots"`
	Total          int        `json:"total"`
	TerminalCount  int        `json:"terminal_count"`
	WaitingCount   int        `json:"waiting_count"`
	HasSideEffects bool       `json:"has_side_effects"`
}

// TopologyEdge is one legal move in the static state graph.
type TopologyEdge struct {
	From    Status  `json:"from"`
	To      Status  `json:"to"`
	Trigger Trigger `json:"trigger"`
}

// Topology describes the state machine itself: nodes, edges, and which
// (status, trigger) pairs are forbidden.
type Topology struct {
	Nodes     []Status       `json:"nodes"`
	Edges     []TopologyEdge `json:"edges"`
	Forbidden map[Status][]Trigger
	Terminal  []Status `json:"terminal"`
}

// Snapshot projects the contract as of now.
func (c *Contract) Snapshot(now time.Time) Snapshot {
	enteredAt := c.CreatedAt
	var lastActor, lastTrigger string
	if last := c.LastTransition(); last != nil {
		enteredAt = last.Timestamp
		lastActor = string(last.Actor)
		lastTrigger = string(last.Trigger)
	}

	return Snapshot{
		ExecutionID:     c.ExecutionID,
		ActionType:      string(c.ActionType),
		ActionSummary:   summarizeAction(c.ActionType, c.ActionDetail),
		CurrentStatus:   string(c.Status),
		EnteredAt:       enteredAt.Format(time.RFC3339Nano),
		DurationInState: now.Sub(enteredAt).Milliseconds(),
		IsTerminal:      c.IsTerminal(),
		IsStable:        c.IsTerminal() || c.Status == StatusWaiting,
		IsResumable:     c.Status == StatusWaiting,
		HasSideEffects:  c.Irreversible && c.Status == StatusCompleted,
		Irreversible:    c.Irreversible,
		IdempotencyKey:  c.IdempotencyKey,
		TimeoutSeconds:  c.TimeoutSeconds,
		Result:          c.Result,
		ErrorMessage:    c.ErrorMessage,
		TransitionCount: len(c.Transitions),
		LastActor:       lastActor,
		LastTrigger:     lastTrigger,
	}
}

// Consequence projects the contract's outcome.
func (c *Contract) Consequence(now time.Time) ConsequenceView {
	label := "PENDING"
	switch c.Status {
	case StatusCompleted:
		label = "SUCCESS"
	case StatusFailed:
		label = "FAILED"
	case StatusRejected:
		label = "REJECTED"
	case StatusWaiting:
		label = "SUSPENDED"
	case StatusCancelled:
		label = "CANCELLED"
	}

	end := now
	if c.IsTerminal() {
		end = c.UpdatedAt
	}

	return ConsequenceView{
		ExecutionID:      c.ExecutionID,
		ActionType:       string(c.ActionType),
		ActionSummary:    summarizeAction(c.ActionType, c.ActionDetail),
		ConsequenceLabel: label,
		Result:           c.Result,
		ErrorMessage:     c.ErrorMessage,
		HasSideEffects:   c.Irreversible && c.Status == StatusCompleted,
		WasSuspended:     c.WasSuspended(),
		IsStillPending:   !c.IsTerminal(),
		TotalDurationMs:  end.Sub(c.CreatedAt).Milliseconds(),
	}
}

// BuildTimeline sorts snapshots by entry time and aggregates counts.
func BuildTimeline(contracts []*Contract, now time.Time) Timeline {
	tl := Timeline{Total: len(contracts)}
	for _, c := range contracts {
		snap := c.Snapshot(now)
		tl.Snapshots = append(tl.Snapshots, snap)
		if snap.IsTerminal {
			tl.TerminalCount++
		}
		if snap.CurrentStatus == string(StatusWaiting) {
			tl.WaitingCount++
		}
		if snap.HasSideEffects {
			tl.HasSideEffects = true
		}
	}
	sort.SliceStable(tl.Snapshots, func(i, j int) bool {
		return tl.Snapshots[i].EnteredAt < tl.Snapshots[j].EnteredAt
	})
	return tl
}

// StateTopology exposes the static transition graph (derivable, not stored).
func StateTopology() Topology {
	nodes := []Status{
		StatusPending, StatusRunning, StatusCompleted, StatusFailed,
		StatusRejected, StatusWaiting, StatusCancelled,
	}
	allTriggers := []Trigger{
		TriggerStart, TriggerSucceed, TriggerFail, TriggerReject,
		TriggerSuspend, TriggerResume, TriggerCancel, TriggerTimeout,
	}

	topo := Topology{Nodes: nodes, Forbidden: make(map[Status][]Trigger)}
	for _, from := range nodes {
		for _, trig := range allTriggers {
			if to, ok := transitionTable[from][trig]; ok {
				topo.Edges = append(topo.Edges, TopologyEdge{From: from, To: to, Trigger: trig})
			} else {
				topo.Forbidden[from] = append(topo.Forbidden[from], trig)
			}
		}
		if IsTerminalStatus(from) {
			topo.Terminal = append(topo.Terminal, from)
		}
	}
	return topo
}

func summarizeAction(actionType ActionType, detail json.RawMessage) string {
	switch actionType {
	case ActionToolCall:
		var fp actionFingerprint
		if err := json.Unmarshal(detail, &fp); err == nil && fp.Service != "" {
			return fmt.Sprintf("call %s.%s", fp.Service, fp.Method)
		}
		return "tool call"
	case ActionECSRequest:
		var req struct {
			Title string `json:"title"`
			Type  string `json:"type"`
		}
		if err := json.Unmarshal(detail, &req); err == nil && req.Title != "" {
			return fmt.Sprintf("ask user: %s", req.Title)
		}
		return "ask user"
	}
	summary := strings.TrimSpace(string(detail))
	if len(summary) > 80 {
		summary = summary[:80] + "…"
	}
	return summary
}

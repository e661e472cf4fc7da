// Package graph drives one conversational turn through a fixed node set:
// intent -> emotion -> memory recall -> reasoning -> {tools | external step |
// end}. Nodes return partial updates; the runner merges them into a single
// typed state, persists after every node, and streams events as they queue.
package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harunnryd/kokoro/internal/contract"
	"github.com/harunnryd/kokoro/internal/emotion"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/intent"
	"github.com/harunnryd/kokoro/internal/memory"
	modelcontract "github.com/harunnryd/kokoro/internal/model/contract"
)

// Status is the turn-level lifecycle of a GraphState.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuspended  Status = "suspended"
	StatusError      Status = "error"
)

// SemanticInput is the user-provided trigger for the turn.
type SemanticInput struct {
	Text        string   `json:"text"`
	Images      []string `json:"images,omitempty"`
	Files       []string `json:"files,omitempty"`
	Intent      string   `json:"intent,omitempty"`
	ImageAction string   `json:"image_action,omitempty"`
	RawEvent    string   `json:"raw_event,omitempty"`
}

// EmotionalContext modulates the reasoning prompt for the rest of the turn.
type EmotionalContext struct {
	CurrentEmotion        emotion.Emotion `json:"current_emotion"`
	Valence               float64         `json:"valence"`
	Arousal               float64         `json:"arousal"`
	ModulationInstruction string          `json:"modulation_instruction,omitempty"`
}

// WorkingMemoryView is the turn's snapshot of short-term context plus what
// recall pulled in.
type WorkingMemoryView struct {
	ShortTermContext  []string              `json:"short_term_context,omitempty"`
	CurrentGoals      []string              `json:"current_goals,omitempty"`
	RetrievedMemories []memory.RecallResult `json:"retrieved_memories,omitempty"`
}

// ToolCallSpec is one tool invocation the model requested.
type ToolCallSpec struct {
	Service        string         `json:"service"`
	Method         string         `json:"method"`
	Args           map[string]any `json:"args,omitempty"`
	Irreversible   bool           `json:"irreversible,omitempty"`
	TimeoutSeconds float64        `json:"timeout_seconds,omitempty"`
}

// ToolCallRecord is one completed invocation kept for the turn history.
type ToolCallRecord struct {
	Service string    `json:"service"`
	Method  string    `json:"method"`
	Success bool      `json:"success"`
	Result  string    `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// TraceEntry is one observation-trace record.
type TraceEntry struct {
	NodeID    string            `json:"node_id"`
	Action    string            `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventType labels one streamed frame.
type EventType string

const (
	EventText    EventType = "text"
	EventEmotion EventType = "emotion"
	EventHITL    EventType = "hitl"
	EventStatus  EventType = "status"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// Event is one frame queued by a node for the consumer stream.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// GraphState is the single shared state a turn's nodes operate on.
type GraphState struct {
	ConversationID   string            `json:"conversation_id"`
	Status           Status            `json:"status"`
	SemanticInput    SemanticInput     `json:"semantic_input"`
	EmotionalContext EmotionalContext  `json:"emotional_context"`
	WorkingMemory    WorkingMemoryView `json:"working_memory"`

	DialogueHistory []modelcontract.Message `json:"dialogue_history,omitempty"`
	ExecutionTrace  []TraceEntry            `json:"execution_trace,omitempty"`

	ECSRequest     *form.Request `json:"ecs_request,omitempty"`
	ECSFullRequest *form.Request `json:"ecs_full_request,omitempty"`
	LastHumanInput string        `json:"last_human_input,omitempty"`
	Observation    string        `json:"observation,omitempty"`

	PendingToolCalls []ToolCallSpec   `json:"pending_tool_calls,omitempty"`
	ToolCallHistory  []ToolCallRecord `json:"tool_call_history,omitempty"`

	PendingExecutions   []*contract.Contract `json:"pending_executions,omitempty"`
	CompletedExecutions []*contract.Contract `json:"completed_executions,omitempty"`

	Response        string                      `json:"response,omitempty"`
	DetectedEmotion *emotion.State              `json:"detected_emotion,omitempty"`
	MemoriesToStore []emotion.MemoryUpdateEntry `json:"memories_to_store,omitempty"`
	IntentResult    *intent.Result              `json:"intent_result,omitempty"`

	ActionIDWaitingForAnswer string `json:"action_id_waiting_for_answer,omitempty"`
}

// Update is the partial result one node hands back. Merge rule: scalars
// overwrite when set, lists append unless the node replaces explicitly.
type Update struct {
	Status           *Status
	EmotionalContext *EmotionalContext
	IntentResult     *intent.Result
	DetectedEmotion  *emotion.State
	Response         *string
	Observation      *string
	ECSRequest       *form.Request
	ECSFullRequest   *form.Request
	ActionWaiting    *string

	RetrievedMemories []memory.RecallResult
	DialogueHistory   []modelcontract.Message
	ExecutionTrace    []TraceEntry
	MemoriesToStore   []emotion.MemoryUpdateEntry
	ToolCallHistory   []ToolCallRecord

	PendingToolCalls        []ToolCallSpec
	ReplacePendingToolCalls bool

	PendingExecutions       []*contract.Contract
	CompletedExecutions     []*contract.Contract
	RemovePendingExecutions []string

	// ActionRefused marks a reasoning pass whose tool call was blocked by
	// idempotency; the runner re-enters reasoning with the refusal observation.
	ActionRefused bool

	Events []Event
}

// apply merges one node's partial update into the state and returns the
// events it queued.
func (s *GraphState) apply(u *Update) []Event {
	if u == nil {
		return nil
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.EmotionalContext != nil {
		s.EmotionalContext = *u.EmotionalContext
	}
	if u.IntentResult != nil {
		s.IntentResult = u.IntentResult
	}
	if u.DetectedEmotion != nil {
		s.DetectedEmotion = u.DetectedEmotion
	}
	if u.Response != nil {
		s.Response = *u.Response
	}
	if u.Observation != nil {
		s.Observation = *u.Observation
	}
	if u.ECSRequest != nil {
		s.ECSRequest = u.ECSRequest
	}
	if u.ECSFullRequest != nil {
		s.ECSFullRequest = u.ECSFullRequest
	}
	if u.ActionWaiting != nil {
		s.ActionIDWaitingForAnswer = *u.ActionWaiting
	}

	s.WorkingMemory.RetrievedMemories = append(s.WorkingMemory.RetrievedMemories, u.RetrievedMemories...)
	s.DialogueHistory = append(s.DialogueHistory, u.DialogueHistory...)
	s.ExecutionTrace = append(s.ExecutionTrace, u.ExecutionTrace...)
	s.MemoriesToStore = append(s.MemoriesToStore, u.MemoriesToStore...)
	s.ToolCallHistory = append(s.ToolCallHistory, u.ToolCallHistory...)

	if u.ReplacePendingToolCalls {
		s.PendingToolCalls = u.PendingToolCalls
	} else {
		s.PendingToolCalls = append(s.PendingToolCalls, u.PendingToolCalls...)
	}

	s.PendingExecutions = append(s.PendingExecutions, u.PendingExecutions...)
	s.CompletedExecutions = append(s.CompletedExecutions, u.CompletedExecutions...)
	if len(u.RemovePendingExecutions) > 0 {
		drop := make(map[string]bool, len(u.RemovePendingExecutions))
		for _, id := range u.RemovePendingExecutions {
			drop[id] = true
		}
		kept := s.PendingExecutions[:0]
		for _, c := range s.PendingExecutions {
			if !drop[c.ExecutionID] {
				kept = append(kept, c)
			}
		}
		s.PendingExecutions = kept
	}

	return u.Events
}

// NewState builds a fresh turn state for a session.
func NewState(sessionID string, input SemanticInput) *GraphState {
	return &GraphState{
		ConversationID: sessionID,
		Status:         StatusProcessing,
		SemanticInput:  input,
	}
}

// CarryForward builds the next turn's state from a persisted one, keeping
// what survives across turns.
func CarryForward(prev *GraphState, input SemanticInput) *GraphState {
	next := NewState(prev.ConversationID, input)
	next.DialogueHistory = prev.DialogueHistory
	next.ActionIDWaitingForAnswer = prev.ActionIDWaitingForAnswer
	next.WorkingMemory.ShortTermContext = prev.WorkingMemory.ShortTermContext
	next.WorkingMemory.CurrentGoals = prev.WorkingMemory.CurrentGoals
	return next
}

// Marshal serializes the state for persistence.
func (s *GraphState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState deserializes a persisted state.
func UnmarshalState(data []byte) (*GraphState, error) {
	var s GraphState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode graph state: %w", err)
	}
	return &s, nil
}

// AbsorbAnswer merges a form answer's continuation into the state: the
// continuation rides the dialogue as a tool message so the next reasoning
// pass sees it, and the suspension is lifted.
func (s *GraphState) AbsorbAnswer(actionID, continuation string) {
	s.DialogueHistory = append(s.DialogueHistory, modelcontract.Message{
		Role:       "tool",
		ToolCallID: actionID,
		Content:    continuation,
	})
	s.ECSRequest = nil
	s.ECSFullRequest = nil
	s.ActionIDWaitingForAnswer = ""
	s.Status = StatusIdle
}

// transitionTrace records one contract transition onto the trace.
func transitionTrace(nodeID string, c *contract.Contract) TraceEntry {
	last := c.LastTransition()
	action := fmt.Sprintf("transition:%s", c.ExecutionID)
	meta := map[string]string{"action_type": string(c.ActionType)}
	if last != nil {
		action = fmt.Sprintf("transition:%s:%s→%s", c.ExecutionID, last.From, last.To)
		meta["trigger"] = string(last.Trigger)
		meta["actor"] = string(last.Actor)
	}
	return TraceEntry{NodeID: nodeID, Action: action, Metadata: meta, Timestamp: time.Now().UTC()}
}

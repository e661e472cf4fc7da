// Package contract implements the execution-contract state machine: every
// side-effectful action a turn performs is wrapped in an explicit lifecycle
// record with an append-only transition trace and an idempotency fingerprint.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRejected  Status = "REJECTED"
	StatusWaiting   Status = "WAITING"
	StatusCancelled Status = "CANCELLED"
)

type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerSucceed Trigger = "succeed"
	TriggerFail    Trigger = "fail"
	TriggerReject  Trigger = "reject"
	TriggerSuspend Trigger = "suspend"
	TriggerResume  Trigger = "resume"
	TriggerCancel  Trigger = "cancel"
	TriggerTimeout Trigger = "timeout"
)

type Actor string

const (
	ActorToolNode       Actor = "tool_node"
	ActorECSNode        Actor = "ecs_node"
	ActorGraphRunner    Actor = "graph_runner"
	ActorUser           Actor = "user"
	ActorSystem         Actor = "system"
	ActorExecutionEvent Actor = "execution_event"
)

type ActionType string

const (
	ActionToolCall   ActionType = "tool_call"
	ActionECSRequest ActionType = "ecs_request"
)

// transitionTable is the single source of truth for legal moves. Terminal
// statuses have no entry, so every trigger from them fails.
var transitionTable = map[Status]map[Trigger]Status{
	StatusPending: {
		TriggerStart: StatusRunning,
	},
	StatusRunning: {
		TriggerSucceed: StatusCompleted,
		TriggerFail:    StatusFailed,
		TriggerReject:  StatusRejected,
		TriggerSuspend: StatusWaiting,
		TriggerCancel:  StatusCancelled,
	},
	StatusWaiting: {
		TriggerResume:  StatusRunning,
		TriggerCancel:  StatusCancelled,
		TriggerTimeout: StatusCancelled,
	},
}

// Transition is one append-only trace record.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Contract wraps one side-effectful action with its full lifecycle.
type Contract struct {
	ExecutionID    string          `json:"execution_id"`
	ActionType     ActionType      `json:"action_type"`
	ActionDetail   json.RawMessage `json:"action_detail"`
	Irreversible   bool            `json:"irreversible"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TimeoutSeconds float64         `json:"timeout_seconds,omitempty"`
	Status         Status          `json:"status"`
	Transitions    []Transition    `json:"transitions"`
	Result         string          `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Option func(*Contract)

func WithIrreversible(irreversible bool) Option {
	return func(c *Contract) { c.Irreversible = irreversible }
}

func WithTimeout(seconds float64) Option {
	return func(c *Contract) { c.TimeoutSeconds = seconds }
}

// New creates a PENDING contract. Tool calls get an idempotency key derived
// from their action detail; other action types carry none.
func New(actionType ActionType, actionDetail json.RawMessage, opts ...Option) *Contract {
	now := time.Now().UTC()
	c := &Contract{
		ExecutionID:  uuid.NewString(),
		ActionType:   actionType,
		ActionDetail: actionDetail,
		Status:       StatusPending,
		Transitions:  []Transition{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if actionType == ActionToolCall {
		c.IdempotencyKey = ComputeIdempotencyKey(actionDetail)
	}
	return c
}

// Transition applies a trigger. On an illegal trigger the contract is left
// untouched and ErrInvalidTransition is returned; callers must not apply any
// side effect after such a failure.
func (c *Contract) Transition(trigger Trigger, actor Actor, reason string) error {
	next, ok := transitionTable[c.Status][trigger]
	if !ok {
		return kokoroErrors.InvalidTransition(
			fmt.Sprintf("trigger %q not allowed from %s", trigger, c.Status))
	}

	now := time.Now().UTC()
	c.Transitions = append(c.Transitions, Transition{
		From:      c.Status,
		To:        next,
		Trigger:   trigger,
		Actor:     actor,
		Timestamp: now,
		Reason:    reason,
	})
	c.Status = next
	c.UpdatedAt = now
	return nil
}

// IsTerminal reports whether no trigger can move the contract further.
func (c *Contract) IsTerminal() bool {
	return IsTerminalStatus(c.Status)
}

func IsTerminalStatus(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// CanTrigger reports whether trigger is legal from the current status.
func (c *Contract) CanTrigger(trigger Trigger) bool {
	_, ok := transitionTable[c.Status][trigger]
	return ok
}

// LastTransition returns the newest trace record, or nil before the first move.
func (c *Contract) LastTransition() *Transition {
	if len(c.Transitions) == 0 {
		return nil
	}
	return &c.Transitions[len(c.Transitions)-1]
}

// WasSuspended reports whether the contract ever entered WAITING.
func (c *Contract) WasSuspended() bool {
	for _, t := range c.Transitions {
		if t.To == StatusWaiting {
			return true
		}
	}
	return false
}

// actionFingerprint is the subset of a tool-call detail that identifies the
// action for idempotency purposes.
type actionFingerprint struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Args    json.RawMessage `json:"args"`
}

// ComputeIdempotencyKey returns "{service}:{method}:{hash(args)}" when both
// service and method are present, else "".
func ComputeIdempotencyKey(actionDetail json.RawMessage) string {
	var fp actionFingerprint
	if err := json.Unmarshal(actionDetail, &fp); err != nil {
		return ""
	}
	if fp.Service == "" || fp.Method == "" {
		return ""
	}

	// Canonicalize args so key order does not change the fingerprint.
	var args any
	canonical := ""
	if len(fp.Args) > 0 && json.Unmarshal(fp.Args, &args) == nil {
		if b, err := json.Marshal(args); err == nil {
			canonical = string(b)
		}
	}
	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s:%s:%s", fp.Service, fp.Method, hex.EncodeToString(sum[:8]))
}

// CanCreate reports whether a new contract for actionDetail may be created
// given the existing set: false iff an irreversible contract with the same
// idempotency key already COMPLETED.
func CanCreate(actionDetail json.RawMessage, existing []*Contract) bool {
	key := ComputeIdempotencyKey(actionDetail)
	if key == "" {
		return true
	}
	for _, c := range existing {
		if c.IdempotencyKey == key && c.Irreversible && c.Status == StatusCompleted {
			return false
		}
	}
	return true
}

// FromJSON reconstructs a contract, including status and trace, losslessly.
func FromJSON(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, kokoroErrors.Wrap(err, "decode contract")
	}
	return &c, nil
}

func (c *Contract) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// Package cogobj tracks durable "things the user cares about" across sessions.
// Objects have their own six-state lifecycle; unlike execution contracts,
// archived is recoverable via reactivate.
package cogobj

import (
	"fmt"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
)

type Status string

const (
	StatusEmerging Status = "emerging"
	StatusActive   Status = "active"
	StatusWaiting  Status = "waiting"
	StatusBlocked  Status = "blocked"
	StatusStable   Status = "stable"
	StatusArchived Status = "archived"
)

type Trigger string

const (
	TriggerActivate   Trigger = "activate"
	TriggerWait       Trigger = "wait"
	TriggerResume     Trigger = "resume"
	TriggerBlock      Trigger = "block"
	TriggerUnblock    Trigger = "unblock"
	TriggerStabilize  Trigger = "stabilize"
	TriggerArchive    Trigger = "archive"
	TriggerReactivate Trigger = "reactivate"
)

var transitionTable = map[Status]map[Trigger]Status{
	StatusEmerging: {
		TriggerActivate: StatusActive,
		TriggerArchive:  StatusArchived,
	},
	StatusActive: {
		TriggerWait:      StatusWaiting,
		TriggerBlock:     StatusBlocked,
		TriggerStabilize: StatusStable,
		TriggerArchive:   StatusArchived,
	},
	StatusWaiting: {
		TriggerResume:  StatusActive,
		TriggerBlock:   StatusBlocked,
		TriggerArchive: StatusArchived,
	},
	StatusBlocked: {
		TriggerUnblock: StatusActive,
		TriggerArchive: StatusArchived,
	},
	StatusStable: {
		TriggerActivate: StatusActive,
		TriggerArchive:  StatusArchived,
	},
	// archived is deliberately not terminal.
	StatusArchived: {
		TriggerReactivate: StatusActive,
	},
}

type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Object is a durable cognitive object. It may reference memories and
// contracts by id; it owns neither and outlives every contract it links.
type Object struct {
	COID           string       `json:"co_id"`
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	SemanticType   string       `json:"semantic_type,omitempty"`
	DomainTag      string       `json:"domain_tag,omitempty"`
	IntentCategory string       `json:"intent_category,omitempty"`
	Status         Status       `json:"status"`
	Transitions    []Transition `json:"transitions"`
	ExternalRefs   []string     `json:"external_references"`
	RelatedCOIDs   []string     `json:"related_co_ids"`
	LinkedMemories []string     `json:"linked_memory_ids"`
	LinkedExecs    []string     `json:"linked_execution_ids"`
	CreatedBy      string       `json:"created_by"`
	ConversationID string       `json:"conversation_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Transition applies a lifecycle trigger, appending to the trace on success.
func (o *Object) Transition(trigger Trigger, actor, reason string) error {
	next, ok := transitionTable[o.Status][trigger]
	if !ok {
		return kokoroErrors.InvalidTransition(
			fmt.Sprintf("trigger %q not allowed from %s", trigger, o.Status))
	}
	now := time.Now().UTC()
	o.Transitions = append(o.Transitions, Transition{
		From:      o.Status,
		To:        next,
		Trigger:   trigger,
		Actor:     actor,
		Timestamp: now,
		Reason:    reason,
	})
	o.Status = next
	o.UpdatedAt = now
	return nil
}

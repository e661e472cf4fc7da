package store

import "time"

// --- Sessions and messages ---

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	ID        string    `json:"id"` // ULID
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Working memory (one row per session) ---

type WorkingMemory struct {
	SessionID        string    `json:"session_id"`
	CurrentTopic     string    `json:"current_topic,omitempty"`
	ContextVariables string    `json:"context_variables"` // bounded JSON object, <= 64 KiB
	TurnCount        int       `json:"turn_count"`
	LastEmotion      string    `json:"last_emotion,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// --- Long-term memory ---

type MemoryCategory string

const (
	CategoryPreference MemoryCategory = "preference"
	CategoryFact       MemoryCategory = "fact"
	CategoryPattern    MemoryCategory = "pattern"
	CategoryPlan       MemoryCategory = "plan"
)

type MemorySource string

const (
	SourceUserStated MemorySource = "user_stated"
	SourceInferred   MemorySource = "inferred"
	SourceSystem     MemorySource = "system"
	SourceECSForm    MemorySource = "ecs_form"
)

type RepeatType string

const (
	RepeatNone    RepeatType = "none"
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
)

type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanCompleted PlanStatus = "completed"
	PlanDismissed PlanStatus = "dismissed"
	PlanSnoozed   PlanStatus = "snoozed"
)

type MemoryEntry struct {
	ID           string         `json:"id"` // ULID
	SessionID    string         `json:"session_id,omitempty"`
	Category     MemoryCategory `json:"category"`
	Key          string         `json:"key"`
	Value        string         `json:"value"`
	Confidence   float64        `json:"confidence"`
	Source       MemorySource   `json:"source"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	AccessCount  int            `json:"access_count"`

	// Plan fields, meaningful only when Category == CategoryPlan.
	TargetTime       *time.Time `json:"target_time,omitempty"`
	ReminderOffsetMn int        `json:"reminder_offset_minutes,omitempty"`
	RepeatType       RepeatType `json:"repeat_type,omitempty"`
	PlanStatus       PlanStatus `json:"plan_status,omitempty"`
	SnoozeUntil      *time.Time `json:"snooze_until,omitempty"`
}

// IsPlan reports whether the entry carries the plan subtype fields.
func (m *MemoryEntry) IsPlan() bool {
	return m.Category == CategoryPlan
}

// --- Persisted cognitive objects ---

type CognitiveObjectRow struct {
	COID           string    `json:"co_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	SemanticType   string    `json:"semantic_type,omitempty"`
	DomainTag      string    `json:"domain_tag,omitempty"`
	IntentCategory string    `json:"intent_category,omitempty"`
	Status         string    `json:"status"`
	Transitions    string    `json:"transitions"`          // JSON array
	ExternalRefs   string    `json:"external_references"`  // JSON array
	RelatedCOIDs   string    `json:"related_co_ids"`       // JSON array
	LinkedMemories string    `json:"linked_memory_ids"`    // JSON array
	LinkedExecs    string    `json:"linked_execution_ids"` // JSON array
	CreatedBy      string    `json:"created_by"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// --- Durable contract projection ---

type ContractRow struct {
	ExecutionID string    `json:"execution_id"`
	SessionID   string    `json:"session_id,omitempty"`
	ActionType  string    `json:"action_type"`
	Status      string    `json:"status"`
	Data        string    `json:"data"` // full contract JSON
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

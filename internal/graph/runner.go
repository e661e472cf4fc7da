package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/intent"
	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/model"
	modelcontract "github.com/harunnryd/kokoro/internal/model/contract"
	"github.com/harunnryd/kokoro/internal/store"
	"github.com/harunnryd/kokoro/internal/toolhost"
)

const (
	// DefaultOuterLoopLimit bounds reasoning-tools cycles per turn.
	DefaultOuterLoopLimit = 2
	// DefaultInnerLoopLimit bounds reasoning calls within one cycle.
	DefaultInnerLoopLimit = 5
)

// EmitFunc receives events as nodes queue them.
type EmitFunc func(Event)

// Features switches optional subsystems on or off. NewRunner treats a nil
// Features as everything enabled, mirroring the USE_* environment defaults.
type Features struct {
	MemoryEmotion     bool
	HITL              bool
	IntentRecognition bool
}

// Runner drives one turn through the node graph.
type Runner struct {
	store      *store.Store
	recognizer *intent.Recognizer
	recaller   *memory.Recaller
	working    *memory.WorkingManager
	longterm   *memory.LongTermManager
	router     model.Router
	hosts      *toolhost.Manager
	exec       *toolhost.Executor
	pending    *form.PendingTable

	modelName    string
	systemPrompt string
	formTTL      time.Duration
	outerLimit   int
	innerLimit   int
	features     Features
}

// RunnerParams wires a Runner; zero limits take the defaults.
type RunnerParams struct {
	Store        *store.Store
	Recognizer   *intent.Recognizer
	Recaller     *memory.Recaller
	Working      *memory.WorkingManager
	LongTerm     *memory.LongTermManager
	Router       model.Router
	Hosts        *toolhost.Manager
	Executor     *toolhost.Executor
	Pending      *form.PendingTable
	ModelName    string
	SystemPrompt string
	FormTTL      time.Duration
	OuterLimit   int
	InnerLimit   int
	Features     *Features
}

func NewRunner(p RunnerParams) *Runner {
	if p.OuterLimit <= 0 {
		p.OuterLimit = DefaultOuterLoopLimit
	}
	if p.InnerLimit <= 0 {
		p.InnerLimit = DefaultInnerLoopLimit
	}
	if p.FormTTL <= 0 {
		p.FormTTL = 10 * time.Minute
	}
	if p.Features == nil {
		p.Features = &Features{MemoryEmotion: true, HITL: true, IntentRecognition: true}
	}
	return &Runner{
		store:        p.Store,
		recognizer:   p.Recognizer,
		recaller:     p.Recaller,
		working:      p.Working,
		longterm:     p.LongTerm,
		router:       p.Router,
		hosts:        p.Hosts,
		exec:         p.Executor,
		pending:      p.Pending,
		modelName:    p.ModelName,
		systemPrompt: p.SystemPrompt,
		formTTL:      p.FormTTL,
		outerLimit:   p.OuterLimit,
		innerLimit:   p.InnerLimit,
		features:     *p.Features,
	}
}

type node struct {
	id  string
	run func(context.Context, *GraphState) (*Update, error)
}

// Run executes the graph for one turn, mutating state in place. Events reach
// emit in node order; the state is persisted after every node. On return the
// state is idle, suspended, or error.
func (r *Runner) Run(ctx context.Context, s *GraphState, emit EmitFunc) error {
	if emit == nil {
		emit = func(Event) {}
	}
	s.Status = StatusProcessing

	if s.SemanticInput.Text != "" {
		s.LastHumanInput = s.SemanticInput.Text
		s.DialogueHistory = append(s.DialogueHistory,
			modelcontract.Message{Role: "user", Content: s.SemanticInput.Text})
	}

	entry := []node{{"intent", r.nodeIntent}}
	if r.features.MemoryEmotion {
		entry = append(entry,
			node{"emotion", r.nodeEmotion},
			node{"memory_recall", r.nodeMemoryRecall})
	}
	for _, n := range entry {
		if _, err := r.step(ctx, s, n, emit); err != nil {
			return r.fail(s, emit, err)
		}
	}

	outer := 0
	inner := 0
	for {
		if inner >= r.innerLimit {
			r.maxLoop(s, emit)
			break
		}
		inner++

		update, err := r.step(ctx, s, node{"reasoning", r.nodeReasoning}, emit)
		if err != nil {
			return r.fail(s, emit, err)
		}

		// A blocked duplicate surfaces as an observation; reasoning goes
		// again so the model can choose differently. Bounded by innerLimit.
		if update != nil && update.ActionRefused {
			continue
		}

		if len(s.PendingToolCalls) > 0 {
			if outer >= r.outerLimit {
				r.maxLoop(s, emit)
				break
			}
			outer++
			inner = 0
			if _, err := r.step(ctx, s, node{"tools", r.nodeTools}, emit); err != nil {
				return r.fail(s, emit, err)
			}
			continue
		}

		if s.ECSRequest != nil && s.Status == StatusSuspended {
			if _, err := r.step(ctx, s, node{"external_step", r.nodeExternalStep}, emit); err != nil {
				return r.fail(s, emit, err)
			}
		}
		break
	}

	r.finishTurn(ctx, s)
	if s.Status != StatusSuspended {
		s.Status = StatusIdle
	}
	r.persist(s)
	return nil
}

// step runs one node, merges its update, persists, and forwards its events.
// The update is returned so the loop can branch on node-level outcomes.
func (r *Runner) step(ctx context.Context, s *GraphState, n node, emit EmitFunc) (*Update, error) {
	update, err := n.run(ctx, s)
	if err != nil {
		return nil, err
	}
	events := s.apply(update)
	s.ExecutionTrace = append(s.ExecutionTrace, TraceEntry{
		NodeID:    n.id,
		Action:    "completed",
		Timestamp: time.Now().UTC(),
	})
	r.persist(s)
	for _, ev := range events {
		emit(ev)
	}
	return update, nil
}

func (r *Runner) fail(s *GraphState, emit EmitFunc, err error) error {
	s.Status = StatusError
	r.persist(s)
	emit(Event{Type: EventError, Data: err.Error()})
	return err
}

func (r *Runner) maxLoop(s *GraphState, emit EmitFunc) {
	const msg = "I went through too many steps on this one; let's stop here."
	s.Response = msg
	s.DialogueHistory = append(s.DialogueHistory,
		modelcontract.Message{Role: "assistant", Content: msg})
	emit(Event{Type: EventStatus, Data: "max_loop"})
	emit(Event{Type: EventText, Data: msg})
}

// finishTurn flushes model-proposed memory writes and refreshes working
// memory with this exchange.
func (r *Runner) finishTurn(_ context.Context, s *GraphState) {
	if !r.features.MemoryEmotion {
		s.MemoriesToStore = nil
	}
	for _, entry := range s.MemoriesToStore {
		_, err := r.longterm.Create(memory.CreateParams{
			SessionID:  s.ConversationID,
			Category:   store.MemoryCategory(entry.Category),
			Key:        entry.Key,
			Value:      entry.Value,
			Confidence: entry.Confidence,
			Source:     store.SourceInferred,
		})
		if err != nil {
			slog.Warn("Could not store proposed memory", "key", entry.Key, "error", err)
		}
	}
	s.MemoriesToStore = nil

	params := memory.UpdateParams{IncrementTurn: true}
	if s.DetectedEmotion != nil {
		le := string(s.DetectedEmotion.Primary)
		params.LastEmotion = &le
	}
	if s.SemanticInput.Text != "" {
		topic := s.SemanticInput.Text
		params.CurrentTopic = &topic
	}
	if _, err := r.working.Update(s.ConversationID, params); err != nil {
		slog.Warn("Could not update working memory", "session_id", s.ConversationID, "error", err)
	}
}

func (r *Runner) persist(s *GraphState) {
	data, err := s.Marshal()
	if err != nil {
		slog.Error("Could not serialize graph state", "session_id", s.ConversationID, "error", err)
		return
	}
	if err := r.store.SaveGraphState(s.ConversationID, data); err != nil {
		slog.Warn("Could not persist graph state", "session_id", s.ConversationID, "error", err)
	}
}

// Resume re-enters the graph after a form submission: the continuation text
// becomes the effective input for the next reasoning pass.
func (r *Runner) Resume(ctx context.Context, s *GraphState, continuation string, emit EmitFunc) error {
	s.ECSRequest = nil
	s.ECSFullRequest = nil
	s.ActionIDWaitingForAnswer = ""
	s.Observation = ""
	s.DialogueHistory = append(s.DialogueHistory,
		modelcontract.Message{Role: "tool", Content: continuation})
	s.SemanticInput.Text = ""
	return r.Run(ctx, s, emit)
}

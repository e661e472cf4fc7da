package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/kokoro/internal/contract"
	"github.com/harunnryd/kokoro/internal/emotion"
	kerrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/intent"
	modelcontract "github.com/harunnryd/kokoro/internal/model/contract"
	"github.com/harunnryd/kokoro/internal/toolhost"
)

// affect is the fixed valence/arousal read per emotion.
var affectTable = map[emotion.Emotion][2]float64{
	emotion.EmotionHappy:      {0.8, 0.6},
	emotion.EmotionExcited:    {0.8, 0.9},
	emotion.EmotionGrateful:   {0.7, 0.4},
	emotion.EmotionCurious:    {0.5, 0.6},
	emotion.EmotionCalm:       {0.3, 0.2},
	emotion.EmotionNeutral:    {0.0, 0.3},
	emotion.EmotionConfused:   {-0.3, 0.5},
	emotion.EmotionAnxious:    {-0.6, 0.8},
	emotion.EmotionSad:        {-0.7, 0.3},
	emotion.EmotionAngry:      {-0.8, 0.8},
	emotion.EmotionFrustrated: {-0.6, 0.7},
	emotion.EmotionLonely:     {-0.6, 0.3},
}

// emotionLexicon drives the heuristic first read of the user's mood. The
// LLM's own read in the reasoning output refines it later in the turn.
var emotionLexicon = []struct {
	words   []string
	emotion emotion.Emotion
}{
	{[]string{"开心", "高兴", "太好了", "happy", "great news"}, emotion.EmotionHappy},
	{[]string{"兴奋", "激动", "excited", "can't wait"}, emotion.EmotionExcited},
	{[]string{"谢谢", "感谢", "thank"}, emotion.EmotionGrateful},
	{[]string{"好奇", "为什么", "curious", "wonder"}, emotion.EmotionCurious},
	{[]string{"难过", "伤心", "想哭", "sad", "miss "}, emotion.EmotionSad},
	{[]string{"生气", "气死", "angry", "furious"}, emotion.EmotionAngry},
	{[]string{"烦", "郁闷", "frustrated", "annoyed"}, emotion.EmotionFrustrated},
	{[]string{"焦虑", "紧张", "担心", "anxious", "worried", "nervous"}, emotion.EmotionAnxious},
	{[]string{"孤独", "寂寞", "一个人", "lonely", "alone"}, emotion.EmotionLonely},
	{[]string{"疑惑", "不明白", "搞不懂", "confused", "don't understand"}, emotion.EmotionConfused},
}

func (r *Runner) nodeIntent(ctx context.Context, s *GraphState) (*Update, error) {
	var dynamic []intent.Rule
	if r.hosts != nil {
		for name, keywords := range r.hosts.RunningTriggerKeywords() {
			if rule, ok := intent.DynamicRule(name, keywords, 20); ok {
				dynamic = append(dynamic, rule)
			}
		}
	}
	if !r.features.IntentRecognition {
		res := r.recognizer.RecognizeRules(s.SemanticInput.Text, dynamic)
		return &Update{IntentResult: &res}, nil
	}
	res := r.recognizer.Recognize(ctx, s.SemanticInput.Text, dynamic)
	return &Update{IntentResult: &res}, nil
}

func (r *Runner) nodeEmotion(_ context.Context, s *GraphState) (*Update, error) {
	detected := emotion.EmotionNeutral
	text := strings.ToLower(s.SemanticInput.Text)
	for _, group := range emotionLexicon {
		for _, w := range group.words {
			if strings.Contains(text, w) {
				detected = group.emotion
				break
			}
		}
		if detected != emotion.EmotionNeutral {
			break
		}
	}

	affect := affectTable[detected]
	ec := &EmotionalContext{
		CurrentEmotion:        detected,
		Valence:               affect[0],
		Arousal:               affect[1],
		ModulationInstruction: emotion.FormatStrategy(emotion.SelectStrategy(detected)),
	}
	return &Update{EmotionalContext: ec}, nil
}

func (r *Runner) nodeMemoryRecall(_ context.Context, s *GraphState) (*Update, error) {
	wm, err := r.working.GetOrCreate(s.ConversationID)
	if err != nil {
		return nil, err
	}
	results, err := r.recaller.Recall(s.SemanticInput.Text, wm)
	if err != nil {
		return nil, err
	}
	return &Update{RetrievedMemories: results}, nil
}

// reasoningOutput mirrors the JSON shape the reasoning prompt requests, on
// top of the emotion/response/memory_update core.
type reasoningOutput struct {
	ToolCall   *ToolCallSpec `json:"tool_call"`
	ECSRequest *ecsSketch    `json:"ecs_request"`
}

// ecsSketch is the model's form proposal before ids and actions are filled.
type ecsSketch struct {
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Fields      []form.Field  `json:"fields,omitempty"`
	Context     *form.Context `json:"context,omitempty"`
	TTLSeconds  int           `json:"ttl_seconds,omitempty"`
}

func (r *Runner) nodeReasoning(ctx context.Context, s *GraphState) (*Update, error) {
	req := modelcontract.CompletionRequest{
		Model:    r.modelName,
		Messages: r.buildMessages(s),
	}
	resp, err := r.router.Route(ctx, r.modelName, req)
	if err != nil {
		return nil, err
	}

	parsed := emotion.ParseLLMOutput(resp.Content)
	var extra reasoningOutput
	if raw, ok := emotion.ExtractJSON(resp.Content); ok {
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			slog.Debug("Reasoning output carried no structured actions", "error", err)
		}
	}

	update := &Update{DetectedEmotion: &parsed.Emotion}
	if parsed.MemoryUpdate != nil && parsed.MemoryUpdate.ShouldStore {
		update.MemoriesToStore = parsed.MemoryUpdate.Entries
	}

	if extra.ToolCall != nil && extra.ToolCall.Service != "" && r.hostRunning(extra.ToolCall.Service) {
		detail, err := json.Marshal(extra.ToolCall)
		if err != nil {
			return nil, fmt.Errorf("encode tool call: %w", err)
		}
		// The idempotency guard looks at every contract the turn has seen:
		// the completed ones carry the irreversible fingerprints.
		existing := make([]*contract.Contract, 0, len(s.PendingExecutions)+len(s.CompletedExecutions))
		existing = append(existing, s.PendingExecutions...)
		existing = append(existing, s.CompletedExecutions...)
		if !contract.CanCreate(detail, existing) {
			slog.Warn("Refusing duplicate irreversible tool call",
				"service", extra.ToolCall.Service, "method", extra.ToolCall.Method)
			obs := fmt.Sprintf("[%s.%s] %s",
				extra.ToolCall.Service, extra.ToolCall.Method, kerrors.ErrDuplicateAction.Error())
			update.Observation = &obs
			update.ActionRefused = true
			return update, nil
		}
		c := contract.New(contract.ActionToolCall, detail,
			contract.WithIrreversible(extra.ToolCall.Irreversible),
			contract.WithTimeout(extra.ToolCall.TimeoutSeconds))
		update.PendingExecutions = append(update.PendingExecutions, c)
		update.PendingToolCalls = append(update.PendingToolCalls, *extra.ToolCall)
		return update, nil
	}

	if r.features.HITL && extra.ECSRequest != nil && extra.ECSRequest.Title != "" {
		req := r.buildFormRequest(extra.ECSRequest)
		detail, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode form request: %w", err)
		}
		c := contract.New(contract.ActionECSRequest, detail)
		suspended := StatusSuspended
		update.PendingExecutions = append(update.PendingExecutions, c)
		update.ECSRequest = req
		update.ECSFullRequest = req
		update.Status = &suspended
		if parsed.Response != "" {
			update.Response = &parsed.Response
			update.DialogueHistory = append(update.DialogueHistory,
				modelcontract.Message{Role: "assistant", Content: parsed.Response})
			update.Events = append(update.Events, Event{Type: EventText, Data: parsed.Response})
		}
		return update, nil
	}

	update.Response = &parsed.Response
	update.DialogueHistory = append(update.DialogueHistory,
		modelcontract.Message{Role: "assistant", Content: parsed.Response})
	update.Events = append(update.Events,
		Event{Type: EventEmotion, Data: parsed.Emotion},
		Event{Type: EventText, Data: parsed.Response})
	return update, nil
}

func (r *Runner) buildFormRequest(sketch *ecsSketch) *form.Request {
	reqType := form.RequestType(sketch.Type)
	switch reqType {
	case form.TypeForm, form.TypeVisualDisplay, form.TypeImageMemoryConfirm, form.TypeImagePlanConfirm:
	default:
		reqType = form.TypeForm
	}
	ttl := r.formTTL
	if sketch.TTLSeconds > 0 {
		ttl = time.Duration(sketch.TTLSeconds) * time.Second
	}
	req := form.NewRequest(reqType, sketch.Title, sketch.Fields, ttl)
	req.Description = sketch.Description
	req.Context = sketch.Context
	return req
}

func (r *Runner) hostRunning(name string) bool {
	if r.hosts == nil {
		return false
	}
	statuses, err := r.hosts.List()
	if err != nil {
		return false
	}
	for _, st := range statuses {
		if st.Name == name && st.State == toolhost.StateRunning {
			return true
		}
	}
	return false
}

// nodeTools drains pending tool calls, pairing each with its contract by
// (service, method) in FIFO order.
func (r *Runner) nodeTools(ctx context.Context, s *GraphState) (*Update, error) {
	update := &Update{ReplacePendingToolCalls: true}
	var observations []string
	claimed := make(map[string]bool)

	for _, call := range s.PendingToolCalls {
		c := matchContract(s.PendingExecutions, claimed, call.Service, call.Method)
		if c == nil {
			slog.Warn("Tool call has no matching contract", "service", call.Service, "method", call.Method)
		} else {
			claimed[c.ExecutionID] = true
			if err := c.Transition(contract.TriggerStart, contract.ActorToolNode, ""); err != nil {
				slog.Warn("Could not start tool contract", "execution_id", c.ExecutionID, "error", err)
			} else {
				update.ExecutionTrace = append(update.ExecutionTrace, transitionTrace("tools", c))
			}
		}

		// A contract-level timeout narrows the executor's default deadline.
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c != nil && c.TimeoutSeconds > 0 {
			callCtx, cancel = context.WithTimeout(ctx,
				time.Duration(c.TimeoutSeconds*float64(time.Second)))
		}

		res := r.exec.Execute(callCtx, call.Service, call.Method, call.Args)
		cancel()
		record := ToolCallRecord{
			Service: call.Service,
			Method:  call.Method,
			Success: res.Success,
			Result:  res.Result,
			Error:   res.Error,
			At:      time.Now().UTC(),
		}
		update.ToolCallHistory = append(update.ToolCallHistory, record)

		if res.Success {
			observations = append(observations, fmt.Sprintf("[%s.%s] %s", call.Service, call.Method, res.Result))
		} else {
			observations = append(observations, fmt.Sprintf("[%s.%s] error: %s", call.Service, call.Method, res.Error))
		}

		if c != nil {
			trigger := contract.TriggerSucceed
			if res.Success {
				c.Result = res.Result
			} else {
				trigger = contract.TriggerFail
				c.ErrorMessage = res.Error
			}
			if err := c.Transition(trigger, contract.ActorToolNode, res.Error); err != nil {
				slog.Warn("Could not finish tool contract", "execution_id", c.ExecutionID, "error", err)
			} else {
				update.ExecutionTrace = append(update.ExecutionTrace, transitionTrace("tools", c))
			}
			update.CompletedExecutions = append(update.CompletedExecutions, c)
			update.RemovePendingExecutions = append(update.RemovePendingExecutions, c.ExecutionID)
		}
	}

	obs := strings.Join(observations, "\n")
	update.Observation = &obs
	return update, nil
}

// nodeExternalStep suspends the turn on every pending form-request contract.
func (r *Runner) nodeExternalStep(_ context.Context, s *GraphState) (*Update, error) {
	suspended := StatusSuspended
	update := &Update{Status: &suspended}

	for _, c := range s.PendingExecutions {
		if c.ActionType != contract.ActionECSRequest {
			continue
		}
		if err := c.Transition(contract.TriggerStart, contract.ActorECSNode, ""); err != nil {
			slog.Warn("Could not start form contract", "execution_id", c.ExecutionID, "error", err)
			continue
		}
		update.ExecutionTrace = append(update.ExecutionTrace, transitionTrace("external_step", c))
		if err := c.Transition(contract.TriggerSuspend, contract.ActorECSNode, "awaiting user input"); err != nil {
			slog.Warn("Could not suspend form contract", "execution_id", c.ExecutionID, "error", err)
			continue
		}
		update.ExecutionTrace = append(update.ExecutionTrace, transitionTrace("external_step", c))
		update.CompletedExecutions = append(update.CompletedExecutions, c)
		update.RemovePendingExecutions = append(update.RemovePendingExecutions, c.ExecutionID)
	}

	if s.ECSFullRequest != nil {
		r.pending.Put(s.ECSFullRequest, s.ConversationID)
		waiting := s.ECSFullRequest.ID
		update.ActionWaiting = &waiting
		update.Events = append(update.Events, Event{Type: EventHITL, Data: s.ECSFullRequest})
	}
	return update, nil
}

// matchContract finds the first unclaimed pending tool contract whose action
// detail names the same service and method.
func matchContract(pending []*contract.Contract, claimed map[string]bool, service, method string) *contract.Contract {
	for _, c := range pending {
		if claimed[c.ExecutionID] || c.ActionType != contract.ActionToolCall || c.Status != contract.StatusPending {
			continue
		}
		var detail ToolCallSpec
		if err := json.Unmarshal(c.ActionDetail, &detail); err != nil {
			continue
		}
		if detail.Service == service && detail.Method == method {
			return c
		}
	}
	return nil
}

// buildMessages assembles the reasoning conversation: system prompt with
// strategy, memories, and tool surface, then the dialogue so far, then the
// effective input (tool observations take over on re-entry).
func (r *Runner) buildMessages(s *GraphState) []modelcontract.Message {
	var sys strings.Builder
	sys.WriteString(r.systemPrompt)

	if s.EmotionalContext.ModulationInstruction != "" {
		sys.WriteString("\n\n")
		sys.WriteString(s.EmotionalContext.ModulationInstruction)
	}

	if len(s.WorkingMemory.RetrievedMemories) > 0 {
		sys.WriteString("\n\nWhat you remember about the user:\n")
		for _, rm := range s.WorkingMemory.RetrievedMemories {
			fmt.Fprintf(&sys, "- [%s] %s: %s\n", rm.Entry.Category, rm.Entry.Key, rm.Entry.Value)
		}
	}

	if r.hosts != nil {
		if desc := r.hosts.DescribeRunning(); desc != "" {
			sys.WriteString("\n\nAvailable tools:\n")
			sys.WriteString(desc)
			sys.WriteString("\nTo call one, include \"tool_call\": {\"service\", \"method\", \"args\"} in your JSON output.")
		}
	}

	if r.features.HITL && s.IntentResult != nil && s.IntentResult.Category == intent.CategoryFormTrigger {
		sys.WriteString("\n\nIf collecting structured information would help, include \"ecs_request\": " +
			"{\"type\", \"title\", \"fields\": [...], \"context\"} in your JSON output instead of asking inline.")
	}

	sys.WriteString("\n\nAlways answer with a single JSON object: " +
		`{"emotion": {"primary", "category", "confidence", "indicators"}, "response", "memory_update": {"should_store", "entries"}}.`)

	messages := []modelcontract.Message{{Role: "system", Content: sys.String()}}
	messages = append(messages, s.DialogueHistory...)

	if s.Observation != "" {
		messages = append(messages, modelcontract.Message{
			Role:    "tool",
			Content: "Tool results:\n" + s.Observation,
		})
	}
	return messages
}

package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/kokoro/internal/model"
	"github.com/harunnryd/kokoro/internal/model/contract"
)

const classifierPrompt = `You classify one user message into an intent. Reply with JSON only:
{"intent_type": "<preference|fact|pattern|opinion|proactive_inquiry|topic_deepening|emotion_driven|memory_gap|question_to_form|plan_reminder|visual_display|tool_request|normal>", "confidence": <0..1>}

Message: %s`

// Recognizer runs the two intent layers: compiled rules, then an optional
// LLM classifier gated on a confidence threshold.
type Recognizer struct {
	router    model.Router
	modelName string
	threshold float64
}

// NewRecognizer builds a recognizer. A nil router disables layer 2.
func NewRecognizer(router model.Router, modelName string, threshold float64) *Recognizer {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Recognizer{router: router, modelName: modelName, threshold: threshold}
}

// Recognize classifies one message. dynamic carries rules derived from
// running tool hosts. Layer-2 failures fall through to the normal category,
// never up to the caller.
func (r *Recognizer) Recognize(ctx context.Context, message string, dynamic []Rule) Result {
	if res, ok := matchLayer1(message, dynamic); ok {
		return *res
	}

	if r.router != nil && r.modelName != "" {
		if res, ok := r.classify(ctx, message); ok {
			return res
		}
	}

	return Result{Category: CategoryNormal}
}

// RecognizeRules runs only the compiled layer-1 rules, skipping the LLM
// classifier entirely. Callers with the classifier switched off use this so
// keyword-based tool routing keeps working.
func (r *Recognizer) RecognizeRules(message string, dynamic []Rule) Result {
	if res, ok := matchLayer1(message, dynamic); ok {
		return *res
	}
	return Result{Category: CategoryNormal}
}

func (r *Recognizer) classify(ctx context.Context, message string) (Result, bool) {
	resp, err := r.router.Route(ctx, r.modelName, contract.CompletionRequest{
		Model: r.modelName,
		Messages: []contract.Message{
			{Role: "user", Content: fmt.Sprintf(classifierPrompt, message)},
		},
	})
	if err != nil {
		slog.Warn("Intent classifier failed, falling through", "error", err)
		return Result{}, false
	}

	var payload struct {
		IntentType string  `json:"intent_type"`
		Confidence float64 `json:"confidence"`
	}
	text := strings.TrimSpace(resp.Content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		slog.Warn("Intent classifier returned unparseable output", "error", err)
		return Result{}, false
	}

	if payload.Confidence < r.threshold || payload.IntentType == "" || payload.IntentType == "normal" {
		return Result{}, false
	}

	return Result{
		Category:   categoryForIntent(payload.IntentType),
		IntentType: payload.IntentType,
		Confidence: payload.Confidence,
		Source:     "layer2",
	}, true
}

func categoryForIntent(intentType string) Category {
	switch intentType {
	case "preference", "fact", "pattern", "opinion":
		return CategoryMemory
	case "proactive_inquiry", "topic_deepening", "emotion_driven", "memory_gap",
		"question_to_form", "plan_reminder", "visual_display":
		return CategoryFormTrigger
	case "tool_request":
		return CategoryToolCall
	}
	return CategoryNormal
}

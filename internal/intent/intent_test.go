package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kokoro/internal/model/contract"
)

type stubRouter struct {
	reply string
	err   error
}

func (s *stubRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &contract.CompletionResponse{Content: s.reply}, nil
}

func (s *stubRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	return nil, errors.New("embedding not supported")
}

func (s *stubRouter) ListModels() []string             { return nil }
func (s *stubRouter) Health(ctx context.Context) error { return nil }

func TestLayer1_MemoryIntents(t *testing.T) {
	r := NewRecognizer(nil, "", 0.7)

	cases := []struct {
		message    string
		intentType string
	}{
		{"我最喜欢喝咖啡", "preference"},
		{"i really love jazz", "preference"},
		{"我住在上海", "fact"},
		{"我每天晚上跑步", "pattern"},
		{"我觉得这部电影不错", "opinion"},
	}
	for _, tc := range cases {
		res := r.Recognize(context.Background(), tc.message, nil)
		assert.Equal(t, CategoryMemory, res.Category, tc.message)
		assert.Equal(t, tc.intentType, res.IntentType, tc.message)
		assert.Equal(t, 1.0, res.Confidence, tc.message)
		assert.Equal(t, "layer1", res.Source, tc.message)
	}
}

func TestLayer1_FormTriggers(t *testing.T) {
	r := NewRecognizer(nil, "", 0.7)

	res := r.Recognize(context.Background(), "明天早上八点提醒我吃药", nil)
	assert.Equal(t, CategoryFormTrigger, res.Category)
	assert.Equal(t, "plan_reminder", res.IntentType)

	res = r.Recognize(context.Background(), "想认识一下你", nil)
	assert.Equal(t, "proactive_inquiry", res.IntentType)
}

func TestLayer1_DynamicToolRuleWins(t *testing.T) {
	rule, ok := DynamicRule("weather", []string{"天气", "weather"}, 20)
	require.True(t, ok)

	r := NewRecognizer(nil, "", 0.7)
	res := r.Recognize(context.Background(), "今天北京天气怎么样", []Rule{rule})

	assert.Equal(t, CategoryToolCall, res.Category)
	assert.Equal(t, "weather", res.ToolHostName)
	assert.Equal(t, "tool_weather", res.MatchedRule)
}

func TestDynamicRule_EmptyKeywords(t *testing.T) {
	_, ok := DynamicRule("host", []string{" ", ""}, 20)
	assert.False(t, ok)
}

func TestLayer2_AcceptsAboveThreshold(t *testing.T) {
	router := &stubRouter{reply: `{"intent_type":"topic_deepening","confidence":0.85}`}
	r := NewRecognizer(router, "gpt-4o-mini", 0.7)

	res := r.Recognize(context.Background(), "嗯嗯然后呢", nil)
	assert.Equal(t, CategoryFormTrigger, res.Category)
	assert.Equal(t, "topic_deepening", res.IntentType)
	assert.Equal(t, "layer2", res.Source)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
}

func TestLayer2_BelowThresholdFallsThrough(t *testing.T) {
	router := &stubRouter{reply: `{"intent_type":"topic_deepening","confidence":0.4}`}
	r := NewRecognizer(router, "gpt-4o-mini", 0.7)

	res := r.Recognize(context.Background(), "嗯嗯然后呢", nil)
	assert.Equal(t, CategoryNormal, res.Category)
	assert.Empty(t, res.IntentType)
}

func TestLayer2_ErrorFallsThrough(t *testing.T) {
	router := &stubRouter{err: errors.New("upstream 500")}
	r := NewRecognizer(router, "gpt-4o-mini", 0.7)

	res := r.Recognize(context.Background(), "嗯嗯然后呢", nil)
	assert.Equal(t, CategoryNormal, res.Category)
}

func TestLayer2_GarbageOutputFallsThrough(t *testing.T) {
	router := &stubRouter{reply: "i cannot classify this"}
	r := NewRecognizer(router, "gpt-4o-mini", 0.7)

	res := r.Recognize(context.Background(), "嗯嗯然后呢", nil)
	assert.Equal(t, CategoryNormal, res.Category)
}

func TestRecognizeRules_NeverCallsClassifier(t *testing.T) {
	// The router would classify this as a form trigger, but the rules-only
	// entry must not consult it.
	router := &stubRouter{reply: `{"intent_type":"topic_deepening","confidence":0.95}`}
	r := NewRecognizer(router, "gpt-4o-mini", 0.7)

	res := r.RecognizeRules("嗯嗯然后呢", nil)
	assert.Equal(t, CategoryNormal, res.Category)
	assert.Empty(t, res.Source)

	res = r.RecognizeRules("我最喜欢喝咖啡", nil)
	assert.Equal(t, CategoryMemory, res.Category)
	assert.Equal(t, "layer1", res.Source)
}

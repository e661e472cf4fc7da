package emotion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLLMOutput_WellFormed(t *testing.T) {
	out := ParseLLMOutput(`{
		"emotion": {"primary": "happy", "confidence": 0.9, "indicators": ["哈哈"]},
		"response": "真开心!",
		"memory_update": {"should_store": true, "entries": [{"category": "preference", "key": "心情", "value": "开心", "confidence": 0.8}]}
	}`)

	assert.Equal(t, EmotionHappy, out.Emotion.Primary)
	assert.Equal(t, "positive", out.Emotion.Category)
	assert.InDelta(t, 0.9, out.Emotion.Confidence, 1e-9)
	assert.Equal(t, "真开心!", out.Response)
	require.NotNil(t, out.MemoryUpdate)
	assert.True(t, out.MemoryUpdate.ShouldStore)
	require.Len(t, out.MemoryUpdate.Entries, 1)
}

func TestParseLLMOutput_RawTextFallback(t *testing.T) {
	raw := "这不是JSON,只是普通回复。"
	out := ParseLLMOutput(raw)

	assert.Equal(t, raw, out.Response)
	assert.Equal(t, EmotionNeutral, out.Emotion.Primary)
	assert.Nil(t, out.MemoryUpdate)
}

func TestParseLLMOutput_FencedJSON(t *testing.T) {
	out := ParseLLMOutput("```json\n{\"emotion\":{\"primary\":\"sad\",\"confidence\":0.8},\"response\":\"别难过\"}\n```")
	assert.Equal(t, EmotionSad, out.Emotion.Primary)
	assert.Equal(t, "别难过", out.Response)
}

func TestParseLLMOutput_EmbeddedJSON(t *testing.T) {
	out := ParseLLMOutput(`Here is my answer: {"emotion":{"primary":"curious","confidence":0.75},"response":"tell me more"} hope that helps`)
	assert.Equal(t, EmotionCurious, out.Emotion.Primary)
	assert.Equal(t, "tell me more", out.Response)
}

func TestParseLLMOutput_UnknownEmotionDegrades(t *testing.T) {
	out := ParseLLMOutput(`{"emotion":{"primary":"euphoric","confidence":0.95},"response":"ok"}`)

	assert.Equal(t, EmotionNeutral, out.Emotion.Primary)
	assert.Contains(t, out.Emotion.Indicators, "unknown_emotion:euphoric")
}

func TestParseLLMOutput_LowConfidenceDegrades(t *testing.T) {
	out := ParseLLMOutput(`{"emotion":{"primary":"angry","confidence":0.3},"response":"ok"}`)

	assert.Equal(t, EmotionNeutral, out.Emotion.Primary)
	assert.Equal(t, "neutral", out.Emotion.Category)
	assert.Contains(t, out.Emotion.Indicators, "low_confidence:angry")
}

func TestParseLLMOutput_ConfidenceClamped(t *testing.T) {
	out := ParseLLMOutput(`{"emotion":{"primary":"happy","confidence":3.5},"response":"ok"}`)
	assert.Equal(t, 1.0, out.Emotion.Confidence)

	out = ParseLLMOutput(`{"emotion":{"primary":"happy","confidence":-2},"response":"ok"}`)
	assert.Equal(t, 0.0, out.Emotion.Confidence)
	// Negative clamps to 0, which is below the 0.5 floor.
	assert.Equal(t, EmotionNeutral, out.Emotion.Primary)
}

func TestSelectStrategy_Deterministic(t *testing.T) {
	s := SelectStrategy(EmotionSad)
	assert.Equal(t, "gentle", s.Tone)
	assert.False(t, s.ProactiveQuestion)

	// Unknown values use the neutral row.
	assert.Equal(t, SelectStrategy(EmotionNeutral), SelectStrategy(Emotion("bogus")))
}

func TestFormatStrategy(t *testing.T) {
	text := FormatStrategy(SelectStrategy(EmotionCurious))
	assert.Contains(t, text, "engaging")
	assert.Contains(t, text, "400")
	assert.Contains(t, text, "follow-up question")
}

package emotion

import (
	"encoding/json"
	"strings"
)

// rawOutput mirrors the JSON shape the reasoning prompt asks for.
type rawOutput struct {
	Emotion *struct {
		Primary    string   `json:"primary"`
		Category   string   `json:"category"`
		Confidence float64  `json:"confidence"`
		Indicators []string `json:"indicators"`
	} `json:"emotion"`
	Response     string        `json:"response"`
	MemoryUpdate *MemoryUpdate `json:"memory_update"`
}

// ParseLLMOutput normalizes one reasoning response. Unparseable text becomes
// the response verbatim with a neutral emotion and no memory update; the
// caller always gets something usable.
func ParseLLMOutput(text string) *ParsedOutput {
	normalized := cleanModelJSON(text)

	if out, ok := parseOutputJSON(normalized); ok {
		return out
	}
	if extracted := extractFirstBalancedJSON(normalized, '{', '}'); extracted != "" {
		if out, ok := parseOutputJSON(extracted); ok {
			return out
		}
	}

	return &ParsedOutput{Emotion: neutralState(), Response: text}
}

// ExtractJSON salvages the first JSON object out of model output, stripping
// code fences first. ok is false when no object can be found.
func ExtractJSON(text string) (string, bool) {
	normalized := cleanModelJSON(text)
	if json.Valid([]byte(normalized)) && strings.HasPrefix(normalized, "{") {
		return normalized, true
	}
	if extracted := extractFirstBalancedJSON(normalized, '{', '}'); extracted != "" && json.Valid([]byte(extracted)) {
		return extracted, true
	}
	return "", false
}

func parseOutputJSON(raw string) (*ParsedOutput, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var payload rawOutput
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}
	if payload.Response == "" && payload.Emotion == nil {
		return nil, false
	}

	out := &ParsedOutput{
		Emotion:      neutralState(),
		Response:     payload.Response,
		MemoryUpdate: payload.MemoryUpdate,
	}
	if payload.Emotion == nil {
		return out, true
	}

	state := State{
		Primary:    Emotion(strings.ToLower(strings.TrimSpace(payload.Emotion.Primary))),
		Confidence: clamp01(payload.Emotion.Confidence),
		Indicators: payload.Emotion.Indicators,
	}

	if !state.Primary.IsValid() {
		if payload.Emotion.Primary != "" {
			state.Indicators = append(state.Indicators, "unknown_emotion:"+payload.Emotion.Primary)
		}
		state.Primary = EmotionNeutral
	}
	if state.Confidence < 0.5 && state.Primary != EmotionNeutral {
		state.Indicators = append(state.Indicators, "low_confidence:"+string(state.Primary))
		state.Primary = EmotionNeutral
	}
	state.Category = state.Primary.Category()

	out.Emotion = state
	return out, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cleanModelJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractFirstBalancedJSON(input string, open, close byte) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			if ch == '\\' {
				escaped = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				return strings.TrimSpace(input[start : i+1])
			}
		}
	}
	return ""
}

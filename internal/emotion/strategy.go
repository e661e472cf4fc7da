package emotion

import (
	"fmt"
	"strings"
)

// ResponseStrategy shapes the next reasoning call: tone, length ceiling,
// whether memory recall feeds the prompt, and surface style.
type ResponseStrategy struct {
	Tone              string `json:"tone"`
	MaxLength         int    `json:"max_length"`
	UseMemory         bool   `json:"use_memory"`
	ProactiveQuestion bool   `json:"proactive_question"`
	Formality         string `json:"formality"`
	EmojiAllowed      bool   `json:"emoji_allowed"`
}

// Deterministic per-emotion table; no model involvement.
var strategyTable = map[Emotion]ResponseStrategy{
	EmotionHappy:      {Tone: "warm", MaxLength: 300, UseMemory: true, ProactiveQuestion: true, Formality: "casual", EmojiAllowed: true},
	EmotionExcited:    {Tone: "energetic", MaxLength: 300, UseMemory: true, ProactiveQuestion: true, Formality: "casual", EmojiAllowed: true},
	EmotionGrateful:   {Tone: "warm", MaxLength: 200, UseMemory: true, ProactiveQuestion: false, Formality: "casual", EmojiAllowed: true},
	EmotionCurious:    {Tone: "engaging", MaxLength: 400, UseMemory: true, ProactiveQuestion: true, Formality: "casual", EmojiAllowed: false},
	EmotionCalm:       {Tone: "steady", MaxLength: 300, UseMemory: true, ProactiveQuestion: false, Formality: "neutral", EmojiAllowed: false},
	EmotionNeutral:    {Tone: "balanced", MaxLength: 300, UseMemory: true, ProactiveQuestion: false, Formality: "neutral", EmojiAllowed: false},
	EmotionConfused:   {Tone: "patient", MaxLength: 400, UseMemory: true, ProactiveQuestion: true, Formality: "neutral", EmojiAllowed: false},
	EmotionAnxious:    {Tone: "reassuring", MaxLength: 250, UseMemory: true, ProactiveQuestion: false, Formality: "gentle", EmojiAllowed: false},
	EmotionSad:        {Tone: "gentle", MaxLength: 200, UseMemory: true, ProactiveQuestion: false, Formality: "gentle", EmojiAllowed: false},
	EmotionAngry:      {Tone: "calm", MaxLength: 150, UseMemory: false, ProactiveQuestion: false, Formality: "formal", EmojiAllowed: false},
	EmotionFrustrated: {Tone: "supportive", MaxLength: 200, UseMemory: true, ProactiveQuestion: false, Formality: "gentle", EmojiAllowed: false},
	EmotionLonely:     {Tone: "companionable", MaxLength: 300, UseMemory: true, ProactiveQuestion: true, Formality: "gentle", EmojiAllowed: true},
}

// SelectStrategy maps an emotion to its response strategy. Unknown emotions
// get the neutral strategy.
func SelectStrategy(e Emotion) ResponseStrategy {
	if s, ok := strategyTable[e]; ok {
		return s
	}
	return strategyTable[EmotionNeutral]
}

// FormatStrategy renders the strategy as prompt guidance for the next
// reasoning call.
func FormatStrategy(s ResponseStrategy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a %s tone in a %s register.", s.Tone, s.Formality)
	fmt.Fprintf(&b, " Keep the reply under %d characters.", s.MaxLength)
	if s.UseMemory {
		b.WriteString(" Weave in relevant remembered context naturally.")
	}
	if s.ProactiveQuestion {
		b.WriteString(" End with one gentle follow-up question.")
	}
	if !s.EmojiAllowed {
		b.WriteString(" Do not use emoji.")
	}
	return b.String()
}

package emotion

// Emotion is the closed set of primary emotions the engine recognizes.
type Emotion string

const (
	EmotionHappy      Emotion = "happy"
	EmotionExcited    Emotion = "excited"
	EmotionGrateful   Emotion = "grateful"
	EmotionCurious    Emotion = "curious"
	EmotionCalm       Emotion = "calm"
	EmotionNeutral    Emotion = "neutral"
	EmotionConfused   Emotion = "confused"
	EmotionAnxious    Emotion = "anxious"
	EmotionSad        Emotion = "sad"
	EmotionAngry      Emotion = "angry"
	EmotionFrustrated Emotion = "frustrated"
	EmotionLonely     Emotion = "lonely"
)

var emotionCategories = map[Emotion]string{
	EmotionHappy:      "positive",
	EmotionExcited:    "positive",
	EmotionGrateful:   "positive",
	EmotionCurious:    "positive",
	EmotionCalm:       "neutral",
	EmotionNeutral:    "neutral",
	EmotionConfused:   "negative",
	EmotionAnxious:    "negative",
	EmotionSad:        "negative",
	EmotionAngry:      "negative",
	EmotionFrustrated: "negative",
	EmotionLonely:     "negative",
}

// IsValid reports whether e is one of the recognized emotions.
func (e Emotion) IsValid() bool {
	_, ok := emotionCategories[e]
	return ok
}

// Category returns positive, negative, or neutral.
func (e Emotion) Category() string {
	if c, ok := emotionCategories[e]; ok {
		return c
	}
	return "neutral"
}

// State is the parsed emotional read of one model turn.
type State struct {
	Primary    Emotion  `json:"primary"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators,omitempty"`
}

// MemoryUpdateEntry is one memory write the model proposed.
type MemoryUpdateEntry struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// MemoryUpdate carries the model's proposed long-term memory writes.
type MemoryUpdate struct {
	ShouldStore bool                `json:"should_store"`
	Entries     []MemoryUpdateEntry `json:"entries,omitempty"`
}

// ParsedOutput is the normalized result of one reasoning response.
type ParsedOutput struct {
	Emotion      State         `json:"emotion"`
	Response     string        `json:"response"`
	MemoryUpdate *MemoryUpdate `json:"memory_update,omitempty"`
}

func neutralState() State {
	return State{Primary: EmotionNeutral, Category: "neutral", Confidence: 1.0}
}

package intent

import (
	"regexp"
	"sort"
	"strings"
)

// Category groups intents by how the graph reacts to them.
type Category string

const (
	// CategoryMemory marks messages that state or ask about remembered facts.
	CategoryMemory Category = "memory"
	// CategoryFormTrigger marks messages that should open a structured form.
	CategoryFormTrigger Category = "form_trigger"
	// CategoryToolCall marks messages aimed at a running tool host.
	CategoryToolCall Category = "tool_call"
	// CategoryNormal is plain conversation.
	CategoryNormal Category = "normal"
)

// Result is the recognizer's verdict for one message.
type Result struct {
	Category     Category `json:"category"`
	IntentType   string   `json:"intent_type,omitempty"`
	Confidence   float64  `json:"confidence"`
	Source       string   `json:"source,omitempty"`
	MatchedRule  string   `json:"matched_rule,omitempty"`
	ToolHostName string   `json:"tool_host_name,omitempty"`
}

// Rule is one compiled layer-1 matcher. Lower priority values run first.
type Rule struct {
	Name         string
	Pattern      *regexp.Regexp
	IntentType   string
	Category     Category
	Priority     int
	ToolHostName string
}

// staticRules is the built-in, priority-ordered rule list. The three
// families: memory statements, form triggers, and tool-ish requests.
var staticRules = []Rule{
	// Memory intents.
	{Name: "memory_preference", Pattern: regexp.MustCompile(`我(最|比较|更)?(喜欢|爱|讨厌|不喜欢)|i (really )?(like|love|hate|prefer|dislike)`), IntentType: "preference", Category: CategoryMemory, Priority: 10},
	{Name: "memory_fact", Pattern: regexp.MustCompile(`我(的生日|住在|今年|工作|名字|叫)|my (birthday|name|job|home) is|i (live|work) in`), IntentType: "fact", Category: CategoryMemory, Priority: 11},
	{Name: "memory_pattern", Pattern: regexp.MustCompile(`我(每天|每周|经常|通常|习惯)|i (usually|always|often|every (day|week))`), IntentType: "pattern", Category: CategoryMemory, Priority: 12},
	{Name: "memory_opinion", Pattern: regexp.MustCompile(`我(觉得|认为|感觉|相信)|i (think|believe|feel) that`), IntentType: "opinion", Category: CategoryMemory, Priority: 13},

	// Form-triggering intents.
	{Name: "form_plan_reminder", Pattern: regexp.MustCompile(`提醒我|别忘了|记得.*(点|分|号|明天|后天)|remind me|don't forget`), IntentType: "plan_reminder", Category: CategoryFormTrigger, Priority: 30},
	{Name: "form_question", Pattern: regexp.MustCompile(`帮我(填|记录|整理)|问我几个问题|ask me (some )?questions|fill (in|out)`), IntentType: "question_to_form", Category: CategoryFormTrigger, Priority: 31},
	{Name: "form_proactive_inquiry", Pattern: regexp.MustCompile(`认识(一下)?你|介绍一下自己|了解我|get to know (me|you)`), IntentType: "proactive_inquiry", Category: CategoryFormTrigger, Priority: 32},
	{Name: "form_topic_deepening", Pattern: regexp.MustCompile(`多(聊聊|说说|讲讲)|深入(聊|谈)|tell me more about`), IntentType: "topic_deepening", Category: CategoryFormTrigger, Priority: 33},
	{Name: "form_emotion_driven", Pattern: regexp.MustCompile(`我(好|很|太)(难过|开心|累|烦|焦虑)|i('m| am) (so |really )?(sad|happy|tired|anxious|upset)`), IntentType: "emotion_driven", Category: CategoryFormTrigger, Priority: 34},
	{Name: "form_memory_gap", Pattern: regexp.MustCompile(`你(还)?记得.*吗|你知道我|do you remember`), IntentType: "memory_gap", Category: CategoryFormTrigger, Priority: 35},
	{Name: "form_visual_display", Pattern: regexp.MustCompile(`(给我)?(看看|展示|显示)|show me`), IntentType: "visual_display", Category: CategoryFormTrigger, Priority: 36},

	// Tool-call intents without a named host; the model picks the tool.
	{Name: "tool_generic", Pattern: regexp.MustCompile(`帮我(查|搜|算|翻译)|search for|look up|calculate|translate`), IntentType: "tool_request", Category: CategoryToolCall, Priority: 40},
}

// DynamicRule builds a layer-1 rule from a running tool host's trigger
// keywords. Keywords are matched literally, any one of them.
func DynamicRule(hostName string, keywords []string, priority int) (Rule, bool) {
	var quoted []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(kw)))
	}
	if len(quoted) == 0 {
		return Rule{}, false
	}
	return Rule{
		Name:         "tool_" + hostName,
		Pattern:      regexp.MustCompile(strings.Join(quoted, "|")),
		IntentType:   "tool_request",
		Category:     CategoryToolCall,
		Priority:     priority,
		ToolHostName: hostName,
	}, true
}

// matchLayer1 runs the merged rule list in priority order.
func matchLayer1(message string, dynamic []Rule) (*Result, bool) {
	rules := make([]Rule, 0, len(staticRules)+len(dynamic))
	rules = append(rules, staticRules...)
	rules = append(rules, dynamic...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	lower := strings.ToLower(message)
	for _, rule := range rules {
		if rule.Pattern.MatchString(lower) {
			return &Result{
				Category:     rule.Category,
				IntentType:   rule.IntentType,
				Confidence:   1.0,
				Source:       "layer1",
				MatchedRule:  rule.Name,
				ToolHostName: rule.ToolHostName,
			}, true
		}
	}
	return nil, false
}

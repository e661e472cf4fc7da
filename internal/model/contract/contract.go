// Package contract defines the provider-neutral chat shapes the router
// translates to and from each vendor SDK. The reasoning node and the intent
// classifier speak only these types.
package contract

// Message is one chat turn. Tool results reference the originating call via
// ToolCallID; assistant turns that requested tools carry ToolCalls.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// ToolDef advertises a callable tool to the model. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type CompletionResponse struct {
	Content   string      `json:"content"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested invocation; Input is the raw JSON argument
// payload as the provider returned it.
type ToolCall struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

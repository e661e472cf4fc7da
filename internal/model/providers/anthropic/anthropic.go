// Package anthropic adapts the Anthropic Messages API to the router's
// provider-neutral contract types.
package anthropic

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	kerrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 1024

type Provider struct {
	client anthropic.Client
}

func New(apiKey string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Provider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
		Tools:     convertTools(req.Tools),
	})
	if err != nil {
		slog.Warn("Anthropic completion failed", "model", modelName, "error", err)
		return nil, kerrors.Wrap(kerrors.MapError(err), "anthropic completion")
	}

	return convertResponse(msg), nil
}

func (p *Provider) Embed(context.Context, string) ([]float32, error) {
	return nil, kerrors.InvalidInput("anthropic provider has no embedding endpoint")
}

// convertMessages folds the neutral transcript into Anthropic's user/assistant
// alternation. Tool results ride as tool_result blocks on a user turn.
func convertMessages(msgs []contract.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			// System prompts and user turns both travel as user messages; the
			// router keeps the system text first in the transcript.
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func convertTools(defs []contract.ToolDef) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range defs {
		tool := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: map[string]any{}},
		}
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			tool.InputSchema = anthropic.ToolInputSchemaParam{Properties: props}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func convertResponse(msg *anthropic.Message) *contract.CompletionResponse {
	resp := &contract.CompletionResponse{}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			input, _ := json.Marshal(b.Input)
			resp.ToolCalls = append(resp.ToolCalls, &contract.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: string(input),
			})
		}
	}
	return resp
}

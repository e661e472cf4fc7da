// Package gemini adapts the Gemini generate/embed APIs to the router's
// provider-neutral contract types.
package gemini

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	kerrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/model/contract"

	"google.golang.org/genai"
)

const defaultEmbeddingModel = "text-embedding-004"

type Provider struct {
	client *genai.Client
}

func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, kerrors.Wrap(err, "init gemini client")
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	cfg := &genai.GenerateContentConfig{Tools: convertTools(req.Tools)}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, convertMessages(req.Messages), cfg)
	if err != nil {
		slog.Warn("Gemini completion failed", "model", req.Model, "error", err)
		return nil, kerrors.Wrap(kerrors.MapError(err), "gemini completion")
	}
	return convertResponse(resp), nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, defaultEmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.MapError(err), "gemini embedding")
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, kerrors.InvalidModelOutput("gemini embedding returned no values")
	}
	return resp.Embeddings[0].Values, nil
}

// convertMessages maps the neutral transcript onto Gemini roles: assistant
// turns become model turns, tool results become function responses.
func convertMessages(msgs []contract.Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		case "tool":
			var payload map[string]any
			if json.Unmarshal([]byte(m.Content), &payload) != nil {
				payload = map[string]any{"result": m.Content}
			}
			out = append(out, &genai.Content{Role: "function", Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.ToolCallID,
					Response: payload,
				},
			}}})
		default:
			out = append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return out
}

func convertTools(defs []contract.ToolDef) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	var decls []*genai.FunctionDeclaration
	for _, t := range defs {
		var schema genai.Schema
		if raw, err := json.Marshal(t.Parameters); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertResponse(resp *genai.GenerateContentResponse) *contract.CompletionResponse {
	out := &contract.CompletionResponse{}
	if resp == nil {
		return out
	}

	for _, fc := range resp.FunctionCalls() {
		args, _ := json.Marshal(fc.Args)
		id := fc.ID
		if id == "" {
			id = fc.Name
		}
		out.ToolCalls = append(out.ToolCalls, &contract.ToolCall{
			ID:    id,
			Name:  fc.Name,
			Input: string(args),
		})
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			out.Content += part.Text
		}
	}
	return out
}

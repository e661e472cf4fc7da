package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/kokoro/internal/config"
	"github.com/harunnryd/kokoro/internal/model/contract"
)

type fakeProvider struct {
	name  string
	reply string
	fail  bool
	calls int
}

func (f *fakeProvider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("upstream exploded")
	}
	return &contract.CompletionResponse{Content: f.reply}, nil
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding not supported")
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeProvider) Name() string                     { return f.name }
func (f *fakeProvider) Type() string                     { return "fake" }
func (f *fakeProvider) Health(ctx context.Context) error { return nil }

func newTestRouter(cfg config.ModelsConfig, providers map[string]Provider) *DefaultRouter {
	return &DefaultRouter{cfg: cfg, providers: providers}
}

func TestRegistryFromChatSettings(t *testing.T) {
	cfg := config.ModelsConfig{
		APIBase:     "https://example.test/v1",
		APIKey:      "sk-test",
		Model:       "main-model",
		VisionModel: "vision-model",
		Embedding:   "embed-model",
	}

	entries := registryFromChatSettings(cfg)
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, "openai", e.Provider)
		assert.Equal(t, "https://example.test/v1", e.BaseURL)
		assert.Equal(t, "sk-test", e.APIKey)
	}
	assert.Equal(t, "main-model", entries[0].Name)

	// Shared names collapse into one entry.
	cfg.VisionModel = "main-model"
	cfg.Embedding = "main-model"
	assert.Len(t, registryFromChatSettings(cfg), 1)
}

func TestRoute_FallsBackOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: true}
	backup := &fakeProvider{name: "backup", reply: "from backup"}

	r := newTestRouter(
		config.ModelsConfig{Fallback: "backup", MaxFallbackAttempts: 2},
		map[string]Provider{"primary": primary, "backup": backup},
	)

	resp, err := r.Route(context.Background(), "primary", contract.CompletionRequest{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, backup.calls)
}

func TestRoute_FallbackItselfFailing(t *testing.T) {
	backup := &fakeProvider{name: "backup", fail: true}

	r := newTestRouter(
		config.ModelsConfig{Fallback: "backup", MaxFallbackAttempts: 2},
		map[string]Provider{"backup": backup},
	)

	_, err := r.Route(context.Background(), "backup", contract.CompletionRequest{Model: "backup"})
	assert.Error(t, err)
	assert.Equal(t, 1, backup.calls)
}

func TestRoute_UnknownModelResolvesFallback(t *testing.T) {
	backup := &fakeProvider{name: "backup", reply: "ok"}

	r := newTestRouter(
		config.ModelsConfig{Fallback: "backup"},
		map[string]Provider{"backup": backup},
	)

	resp, err := r.Route(context.Background(), "ghost-model", contract.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestRouteEmbedding_SkipsUnsupported(t *testing.T) {
	noEmbed := &fakeProvider{name: "chat", fail: true}
	embed := &fakeProvider{name: "embedder"}

	r := newTestRouter(
		config.ModelsConfig{Embedding: "embedder"},
		map[string]Provider{"chat": noEmbed, "embedder": embed},
	)

	vec, err := r.RouteEmbedding(context.Background(), "chat", "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
}

func TestListModels_Sorted(t *testing.T) {
	r := newTestRouter(config.ModelsConfig{}, map[string]Provider{
		"zeta": &fakeProvider{}, "alpha": &fakeProvider{},
	})
	assert.Equal(t, []string{"alpha", "zeta"}, r.ListModels())
}

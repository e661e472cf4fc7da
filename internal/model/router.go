package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/kokoro/internal/config"
	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/logger"
	"github.com/harunnryd/kokoro/internal/model/contract"
	anthropicProvider "github.com/harunnryd/kokoro/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/kokoro/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/kokoro/internal/model/providers/openai"
)

// DefaultRouter implements Router over the configured provider registry.
type DefaultRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRouter builds providers from the registry. When the registry is empty
// the flat chat settings (api_base/api_key/model/vision_model) synthesize
// OpenAI-compatible entries, which is how chat_config.json-only setups run.
func NewRouter(cfg config.ModelsConfig) (*DefaultRouter, error) {
	if len(cfg.Registry) == 0 {
		cfg.Registry = registryFromChatSettings(cfg)
	}
	if cfg.Fallback == "" {
		cfg.Fallback = cfg.Model
	}

	router := &DefaultRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}
	if err := router.initProviders(); err != nil {
		return nil, err
	}
	return router, nil
}

func registryFromChatSettings(cfg config.ModelsConfig) []config.ModelRegistry {
	var entries []config.ModelRegistry
	add := func(name string) {
		if name == "" {
			return
		}
		entries = append(entries, config.ModelRegistry{
			Name:     name,
			Provider: "openai",
			BaseURL:  cfg.APIBase,
			APIKey:   cfg.APIKey,
		})
	}
	add(cfg.Model)
	if cfg.VisionModel != cfg.Model {
		add(cfg.VisionModel)
	}
	if cfg.Embedding != cfg.Model && cfg.Embedding != cfg.VisionModel {
		add(cfg.Embedding)
	}
	return entries
}

// Route routes a completion request to the provider registered for model.
func (r *DefaultRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	sessionID := logger.GetSessionID(ctx)

	slog.Debug("Routing completion request", "model", model, "session", sessionID)

	provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.executeWithFallback(ctx, model, provider, req, sessionID)
}

// RouteEmbedding tries the requested model, then the fallback, then every
// remaining provider in name order, skipping providers without embeddings.
func (r *DefaultRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	tryModels := r.embeddingTryOrder(model)
	var lastErr error

	for _, tryModel := range tryModels {
		select {
		case <-ctx.Done():
			return nil, kokoroErrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			slog.Warn("Embedding unsupported by provider, trying next model", "model", tryModel, "error", err)
			continue
		}

		lastErr = err
		slog.Warn("Embedding failed, trying next model", "model", tryModel, "error", err)
	}

	if lastErr != nil {
		return nil, kokoroErrors.Wrap(lastErr, "embedding failed")
	}
	return nil, kokoroErrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+3)
	order := make([]string, 0, len(r.providers)+3)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Embedding)
	appendUnique(r.cfg.Fallback)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented") ||
		strings.Contains(msg, "not support embeddings")
}

// ListModels returns all registered model names.
func (r *DefaultRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

// Health checks every registered provider.
func (r *DefaultRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return kokoroErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}
	return nil
}

func (r *DefaultRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Info("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return kokoroErrors.Internal("no providers initialized")
	}
	return nil
}

func (r *DefaultRouter) resolveProvider(ctx context.Context, model string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, kokoroErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()

	if exists {
		return provider, nil
	}

	slog.Warn("Model not found", "model", model)

	if r.cfg.Fallback != "" && model != r.cfg.Fallback {
		slog.Info("Trying fallback model", "model", model, "fallback", r.cfg.Fallback)

		fallbackProvider, fallbackExists := r.providers[r.cfg.Fallback]
		if fallbackExists {
			return fallbackProvider, nil
		}
	}

	return nil, kokoroErrors.NotFound(fmt.Sprintf("model %s not found", model))
}

func (r *DefaultRouter) executeWithFallback(ctx context.Context, model string, provider Provider, req contract.CompletionRequest, sessionID string) (*contract.CompletionResponse, error) {
	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts < 1 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}

	currentModel := model
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, kokoroErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		resp, err := currentProvider.Generate(ctx, req)
		if err == nil {
			slog.Debug("Request completed", "model", currentModel, "attempt", attempt+1, "session", sessionID)
			return resp, nil
		}

		slog.Error("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err)

		if r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			return nil, kokoroErrors.MapError(err)
		}

		fallbackProvider, exists := r.providers[r.cfg.Fallback]
		if !exists {
			return nil, kokoroErrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
		}

		slog.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)
		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, kokoroErrors.Internal("fallback exhausted")
}

func (r *DefaultRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(entry.APIKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "openai",
		}, nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434/v1"
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(apiKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "ollama",
		}, nil

	case "anthropic":
		return &ProviderAdapter{
			provider:     anthropicProvider.New(entry.APIKey),
			name:         entry.Name,
			providerType: "anthropic",
		}, nil

	case "gemini":
		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, kokoroErrors.Wrap(err, "failed to create Gemini provider")
		}

		return &ProviderAdapter{
			provider:     provider,
			name:         entry.Name,
			providerType: "gemini",
		}, nil

	default:
		return nil, kokoroErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}

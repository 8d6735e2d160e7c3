package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/internal/config"
	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/logger"
	"github.com/parleyhq/parley/internal/model/contract"
	anthropicProvider "github.com/parleyhq/parley/internal/model/providers/anthropic"
	geminiProvider "github.com/parleyhq/parley/internal/model/providers/gemini"
	openaiProvider "github.com/parleyhq/parley/internal/model/providers/openai"
)

// DefaultRouter implements the Router interface
type DefaultRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRouter creates a new model router from the registry configuration
func NewRouter(cfg config.ModelsConfig) (*DefaultRouter, error) {
	router := &DefaultRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// Route routes a completion request to the appropriate provider
func (r *DefaultRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	traceID := logger.GetTraceID(ctx)

	slog.Debug("Routing completion request", "model", model, "trace_id", traceID, "session_id", logger.GetSessionID(ctx))

	provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.executeWithFallback(ctx, model, provider, req, traceID)
}

// RouteStream routes a streaming request. When the resolved provider has no
// native token streaming, the fallback model is tried before giving up.
func (r *DefaultRouter) RouteStream(ctx context.Context, model string, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	traceID := logger.GetTraceID(ctx)

	slog.Debug("Routing stream request", "model", model, "trace_id", traceID, "session_id", logger.GetSessionID(ctx))

	var lastErr error
	for _, tryModel := range r.streamTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, parleyErrors.Wrap(ctx.Err(), "stream request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		streamReq := req
		streamReq.Model = tryModel
		chunks, err := provider.Stream(ctx, streamReq)
		if err == nil {
			return chunks, nil
		}

		if parleyErrors.IsCategory(err, parleyErrors.ErrStreamUnsupported) {
			slog.Warn("Streaming unsupported by provider, trying next model", "model", tryModel, "trace_id", traceID)
			continue
		}

		lastErr = err
		slog.Warn("Stream failed for model, trying next model", "model", tryModel, "error", err, "trace_id", traceID)
	}

	if lastErr != nil {
		return nil, parleyErrors.WrapWithCategory(lastErr, "stream failed", parleyErrors.ErrInternal)
	}

	return nil, parleyErrors.NotFound("no stream-capable model configured")
}

func (r *DefaultRouter) streamTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, 2)
	order := make([]string, 0, 2)

	for _, name := range []string{requestedModel, r.cfg.Default, r.cfg.Fallback} {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	return order
}

// ListModels returns all registered model names
func (r *DefaultRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}

	return models
}

// Health checks the health of the router and its providers
func (r *DefaultRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return parleyErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
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
		return parleyErrors.Internal("no providers initialized")
	}

	return nil
}

// resolveProvider resolves a provider by model name with fallback
func (r *DefaultRouter) resolveProvider(ctx context.Context, model string) (Provider, error) {
	select {
	case <-ctx.Done():
		return nil, parleyErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	provider, exists := r.providers[model]
	r.mu.RUnlock()

	if !exists {
		slog.Warn("Model not found", "model", model)

		if r.cfg.Fallback != "" && model != r.cfg.Fallback {
			slog.Info("Trying fallback model", "model", model, "fallback", r.cfg.Fallback)

			fallbackProvider, fallbackExists := r.providers[r.cfg.Fallback]
			if !fallbackExists {
				return nil, parleyErrors.NotFound(fmt.Sprintf("model %s not found", model))
			}

			return fallbackProvider, nil
		}

		return nil, parleyErrors.NotFound(fmt.Sprintf("model %s not found", model))
	}

	return provider, nil
}

// executeWithFallback executes a request with fallback logic
func (r *DefaultRouter) executeWithFallback(ctx context.Context, model string, provider Provider, req contract.CompletionRequest, traceID string) (*contract.CompletionResponse, error) {
	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	currentModel := model
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, parleyErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		attemptReq := req
		attemptReq.Model = currentModel
		resp, err := currentProvider.Generate(ctx, attemptReq)
		if err == nil {
			slog.Debug("Request completed", "model", currentModel, "attempt", attempt+1, "trace_id", traceID)
			return resp, nil
		}

		slog.Error("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err)

		if r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			return nil, parleyErrors.WrapWithCategory(err, "provider request failed", parleyErrors.ErrInternal)
		}

		slog.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)

		fallbackProvider, exists := r.providers[r.cfg.Fallback]
		if !exists {
			return nil, parleyErrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
		}

		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, parleyErrors.Internal("fallback exhausted")
}

// createProvider creates a provider instance based on a registry entry
func (r *DefaultRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, parleyErrors.InvalidInput("API key required for OpenAI provider")
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(entry.APIKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "openai",
		}, nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}

		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}

		return &ProviderAdapter{
			provider:     openaiProvider.New(apiKey, baseURL, entry.Name),
			name:         entry.Name,
			providerType: "ollama",
		}, nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, parleyErrors.InvalidInput("API key required for Anthropic provider")
		}

		return &ProviderAdapter{
			provider:     anthropicProvider.New(entry.APIKey),
			name:         entry.Name,
			providerType: "anthropic",
		}, nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, parleyErrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, parleyErrors.WrapWithCategory(err, "failed to create Gemini provider", parleyErrors.ErrInternal)
		}

		return &ProviderAdapter{
			provider:     provider,
			name:         entry.Name,
			providerType: "gemini",
		}, nil

	default:
		return nil, parleyErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}

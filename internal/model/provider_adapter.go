package model

import (
	"context"

	"github.com/parleyhq/parley/internal/model/contract"
)

type generator interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, req contract.CompletionRequest) (<-chan contract.StreamChunk, error)
	Name() string
}

// ProviderAdapter wraps provider-specific implementations to satisfy model.Provider.
type ProviderAdapter struct {
	provider     generator
	name         string
	providerType string
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	return a.provider.Generate(ctx, req)
}

func (a *ProviderAdapter) Stream(ctx context.Context, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	return a.provider.Stream(ctx, req)
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}

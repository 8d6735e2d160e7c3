package model

import (
	"context"

	"github.com/parleyhq/parley/internal/model/contract"
)

type Router interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	RouteStream(ctx context.Context, model string, req contract.CompletionRequest) (<-chan contract.StreamChunk, error)
	ListModels() []string
	Health(ctx context.Context) error
}

type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	// Stream returns a channel of cumulative-content chunks. Providers without
	// native token streaming return ErrStreamUnsupported.
	Stream(ctx context.Context, req contract.CompletionRequest) (<-chan contract.StreamChunk, error)
	Name() string
	Type() string
	Health(ctx context.Context) error
}

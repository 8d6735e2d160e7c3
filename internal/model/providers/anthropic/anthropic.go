package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/parleyhq/parley/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type Provider struct {
	client anthropic.Client
}

const defaultMaxTokens = 1024

func New(apiKey string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: client}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) buildParams(req contract.CompletionRequest) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = string(anthropic.ModelClaude3_7SonnetLatest)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	resp := &contract.CompletionResponse{}
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			resp.Content += b.Text
		}
	}

	return resp, nil
}

func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	out := make(chan contract.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var content strings.Builder
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok {
				continue
			}
			content.WriteString(text.Text)

			select {
			case out <- contract.StreamChunk{Content: content.String()}:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case out <- contract.StreamChunk{Content: content.String(), Err: fmt.Errorf("anthropic stream: %w", err)}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case out <- contract.StreamChunk{Content: content.String(), Done: true}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

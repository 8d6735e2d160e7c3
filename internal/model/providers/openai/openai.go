package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parleyhq/parley/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		baseURL = strings.TrimSuffix(baseURL, "/")
		cfg.BaseURL = baseURL
	}

	client := openai.NewClientWithConfig(cfg)
	return &Provider{client: client, model: model}
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) buildRequest(req contract.CompletionRequest) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if chatReq.Model == "" {
		chatReq.Model = p.model
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	return chatReq
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	return &contract.CompletionResponse{Content: resp.Choices[0].Message.Content}, nil
}

// Stream emits cumulative content: each chunk carries the text accumulated so
// far, with a final Done chunk once the upstream stream closes.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest) (<-chan contract.StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai stream failed: %w", err)
	}

	out := make(chan contract.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		var content strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				select {
				case out <- contract.StreamChunk{Content: content.String(), Done: true}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case out <- contract.StreamChunk{Content: content.String(), Err: fmt.Errorf("openai stream recv: %w", err)}:
				case <-ctx.Done():
				}
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			content.WriteString(resp.Choices[0].Delta.Content)

			select {
			case out <- contract.StreamChunk{Content: content.String()}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

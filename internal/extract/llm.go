package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	parleyErrors "github.com/parleyhq/parley/internal/errors"
	"github.com/parleyhq/parley/internal/model"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

const extractionSystemPrompt = `You extract structured form fields from a conversation transcript.
You are given the field definitions and the full transcript.
Return a JSON object mapping field id to {"value": string, "confidence": number 0-100}.
Include only fields the visitor has actually provided. Do not invent values.
Return the raw JSON object with no markdown fences or commentary.`

// LLMExtractor asks a language model to pull field values out of the
// transcript. Malformed output surfaces as ErrInvalidModelOutput; the
// Coordinator decides what to do about it.
type LLMExtractor struct {
	router model.Router
	model  string
}

func NewLLMExtractor(router model.Router, modelName string) *LLMExtractor {
	return &LLMExtractor{router: router, model: modelName}
}

type llmFieldResult struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (e *LLMExtractor) ExtractFields(ctx context.Context, messages []contract.Message, s *schema.Schema) (map[string]ExtractedField, error) {
	fieldsJSON, err := json.Marshal(s.Fields)
	if err != nil {
		return nil, parleyErrors.Wrap(err, "marshal schema fields")
	}

	var transcript strings.Builder
	for _, m := range messages {
		role := "visitor"
		if m.Role == "assistant" {
			role = "agent"
		}
		fmt.Fprintf(&transcript, "%s: %s\n", role, m.Content)
	}

	req := contract.CompletionRequest{
		Model:    e.model,
		System:   extractionSystemPrompt,
		JSONMode: true,
		Messages: []contract.Message{
			{Role: "user", Content: fmt.Sprintf("Fields:\n%s\n\nTranscript:\n%s", fieldsJSON, transcript.String())},
		},
	}

	resp, err := e.router.Route(ctx, e.model, req)
	if err != nil {
		return nil, parleyErrors.WrapWithCategory(err, "llm extraction request", parleyErrors.ErrExtraction)
	}

	parsed, err := parseExtractionResponse(resp.Content)
	if err != nil {
		return nil, err
	}

	results := make(map[string]ExtractedField, len(parsed))
	for fieldID, r := range parsed {
		// Extracted keys must stay within the schema.
		if _, known := s.FieldByID(fieldID); !known {
			continue
		}
		value := strings.TrimSpace(r.Value)
		if value == "" {
			continue
		}
		results[fieldID] = ExtractedField{
			FieldID:    fieldID,
			Value:      value,
			Confidence: clampConfidence(r.Confidence),
			Source:     SourceLLM,
		}
	}

	return results, nil
}

func parseExtractionResponse(content string) (map[string]llmFieldResult, error) {
	trimmed := strings.TrimSpace(content)
	// Some models wrap JSON in markdown fences despite instructions.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var parsed map[string]llmFieldResult
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, parleyErrors.InvalidModelOutput(fmt.Sprintf("parse extraction response: %v", err))
	}
	return parsed, nil
}

func clampConfidence(c float64) int {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return int(c)
	}
}

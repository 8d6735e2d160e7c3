// Package extract derives structured field values from a conversation
// transcript. The primary extractor is LLM-backed; a deterministic pattern
// extractor backs it up, so extraction degradation is never visible to the
// visitor.
package extract

import (
	"context"

	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

type Source string

const (
	SourceLLM      Source = "llm"
	SourceFallback Source = "fallback"
)

// ExtractedField is one candidate value for a schema field. Confidence is
// 0-100; fallback results carry 100 since they are deterministic pattern
// matches, not probabilistic guesses.
type ExtractedField struct {
	FieldID    string `json:"fieldId"`
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	Source     Source `json:"source"`
}

// PrimaryExtractor is the LLM-backed extraction strategy. It may fail; the
// Coordinator handles degradation.
type PrimaryExtractor interface {
	ExtractFields(ctx context.Context, messages []contract.Message, s *schema.Schema) (map[string]ExtractedField, error)
}

// FallbackExtractor is the deterministic safety net: pure, total, never blocks.
type FallbackExtractor interface {
	Extract(messages []contract.Message, s *schema.Schema) map[string]string
}

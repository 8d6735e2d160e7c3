package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

type stubPrimary struct {
	results map[string]ExtractedField
	err     error
}

func (s *stubPrimary) ExtractFields(ctx context.Context, messages []contract.Message, sc *schema.Schema) (map[string]ExtractedField, error) {
	return s.results, s.err
}

func TestCoordinatorDropsLowConfidence(t *testing.T) {
	primary := &stubPrimary{results: map[string]ExtractedField{
		"email":  {FieldID: "email", Value: "jane@example.com", Confidence: 90, Source: SourceLLM},
		"budget": {FieldID: "budget", Value: "maybe 5000?", Confidence: 40, Source: SourceLLM},
	}}
	c := NewCoordinator(primary, NewPatternExtractor(), config.ExtractionConfig{ConfidenceThreshold: 70})

	results := c.ExtractFields(context.Background(), nil, leadSchema())

	assert.Len(t, results, 1)
	assert.Equal(t, "jane@example.com", results["email"].Value)
	assert.Equal(t, SourceLLM, results["email"].Source)
}

func TestCoordinatorThresholdBoundary(t *testing.T) {
	primary := &stubPrimary{results: map[string]ExtractedField{
		"email": {FieldID: "email", Value: "jane@example.com", Confidence: 70, Source: SourceLLM},
	}}
	c := NewCoordinator(primary, NewPatternExtractor(), config.ExtractionConfig{ConfidenceThreshold: 70})

	results := c.ExtractFields(context.Background(), nil, leadSchema())
	assert.Contains(t, results, "email")
}

func TestCoordinatorFallsBackOnPrimaryError(t *testing.T) {
	primary := &stubPrimary{err: errors.New("model unavailable")}
	c := NewCoordinator(primary, NewPatternExtractor(), config.ExtractionConfig{})

	results := c.ExtractFields(context.Background(), []contract.Message{
		{Role: "user", Content: "reach me at jane@example.com"},
	}, leadSchema())

	assert.Equal(t, "jane@example.com", results["email"].Value)
	assert.Equal(t, 100, results["email"].Confidence)
	assert.Equal(t, SourceFallback, results["email"].Source)
}

func TestCoordinatorFallbackIsAtomic(t *testing.T) {
	// A failing primary must contribute nothing: the whole result set comes
	// from the pattern fallback.
	primary := &stubPrimary{
		results: map[string]ExtractedField{"budget": {FieldID: "budget", Value: "9999", Confidence: 95}},
		err:     errors.New("timeout"),
	}
	c := NewCoordinator(primary, NewPatternExtractor(), config.ExtractionConfig{})

	results := c.ExtractFields(context.Background(), []contract.Message{
		{Role: "user", Content: "jane@example.com"},
	}, leadSchema())

	for _, field := range results {
		assert.Equal(t, SourceFallback, field.Source)
	}
	_, ok := results["budget"]
	assert.False(t, ok)
}

func TestCoordinatorNoPrimary(t *testing.T) {
	c := NewCoordinator(nil, NewPatternExtractor(), config.ExtractionConfig{})

	results := c.ExtractFields(context.Background(), []contract.Message{
		{Role: "user", Content: "jane@example.com"},
	}, leadSchema())

	assert.Equal(t, SourceFallback, results["email"].Source)
}

package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

// Coordinator composes the two extraction strategies: one LLM attempt with
// confidence thresholding, then an atomic fall back to pattern matching on any
// failure. Extraction never fails from the caller's point of view.
type Coordinator struct {
	primary   PrimaryExtractor
	fallback  FallbackExtractor
	threshold int
	timeout   time.Duration
}

func NewCoordinator(primary PrimaryExtractor, fallback FallbackExtractor, cfg config.ExtractionConfig) *Coordinator {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = config.DefaultExtractionConfidenceThreshold
	}

	timeout, err := config.DurationOrDefault(cfg.RequestTimeout, config.DefaultExtractionRequestTimeout)
	if err != nil {
		timeout, _ = config.DurationOrDefault(config.DefaultExtractionRequestTimeout, "")
	}

	return &Coordinator{
		primary:   primary,
		fallback:  fallback,
		threshold: threshold,
		timeout:   timeout,
	}
}

// ExtractFields returns accepted candidate values for the transcript. LLM
// results below the confidence threshold are dropped; on any primary failure
// the pattern fallback supplies the whole result set instead.
func (c *Coordinator) ExtractFields(ctx context.Context, messages []contract.Message, s *schema.Schema) map[string]ExtractedField {
	if c.primary != nil {
		primaryCtx, cancel := context.WithTimeout(ctx, c.timeout)
		results, err := c.primary.ExtractFields(primaryCtx, messages, s)
		cancel()

		if err == nil {
			accepted := make(map[string]ExtractedField, len(results))
			for id, field := range results {
				if field.Confidence >= c.threshold {
					accepted[id] = field
				} else {
					slog.Debug("Dropping low-confidence extraction", "field", id, "confidence", field.Confidence, "threshold", c.threshold)
				}
			}
			return accepted
		}

		slog.Warn("Primary extraction failed, using pattern fallback", "error", err)
	}

	values := c.fallback.Extract(messages, s)
	results := make(map[string]ExtractedField, len(values))
	for id, value := range values {
		results[id] = ExtractedField{
			FieldID:    id,
			Value:      value,
			Confidence: 100,
			Source:     SourceFallback,
		}
	}
	return results
}

// Package completion derives progress over a session's required fields.
package completion

import (
	"context"

	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/validate"
)

// Progress summarizes required-field completion for a session.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Rate      float64 `json:"rate"`
}

// Tracker counts required fields with an accepted, valid value. The session's
// schema id doubles as the validation form component.
type Tracker struct {
	engine *validate.Engine
}

func NewTracker(engine *validate.Engine) *Tracker {
	return &Tracker{engine: engine}
}

// Measure returns completed/total counts and a 0-100 completion rate. Rate is
// 0 when the schema has no required fields.
func (t *Tracker) Measure(ctx context.Context, formComponent string, extracted map[string]string, s *schema.Schema) Progress {
	required := s.RequiredFields()

	progress := Progress{Total: len(required)}
	for _, field := range required {
		value, ok := extracted[field.ID]
		if !ok || value == "" {
			continue
		}
		if t.fieldValid(ctx, formComponent, field.ID, value) {
			progress.Completed++
		}
	}

	if progress.Total > 0 {
		progress.Rate = float64(progress.Completed) / float64(progress.Total) * 100
	}

	return progress
}

// NextRequiredField returns the first required field in schema order without
// an accepted value, or nil when every required field is filled.
func (t *Tracker) NextRequiredField(ctx context.Context, formComponent string, extracted map[string]string, s *schema.Schema) *schema.Field {
	for _, field := range s.RequiredFields() {
		value, ok := extracted[field.ID]
		if ok && value != "" && t.fieldValid(ctx, formComponent, field.ID, value) {
			continue
		}
		f := field
		return &f
	}
	return nil
}

func (t *Tracker) fieldValid(ctx context.Context, formComponent, fieldID, value string) bool {
	if t.engine == nil {
		return true
	}
	return t.engine.Validate(ctx, formComponent, fieldID, value).Valid
}

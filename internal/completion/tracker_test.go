package completion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/internal/schema"
	"github.com/parleyhq/parley/internal/validate"
)

type stubRuleSource struct {
	rules []validate.Rule
}

func (s *stubRuleSource) RulesFor(ctx context.Context, formComponent string) ([]validate.Rule, error) {
	return s.rules, nil
}

func newTracker(rules ...validate.Rule) *Tracker {
	return NewTracker(validate.NewEngine(&stubRuleSource{rules: rules}))
}

func contactSchema() *schema.Schema {
	return &schema.Schema{
		ID: "contact",
		Fields: []schema.Field{
			{ID: "name", Label: "Name", Type: schema.FieldText, Required: true},
			{ID: "email", Label: "Email", Type: schema.FieldEmail, Required: true},
			{ID: "notes", Label: "Notes", Type: schema.FieldText},
		},
	}
}

func TestMeasureCountsOnlyRequiredFields(t *testing.T) {
	tr := newTracker()

	progress := tr.Measure(context.Background(), "contact", map[string]string{
		"name":  "Jane",
		"notes": "likes widgets",
	}, contactSchema())

	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 2, progress.Total)
	assert.InDelta(t, 50.0, progress.Rate, 0.01)
}

func TestMeasureCompletedNeverExceedsTotal(t *testing.T) {
	tr := newTracker()

	progress := tr.Measure(context.Background(), "contact", map[string]string{
		"name":  "Jane",
		"email": "jane@example.com",
		"notes": "extra",
	}, contactSchema())

	assert.Equal(t, progress.Total, progress.Completed)
	assert.InDelta(t, 100.0, progress.Rate, 0.01)
}

func TestMeasureRateZeroWhenNoRequiredFields(t *testing.T) {
	tr := newTracker()
	sc := &schema.Schema{ID: "optional", Fields: []schema.Field{
		{ID: "notes", Label: "Notes", Type: schema.FieldText},
	}}

	progress := tr.Measure(context.Background(), "optional", map[string]string{"notes": "hi"}, sc)

	assert.Equal(t, 0, progress.Total)
	assert.Zero(t, progress.Rate)
}

func TestMeasureRejectsInvalidValues(t *testing.T) {
	tr := newTracker(validate.Rule{
		ID: "r1", FormComponent: "contact", FieldName: "email",
		Type: validate.RuleEmail, Enabled: true,
	})

	progress := tr.Measure(context.Background(), "contact", map[string]string{
		"name":  "Jane",
		"email": "not-an-email",
	}, contactSchema())

	assert.Equal(t, 1, progress.Completed)
}

func TestNextRequiredFieldFollowsSchemaOrder(t *testing.T) {
	tr := newTracker()
	sc := contactSchema()

	next := tr.NextRequiredField(context.Background(), "contact", nil, sc)
	assert.NotNil(t, next)
	assert.Equal(t, "name", next.ID)

	next = tr.NextRequiredField(context.Background(), "contact", map[string]string{"name": "Jane"}, sc)
	assert.NotNil(t, next)
	assert.Equal(t, "email", next.ID)

	next = tr.NextRequiredField(context.Background(), "contact", map[string]string{
		"name":  "Jane",
		"email": "jane@example.com",
	}, sc)
	assert.Nil(t, next)
}

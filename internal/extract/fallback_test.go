package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

func leadSchema() *schema.Schema {
	return &schema.Schema{
		ID:   "lead-form",
		Name: "Lead Form",
		Fields: []schema.Field{
			{ID: "email", Label: "Email Address", Type: schema.FieldEmail, Required: true},
			{ID: "budget", Label: "Budget", Type: schema.FieldNumber},
			{ID: "start", Label: "Start Date", Type: schema.FieldDate},
			{ID: "plan", Label: "Plan", Type: schema.FieldSelect, Options: []string{"starter", "pro", "enterprise"}},
			{ID: "company", Label: "Company Name", Type: schema.FieldText},
		},
	}
}

func TestPatternExtractorEmail(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{
		{Role: "assistant", Content: "What's your email?"},
		{Role: "user", Content: "Sure, it's jane.doe+leads@example.co.uk thanks"},
	}, leadSchema())

	assert.Equal(t, "jane.doe+leads@example.co.uk", values["email"])
}

func TestPatternExtractorFirstMatchWins(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{
		{Role: "user", Content: "first@example.com"},
		{Role: "user", Content: "second@example.com"},
	}, leadSchema())

	assert.Equal(t, "first@example.com", values["email"])
}

func TestPatternExtractorIgnoresAgentMessages(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{
		{Role: "assistant", Content: "You can reach us at support@parley.dev"},
	}, leadSchema())

	_, ok := values["email"]
	assert.False(t, ok)
}

func TestPatternExtractorNumberAndDate(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{
		{Role: "user", Content: "5000 is what we can spend"},
		{Role: "user", Content: "we'd start on 2026-10-01"},
	}, leadSchema())

	assert.Equal(t, "5000", values["budget"])
	assert.Equal(t, "2026-10-01", values["start"])
}

func TestPatternExtractorSelectOption(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{
		{Role: "user", Content: "I think the Pro tier fits us best"},
	}, leadSchema())

	assert.Equal(t, "pro", values["plan"])
}

func TestPatternExtractorTextNeedsLabelOverlap(t *testing.T) {
	e := NewPatternExtractor()

	// Unrelated chatter should not be captured as the company name.
	values := e.Extract([]contract.Message{
		{Role: "user", Content: "hello there"},
	}, leadSchema())
	_, ok := values["company"]
	assert.False(t, ok)

	values = e.Extract([]contract.Message{
		{Role: "user", Content: "our company is called Acme Widgets"},
	}, leadSchema())
	assert.Equal(t, "our company is called Acme Widgets", values["company"])
}

func TestPatternExtractorShortLabelTokensAreNoise(t *testing.T) {
	e := NewPatternExtractor()
	sc := &schema.Schema{
		ID: "intl-form",
		Fields: []schema.Field{
			{ID: "country", Label: "国名", Type: schema.FieldText},
		},
	}

	// Two runes, six bytes: still too short to anchor a text match.
	values := e.Extract([]contract.Message{
		{Role: "user", Content: "国名について話しましょう"},
	}, sc)

	_, ok := values["country"]
	assert.False(t, ok)
}

func TestPatternExtractorDeterministic(t *testing.T) {
	e := NewPatternExtractor()
	messages := []contract.Message{
		{Role: "user", Content: "jane@example.com, budget 1200, starting 3/15/2026, enterprise plan"},
	}

	first := e.Extract(messages, leadSchema())
	second := e.Extract(messages, leadSchema())
	assert.Equal(t, first, second)
}

func TestPatternExtractorNilSchema(t *testing.T) {
	e := NewPatternExtractor()
	values := e.Extract([]contract.Message{{Role: "user", Content: "hi"}}, nil)
	assert.Empty(t, values)
}

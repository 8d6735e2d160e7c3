package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

type stubRuleSource struct {
	rules []Rule
	err   error
}

func (s *stubRuleSource) RulesFor(ctx context.Context, formComponent string) ([]Rule, error) {
	return s.rules, s.err
}

func TestRequiredFailsOnEmpty(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleRequired, Enabled: true}}

	assert.False(t, Apply(rules, "").Valid)
	assert.False(t, Apply(rules, "   ").Valid)
	assert.True(t, Apply(rules, "value").Valid)
}

func TestNonRequiredRulesPassOnEmpty(t *testing.T) {
	rules := []Rule{
		{ID: "r1", Type: RuleMinLength, Criteria: Criteria{Min: intPtr(5)}, Enabled: true},
		{ID: "r2", Type: RuleEmail, Enabled: true},
		{ID: "r3", Type: RulePattern, Criteria: Criteria{Pattern: `^\d+$`}, Enabled: true},
	}

	assert.True(t, Apply(rules, "").Valid)
}

func TestMinLengthBoundary(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleMinLength, Criteria: Criteria{Min: intPtr(5)}, Enabled: true}}

	assert.True(t, Apply(rules, "abcde").Valid)
	assert.False(t, Apply(rules, "abcd").Valid)
}

func TestMaxLengthBoundary(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleMaxLength, Criteria: Criteria{Max: intPtr(3)}, Enabled: true}}

	assert.True(t, Apply(rules, "abc").Valid)
	assert.False(t, Apply(rules, "abcd").Valid)
}

func TestInvalidPatternFailsOpen(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RulePattern, Criteria: Criteria{Pattern: `([`}, Enabled: true}}

	assert.True(t, Apply(rules, "anything").Valid)
}

func TestEmailRule(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleEmail, Enabled: true}}

	assert.True(t, Apply(rules, "jane@example.com").Valid)
	assert.False(t, Apply(rules, "not-an-email").Valid)
	assert.False(t, Apply(rules, "jane@").Valid)
}

func TestPhoneRule(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RulePhone, Enabled: true}}

	assert.True(t, Apply(rules, "+1 (555) 123-4567").Valid)
	assert.False(t, Apply(rules, "12345").Valid)
}

func TestNumberRule(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleNumber, Enabled: true}}

	assert.True(t, Apply(rules, "42.5").Valid)
	assert.True(t, Apply(rules, "-0.5").Valid)
	assert.False(t, Apply(rules, "forty two").Valid)

	// ParseFloat accepts these, but they are not finite values.
	for _, v := range []string{"Inf", "+Inf", "-Inf", "NaN", "inf", "nan"} {
		assert.False(t, Apply(rules, v).Valid, "value %q", v)
	}
}

func TestCustomErrorMessage(t *testing.T) {
	rules := []Rule{{ID: "r1", Type: RuleRequired, ErrorMessage: "tell us your name", Enabled: true}}

	result := Apply(rules, "")
	assert.Equal(t, []string{"tell us your name"}, result.Errors)
}

func TestErrorsAccumulateAcrossRules(t *testing.T) {
	rules := []Rule{
		{ID: "r1", Type: RuleMinLength, Criteria: Criteria{Min: intPtr(10)}, Enabled: true},
		{ID: "r2", Type: RuleEmail, Enabled: true},
	}

	result := Apply(rules, "short")
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2)
}

func TestMatchRulesFiltersAndOrders(t *testing.T) {
	base := time.Now()
	rules := []Rule{
		{ID: "old-low", FieldName: "email", Priority: 1, Enabled: true, CreatedAt: base.Add(-2 * time.Hour)},
		{ID: "disabled", FieldName: "email", Priority: 9, Enabled: false, CreatedAt: base},
		{ID: "other-field", FieldName: "budget", Priority: 9, Enabled: true, CreatedAt: base},
		{ID: "any-field", FieldName: "", Priority: 5, Enabled: true, CreatedAt: base},
		{ID: "new-low", FieldName: "email", Priority: 1, Enabled: true, CreatedAt: base.Add(-time.Hour)},
	}

	matched := MatchRules(rules, "email")

	ids := make([]string, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"any-field", "new-low", "old-low"}, ids)
}

func TestEngineFailsOpenOnSourceError(t *testing.T) {
	e := NewEngine(&stubRuleSource{err: errors.New("db locked")})

	result := e.Validate(context.Background(), "lead-form", "email", "jane@example.com")
	assert.True(t, result.Valid)
}

func TestEngineValidatesThroughSource(t *testing.T) {
	e := NewEngine(&stubRuleSource{rules: []Rule{
		{ID: "r1", FormComponent: "lead-form", FieldName: "email", Type: RuleEmail, Enabled: true},
	}})

	assert.True(t, e.Validate(context.Background(), "lead-form", "email", "jane@example.com").Valid)
	assert.False(t, e.Validate(context.Background(), "lead-form", "email", "nope").Valid)
}

package validate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	nonDigitPattern = regexp.MustCompile(`\D`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
}

// RuleSource supplies the configured rules for a form component.
type RuleSource interface {
	RulesFor(ctx context.Context, formComponent string) ([]Rule, error)
}

// Engine evaluates a value against the enabled rules matching a form
// component and field, highest priority first.
type Engine struct {
	source RuleSource
}

func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

func (e *Engine) Validate(ctx context.Context, formComponent, fieldName, value string) Result {
	rules, err := e.source.RulesFor(ctx, formComponent)
	if err != nil {
		// Rule lookup failure must not block the visitor; treat as no rules.
		slog.Warn("Rule lookup failed, skipping validation", "form_component", formComponent, "error", err)
		return Result{Valid: true}
	}

	return Apply(MatchRules(rules, fieldName), value)
}

// MatchRules filters to enabled rules scoped to the field (an unset rule
// FieldName matches every field) and orders them priority descending, then
// most recent first.
func MatchRules(rules []Rule, fieldName string) []Rule {
	var matched []Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.FieldName != "" && r.FieldName != fieldName {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched
}

// Apply evaluates the ordered rules against a value, accumulating errors
// across all failing rules.
func Apply(rules []Rule, value string) Result {
	result := Result{Valid: true}

	for _, rule := range rules {
		if msg, ok := checkRule(rule, value); !ok {
			result.Valid = false
			result.Errors = append(result.Errors, msg)
		}
	}

	return result
}

func checkRule(rule Rule, value string) (string, bool) {
	empty := strings.TrimSpace(value) == ""

	if rule.Type == RuleRequired {
		if empty {
			return errorMessage(rule, "This field is required"), false
		}
		return "", true
	}

	// Only an explicit required rule forces a value; everything else passes
	// on empty input.
	if empty {
		return "", true
	}

	switch rule.Type {
	case RuleMinLength:
		if rule.Criteria.Min != nil && len(value) < *rule.Criteria.Min {
			return errorMessage(rule, fmt.Sprintf("Must be at least %d characters", *rule.Criteria.Min)), false
		}

	case RuleMaxLength:
		if rule.Criteria.Max != nil && len(value) > *rule.Criteria.Max {
			return errorMessage(rule, fmt.Sprintf("Must be at most %d characters", *rule.Criteria.Max)), false
		}

	case RulePattern:
		re, err := regexp.Compile(rule.Criteria.Pattern)
		if err != nil {
			// Unparsable patterns fail open rather than blocking input.
			slog.Warn("Invalid rule pattern, treating as valid", "rule", rule.ID, "pattern", rule.Criteria.Pattern)
			return "", true
		}
		if !re.MatchString(value) {
			return errorMessage(rule, "Invalid format"), false
		}

	case RuleEmail:
		if !emailPattern.MatchString(value) {
			return errorMessage(rule, "Invalid email address"), false
		}

	case RuleURL:
		if !isURL(value) {
			return errorMessage(rule, "Invalid URL"), false
		}

	case RulePhone:
		digits := nonDigitPattern.ReplaceAllString(value, "")
		if len(digits) < 10 {
			return errorMessage(rule, "Invalid phone number"), false
		}

	case RuleNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
			return errorMessage(rule, "Must be a number"), false
		}

	case RuleDate:
		if !isDate(value) {
			return errorMessage(rule, "Invalid date"), false
		}

	case RuleCustom:
		// Extension point only; custom rules always pass.
	}

	return "", true
}

func errorMessage(rule Rule, fallback string) string {
	if rule.ErrorMessage != "" {
		return rule.ErrorMessage
	}
	return fallback
}

func isURL(value string) bool {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

func isDate(value string) bool {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return true
		}
	}
	return false
}

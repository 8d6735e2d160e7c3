// Package validate evaluates field values against configurable, prioritized
// rule sets. Validation failures are data, not errors: callers receive an
// accumulated error list and decide how to surface it.
package validate

import "time"

type RuleType string

const (
	RuleRequired  RuleType = "required"
	RuleMinLength RuleType = "min_length"
	RuleMaxLength RuleType = "max_length"
	RulePattern   RuleType = "pattern"
	RuleEmail     RuleType = "email"
	RuleURL       RuleType = "url"
	RulePhone     RuleType = "phone"
	RuleNumber    RuleType = "number"
	RuleDate      RuleType = "date"
	RuleCustom    RuleType = "custom"
)

// Criteria carries the typed parameters for a rule. Only the fields relevant
// to the rule's type are set; the rest stay zero.
type Criteria struct {
	Min     *int   `json:"min,omitempty"`
	Max     *int   `json:"max,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Rule is one validation constraint. An empty FieldName applies the rule to
// every field of its form component.
type Rule struct {
	ID            string    `json:"id"`
	FormComponent string    `json:"formComponent"`
	FieldName     string    `json:"fieldName,omitempty"`
	Type          RuleType  `json:"ruleType"`
	Criteria      Criteria  `json:"criteria"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Enabled       bool      `json:"enabled"`
	Priority      int       `json:"priority"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Result accumulates the outcome of evaluating all matching rules.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/parleyhq/parley/internal/model/contract"
	"github.com/parleyhq/parley/internal/schema"
)

var (
	emailPattern     = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	leadingNumber    = regexp.MustCompile(`^\s*[-+]?\d+(\.\d+)?`)
	isoDatePattern   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	slashDatePattern = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{2,4}`)
)

// PatternExtractor scans visitor messages for type-specific patterns. It is
// pure and deterministic: same transcript and schema always yield the same
// map, and a field is never re-derived once a value exists (first-match-wins
// in transcript order).
type PatternExtractor struct{}

func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

func (e *PatternExtractor) Extract(messages []contract.Message, s *schema.Schema) map[string]string {
	values := make(map[string]string)
	if s == nil {
		return values
	}

	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}

		for _, field := range s.Fields {
			if _, done := values[field.ID]; done {
				continue
			}
			if value, ok := matchField(field, content); ok {
				values[field.ID] = value
			}
		}
	}

	return values
}

func matchField(field schema.Field, content string) (string, bool) {
	switch field.Type {
	case schema.FieldEmail:
		if m := emailPattern.FindString(content); m != "" {
			return m, true
		}

	case schema.FieldNumber:
		if m := leadingNumber.FindString(content); m != "" {
			return strings.TrimSpace(m), true
		}

	case schema.FieldDate:
		if m := isoDatePattern.FindString(content); m != "" {
			return m, true
		}
		if m := slashDatePattern.FindString(content); m != "" {
			return m, true
		}

	case schema.FieldSelect:
		lower := strings.ToLower(content)
		for _, opt := range field.Options {
			if opt != "" && strings.Contains(lower, strings.ToLower(opt)) {
				return opt, true
			}
		}

	default:
		// text and unknown types: take the message verbatim, but only when it
		// appears topically related to the field's label.
		if labelRelated(field.Label, content) {
			return content, true
		}
	}

	return "", false
}

// labelRelated reports whether any significant label token appears in the
// message. Tokens shorter than three runes are too noisy to count.
func labelRelated(label, content string) bool {
	lower := strings.ToLower(content)
	for _, token := range strings.Fields(strings.ToLower(label)) {
		token = strings.Trim(token, ".,:;?!")
		if utf8.RuneCountInString(token) < 3 {
			continue
		}
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

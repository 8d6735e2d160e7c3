// Package schema defines the field schema a conversational agent collects
// against. A schema is immutable once a session has started; drafts may be
// edited freely before launch.
package schema

import (
	"strings"

	"github.com/parleyhq/parley/internal/errors"
)

type FieldType string

const (
	FieldText   FieldType = "text"
	FieldEmail  FieldType = "email"
	FieldNumber FieldType = "number"
	FieldSelect FieldType = "select"
	FieldDate   FieldType = "date"
)

// Field is one unit of data the agent aims to collect from a visitor.
type Field struct {
	ID       string    `json:"id" yaml:"id"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Options  []string  `json:"options,omitempty" yaml:"options,omitempty"`
}

// Schema is an ordered set of field definitions.
type Schema struct {
	ID     string  `json:"id" yaml:"id"`
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// FieldByID returns the field with the given id, or false.
func (s *Schema) FieldByID(id string) (Field, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// RequiredFields returns the required fields in schema order.
func (s *Schema) RequiredFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks structural soundness: non-empty ids, known types, unique ids,
// and options present for select fields.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return errors.InvalidInput("schema has no fields")
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		id := strings.TrimSpace(f.ID)
		if id == "" {
			return errors.InvalidInput("field id is empty")
		}
		if _, dup := seen[id]; dup {
			return errors.InvalidInput("duplicate field id " + id)
		}
		seen[id] = struct{}{}

		switch f.Type {
		case FieldText, FieldEmail, FieldNumber, FieldSelect, FieldDate:
		default:
			return errors.InvalidInput("unknown field type " + string(f.Type) + " for field " + id)
		}

		if f.Type == FieldSelect && len(f.Options) == 0 {
			return errors.InvalidInput("select field " + id + " has no options")
		}
	}

	return nil
}

package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := &Schema{
		ID: "lead-form",
		Fields: []Field{
			{ID: "email", Label: "Email", Type: FieldEmail, Required: true},
			{ID: "plan", Label: "Plan", Type: FieldSelect, Options: []string{"starter", "pro"}},
		},
	}
	assert.NoError(t, valid.Validate())

	empty := &Schema{ID: "empty"}
	assert.Error(t, empty.Validate())

	dup := &Schema{Fields: []Field{
		{ID: "email", Type: FieldEmail},
		{ID: "email", Type: FieldText},
	}}
	assert.Error(t, dup.Validate())

	badType := &Schema{Fields: []Field{{ID: "x", Type: "checkbox"}}}
	assert.Error(t, badType.Validate())

	selectNoOptions := &Schema{Fields: []Field{{ID: "plan", Type: FieldSelect}}}
	assert.Error(t, selectNoOptions.Validate())
}

func TestFieldByIDAndRequiredFields(t *testing.T) {
	s := &Schema{Fields: []Field{
		{ID: "a", Required: true, Type: FieldText},
		{ID: "b", Type: FieldText},
		{ID: "c", Required: true, Type: FieldText},
	}}

	f, ok := s.FieldByID("b")
	assert.True(t, ok)
	assert.Equal(t, "b", f.ID)

	_, ok = s.FieldByID("z")
	assert.False(t, ok)

	required := s.RequiredFields()
	require.Len(t, required, 2)
	assert.Equal(t, "a", required[0].ID)
	assert.Equal(t, "c", required[1].ID)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	content := `
id: contact
name: Contact Form
fields:
  - id: name
    label: Full Name
    type: text
    required: true
  - id: email
    label: Email
    type: email
    required: true
  - id: plan
    label: Plan
    type: select
    options: [starter, pro]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "contact", s.ID)
	require.Len(t, s.Fields, 3)
	assert.Equal(t, FieldSelect, s.Fields[2].Type)
	assert.Equal(t, []string{"starter", "pro"}, s.Fields[2].Options)
}

func TestLoadFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields: []\n"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

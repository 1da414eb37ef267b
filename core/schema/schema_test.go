package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleEntityJSON = `{
	"name": "SimpleEntity",
	"version": "1.0.0",
	"fields": {
		"id":   { "name": "id", "type": "integer", "required": true },
		"name": { "type": "string" }
	},
	"indexes": [
		{ "name": "pk_simple_entity", "fields": ["id"], "type": "primary" }
	]
}`

const parentYAML = `
name: Parent
table: parents
version: "1"
fields:
  id:
    type: integer
  title:
    type: string
    column: title_text
indexes:
  - name: pk_parent
    fields: [id]
    type: primary
relations:
  children:
    kind: one-to-many
    target: Child
    foreignKey: parent_id
    fetch: join
  owner:
    kind: many-to-one
    target: Person
    foreignKey: owner_id
`

func TestParseJSON(t *testing.T) {
	sc, err := Parse([]byte(simpleEntityJSON), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "SimpleEntity", sc.Name)
	assert.Equal(t, "simple_entity", sc.TableName())
	assert.Equal(t, []string{"id"}, sc.IdentifierFields())
	assert.Equal(t, []string{"id", "name"}, sc.FieldNames())
	assert.Equal(t, "name", sc.FindField("name").Name, "field names default to map keys")
}

func TestParseYAML(t *testing.T) {
	sc, err := Parse([]byte(parentYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "parents", sc.TableName())
	assert.Equal(t, "title_text", sc.FindField("title").ColumnName())
	assert.Equal(t, "id", sc.FindField("id").ColumnName())
	assert.Equal(t, []string{"children", "owner"}, sc.RelationNames())

	children := sc.Relation("children")
	require.NotNil(t, children)
	assert.Equal(t, RelationOneToMany, children.Kind)
	assert.Equal(t, FetchJoin, children.Fetch)
	assert.Equal(t, FetchLazy, sc.Relation("owner").Fetch)
	assert.Nil(t, sc.Relation("missing"))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("{"), FormatJSON)
	assert.Error(t, err)

	_, err = Parse([]byte("name: [unterminated"), FormatYAML)
	assert.Error(t, err)

	_, err = Parse([]byte("{}"), Format("toml"))
	assert.ErrorContains(t, err, "unsupported schema format")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "simple.json")
	yamlPath := filepath.Join(dir, "parent.yml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(simpleEntityJSON), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte(parentYAML), 0o600))

	sc, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "SimpleEntity", sc.Name)

	sc, err = LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "Parent", sc.Name)

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFieldTypeHelpers(t *testing.T) {
	assert.True(t, FieldTypeInteger.Valid())
	assert.False(t, FieldType("datetime").Valid())
	assert.True(t, FieldTypeRecord.Structured())
	assert.False(t, FieldTypeString.Structured())
}

func TestValidator(t *testing.T) {
	sc, err := Parse([]byte(`{
		"name": "Item",
		"fields": {
			"id":     { "type": "integer", "required": true },
			"label":  { "type": "string" },
			"state":  { "type": "enum", "values": ["open", "closed"] },
			"tags":   { "type": "set" },
			"active": { "type": "boolean" },
			"meta":   { "type": "record" }
		},
		"indexes": [{ "fields": ["id"], "type": "primary" }]
	}`), FormatJSON)
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   map[string]any
		loose  bool
		valid  bool
		issues []string
	}{
		{
			name:  "valid document",
			data:  map[string]any{"id": 1, "label": "x", "state": "open", "tags": []any{"a", "b"}, "active": true, "meta": map[string]any{"k": 1}},
			valid: true,
		},
		{
			name:  "integral float from json",
			data:  map[string]any{"id": float64(7)},
			valid: true,
		},
		{
			name:  "string coercion",
			data:  map[string]any{"id": "12", "active": "false"},
			valid: true,
		},
		{
			name:   "missing required",
			data:   map[string]any{"label": "x"},
			issues: []string{"REQUIRED_FIELD_MISSING"},
		},
		{
			name:  "missing required loose",
			data:  map[string]any{"label": "x"},
			loose: true,
			valid: true,
		},
		{
			name:   "type mismatch",
			data:   map[string]any{"id": 1.5},
			issues: []string{"TYPE_MISMATCH"},
		},
		{
			name:   "enum violation",
			data:   map[string]any{"id": 1, "state": "archived"},
			issues: []string{"ENUM_VIOLATION"},
		},
		{
			name:   "set duplicate",
			data:   map[string]any{"id": 1, "tags": []any{"a", "a"}},
			issues: []string{"SET_DUPLICATE"},
		},
		{
			name:   "unexpected field",
			data:   map[string]any{"id": 1, "extra": true},
			issues: []string{"UNEXPECTED_FIELD"},
		},
		{
			name:   "null required",
			data:   map[string]any{"id": nil},
			issues: []string{"NULL_VALUE"},
		},
	}

	v := NewValidator(sc)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, issues := v.Validate(tt.data, tt.loose)
			assert.Equal(t, tt.valid, valid, "issues: %v", issues)
			codes := make([]string, 0, len(issues))
			for _, issue := range issues {
				codes = append(codes, issue.Code)
			}
			if tt.valid {
				assert.Empty(t, codes)
			} else {
				assert.ElementsMatch(t, tt.issues, codes)
			}
		})
	}
}

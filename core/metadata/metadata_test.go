package metadata

import (
	"testing"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *schema.SchemaDefinition {
	t.Helper()
	sc, err := schema.Parse([]byte(doc), schema.FormatJSON)
	require.NoError(t, err)
	return sc
}

func TestNewEntityPersister(t *testing.T) {
	sc := mustParse(t, `{
		"name": "Order",
		"table": "orders",
		"fields": {
			"region": { "type": "string" },
			"number": { "type": "integer" },
			"total":  { "type": "decimal" },
			"note":   { "type": "string", "column": "note_text" }
		},
		"indexes": [{ "fields": ["region", "number"], "type": "primary" }],
		"relations": {
			"lines":    { "kind": "one-to-many", "target": "OrderLine", "foreignKey": "order_number", "fetch": "join" },
			"customer": { "kind": "many-to-one", "target": "Customer", "foreignKey": "customer_id" }
		}
	}`)

	p, err := NewEntityPersister(sc)
	require.NoError(t, err)

	assert.Equal(t, "Order", p.EntityName())
	assert.Equal(t, "orders", p.TableName())
	assert.True(t, p.CompositeIdentifier())
	assert.Equal(t, 4, p.ColumnCount())

	cols := p.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"region", "number", "note_text", "total"}, names)
	assert.Equal(t, "note", cols[2].Property)

	assocs := p.Associations()
	require.Len(t, assocs, 2)
	assert.Equal(t, "customer", assocs[0].Name)
	assert.False(t, assocs[0].Collection())
	assert.Equal(t, schema.FetchLazy, assocs[0].Fetch)
	lines, ok := p.Association("lines")
	require.True(t, ok)
	assert.True(t, lines.Collection())
	assert.Equal(t, schema.FetchJoin, lines.Fetch)

	_, ok = p.Association("missing")
	assert.False(t, ok)
}

func TestNewEntityPersisterMappingErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", `{"fields": {"id": {"type": "integer"}}, "indexes": [{"fields": ["id"], "type": "primary"}]}`},
		{"no fields", `{"name": "E", "indexes": [{"fields": ["id"], "type": "primary"}]}`},
		{"no identifier", `{"name": "E", "fields": {"id": {"type": "integer"}}}`},
		{"undeclared identifier", `{"name": "E", "fields": {"id": {"type": "integer"}}, "indexes": [{"fields": ["key"], "type": "primary"}]}`},
		{"bad type", `{"name": "E", "fields": {"id": {"type": "integer"}, "at": {"type": "datetime"}}, "indexes": [{"fields": ["id"], "type": "primary"}]}`},
		{"structured identifier", `{"name": "E", "fields": {"id": {"type": "object"}}, "indexes": [{"fields": ["id"], "type": "primary"}]}`},
		{"relation without target", `{"name": "E", "fields": {"id": {"type": "integer"}}, "indexes": [{"fields": ["id"], "type": "primary"}], "relations": {"r": {"kind": "one-to-many", "foreignKey": "e_id"}}}`},
		{"relation without key", `{"name": "E", "fields": {"id": {"type": "integer"}}, "indexes": [{"fields": ["id"], "type": "primary"}], "relations": {"r": {"kind": "one-to-many", "target": "F"}}}`},
		{"relation bad kind", `{"name": "E", "fields": {"id": {"type": "integer"}}, "indexes": [{"fields": ["id"], "type": "primary"}], "relations": {"r": {"kind": "many-to-many", "target": "F", "foreignKey": "x"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntityPersister(mustParse(t, tt.doc))
			require.Error(t, err)
			assert.True(t, lerrors.IsMapping(err), "got %v", err)
		})
	}

	_, err := NewEntityPersister(nil)
	assert.True(t, lerrors.IsMapping(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.GetEntityPersister("SimpleEntity")
	assert.True(t, lerrors.IsMapping(err))

	p, err := r.Register(mustParse(t, `{
		"name": "SimpleEntity",
		"fields": {"id": {"type": "integer"}, "name": {"type": "string"}},
		"indexes": [{"fields": ["id"], "type": "primary"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "simple_entity", p.TableName())

	got, err := r.GetEntityPersister("SimpleEntity")
	require.NoError(t, err)
	assert.Same(t, p, got)
	assert.Equal(t, []string{"SimpleEntity"}, r.EntityNames())

	_, err = r.Register(mustParse(t, `{"name": "Broken", "fields": {"id": {"type": "integer"}}}`))
	assert.True(t, lerrors.IsMapping(err))
	assert.Equal(t, []string{"SimpleEntity"}, r.EntityNames())
}

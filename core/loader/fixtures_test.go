package loader

import (
	"testing"

	"github.com/asaidimu/go-loom/core/alias"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/mapping"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/require"
)

type SimpleEntity struct {
	ID   int64
	Name string
}

type Parent struct {
	ID       int64
	Title    string
	Children []*Child
}

type Child struct {
	ID       int64
	Label    string
	ParentID int64
}

const (
	simpleEntitySchema = `{
		"name": "SimpleEntity",
		"fields": {"id": {"type": "integer"}, "name": {"type": "string"}},
		"indexes": [{"fields": ["id"], "type": "primary"}]
	}`
	parentSchema = `{
		"name": "Parent",
		"fields": {"id": {"type": "integer"}, "title": {"type": "string"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {
			"children": {"kind": "one-to-many", "target": "Child", "foreignKey": "parent_id", "fetch": "join"}
		}
	}`
	childSchema = `{
		"name": "Child",
		"fields": {"id": {"type": "integer"}, "label": {"type": "string"}, "parent_id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}]
	}`
	orderSchema = `{
		"name": "Order",
		"table": "orders",
		"fields": {"region": {"type": "string"}, "number": {"type": "integer"}, "total": {"type": "decimal"}},
		"indexes": [{"fields": ["region", "number"], "type": "primary"}]
	}`
)

type fixture struct {
	registry *metadata.Registry
	mappings *mapping.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := metadata.NewRegistry(nil)
	for _, doc := range []string{simpleEntitySchema, parentSchema, childSchema, orderSchema} {
		sc, err := schema.Parse([]byte(doc), schema.FormatJSON)
		require.NoError(t, err)
		_, err = registry.Register(sc)
		require.NoError(t, err)
	}

	simple := mapping.NewMapper[SimpleEntity]("SimpleEntity").
		Field("id", func(e *SimpleEntity) any { return &e.ID }).
		Field("name", func(e *SimpleEntity) any { return &e.Name })
	parent := mapping.NewMapper[Parent]("Parent").
		Field("id", func(p *Parent) any { return &p.ID }).
		Field("title", func(p *Parent) any { return &p.Title })
	parent = mapping.Collection(parent, "children", func(p *Parent) *[]*Child { return &p.Children })
	child := mapping.NewMapper[Child]("Child").
		Field("id", func(c *Child) any { return &c.ID }).
		Field("label", func(c *Child) any { return &c.Label }).
		Field("parent_id", func(c *Child) any { return &c.ParentID })

	orderSchemaDef, err := registry.GetEntityPersister("Order")
	require.NoError(t, err)

	return &fixture{
		registry: registry,
		mappings: mapping.NewRegistry(simple, parent, child, mapping.NewDocumentMapping(orderSchemaDef.Schema())),
	}
}

func (f *fixture) persister(t *testing.T, name string) *metadata.EntityPersister {
	t.Helper()
	p, err := f.registry.GetEntityPersister(name)
	require.NoError(t, err)
	return p
}

func (f *fixture) plan(t *testing.T, name string, join bool) *loadplan.LoadPlan {
	t.Helper()
	var strategy loadplan.Strategy = loadplan.NewSingleRootStrategy(f.registry, loadplan.NoInfluencers)
	if join {
		strategy = loadplan.NewJoinFetchStrategy(f.registry, loadplan.NoInfluencers)
	}
	plan, err := loadplan.BuildRootEntityLoadPlan(strategy, f.persister(t, name))
	require.NoError(t, err)
	return plan
}

func aliases(t *testing.T, plan *loadplan.LoadPlan) *alias.Context {
	t.Helper()
	ctx, err := alias.NewContext(plan, 0, nil)
	require.NoError(t, err)
	return ctx
}

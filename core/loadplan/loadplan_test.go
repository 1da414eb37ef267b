package loadplan

import (
	"testing"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, r *metadata.Registry, doc string) *metadata.EntityPersister {
	t.Helper()
	sc, err := schema.Parse([]byte(doc), schema.FormatJSON)
	require.NoError(t, err)
	p, err := r.Register(sc)
	require.NoError(t, err)
	return p
}

func fixtures(t *testing.T) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry(nil)
	register(t, r, `{
		"name": "Parent",
		"fields": {"id": {"type": "integer"}, "title": {"type": "string"}, "owner_id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {
			"children": {"kind": "one-to-many", "target": "Child", "foreignKey": "parent_id", "fetch": "join"},
			"owner":    {"kind": "many-to-one", "target": "Person", "foreignKey": "owner_id"}
		}
	}`)
	register(t, r, `{
		"name": "Child",
		"fields": {"id": {"type": "integer"}, "label": {"type": "string"}, "parent_id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {
			"parent": {"kind": "many-to-one", "target": "Parent", "foreignKey": "parent_id", "fetch": "join"}
		}
	}`)
	register(t, r, `{
		"name": "Person",
		"fields": {"id": {"type": "integer"}, "name": {"type": "string"}},
		"indexes": [{"fields": ["id"], "type": "primary"}]
	}`)
	return r
}

func TestSingleRootPlan(t *testing.T) {
	r := fixtures(t)
	parent, err := r.GetEntityPersister("Parent")
	require.NoError(t, err)

	plan, err := BuildRootEntityLoadPlan(NewSingleRootStrategy(r, NoInfluencers), parent)
	require.NoError(t, err)

	require.Len(t, plan.Returns(), 1)
	root, ok := plan.Root()
	require.True(t, ok)
	assert.Equal(t, "Parent", root.Path())
	assert.Empty(t, root.Fetches())
	assert.Len(t, plan.Nodes(), 1)
	assert.True(t, plan.SingleEntityReturn())
	assert.False(t, plan.HasCollectionFetches())
}

func TestJoinFetchPlan(t *testing.T) {
	r := fixtures(t)
	parent, err := r.GetEntityPersister("Parent")
	require.NoError(t, err)

	plan, err := BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), parent)
	require.NoError(t, err)

	paths := make([]string, 0)
	for _, n := range plan.Nodes() {
		paths = append(paths, n.Path())
	}
	// Child.parent is mapped as join but Parent is already on the path.
	assert.Equal(t, []string{"Parent", "Parent.children"}, paths)
	assert.True(t, plan.HasCollectionFetches())

	root, _ := plan.Root()
	fetch := root.Fetches()[0]
	assert.Same(t, root, fetch.Owner())
	assert.True(t, fetch.Collection())
	assert.Equal(t, "parent_id", fetch.Association().ForeignKey)

	idx, ok := plan.NodeIndex(fetch)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestJoinFetchInfluencers(t *testing.T) {
	r := fixtures(t)
	parent, err := r.GetEntityPersister("Parent")
	require.NoError(t, err)

	plan, err := BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NewInfluencers("Parent.owner")), parent)
	require.NoError(t, err)

	paths := make([]string, 0)
	for _, n := range plan.Nodes() {
		paths = append(paths, n.Path())
	}
	assert.Equal(t, []string{"Parent", "Parent.children", "Parent.owner"}, paths)
	assert.Equal(t, "owner_id", plan.Nodes()[2].(*Fetch).ForeignKey().Name)

	strategy := NewJoinFetchStrategy(r, NoInfluencers)
	strategy.MaxDepth = 0
	assert.True(t, strategy.ShouldFetch(parent, mustAssociation(t, parent, "children"), DefaultMaxFetchDepth))
	assert.False(t, strategy.ShouldFetch(parent, mustAssociation(t, parent, "children"), DefaultMaxFetchDepth+1))
	assert.True(t, NoInfluencers.Empty())
}

func mustAssociation(t *testing.T, p *metadata.EntityPersister, name string) metadata.Association {
	t.Helper()
	a, ok := p.Association(name)
	require.True(t, ok)
	return a
}

func TestBuildErrors(t *testing.T) {
	_, err := BuildRootEntityLoadPlan(NewSingleRootStrategy(nil, NoInfluencers), nil)
	assert.True(t, lerrors.IsMapping(err))

	r := metadata.NewRegistry(nil)
	orphan := register(t, r, `{
		"name": "Orphan",
		"fields": {"id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {"ghost": {"kind": "many-to-one", "target": "Ghost", "foreignKey": "ghost_id", "fetch": "join"}}
	}`)
	_, err = BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), orphan)
	assert.True(t, lerrors.IsMapping(err))

	// The single root strategy never looks at associations.
	_, err = BuildRootEntityLoadPlan(NewSingleRootStrategy(r, NoInfluencers), orphan)
	assert.NoError(t, err)

	register(t, r, `{
		"name": "Ghost",
		"fields": {"a": {"type": "integer"}, "b": {"type": "integer"}},
		"indexes": [{"fields": ["a", "b"], "type": "primary"}]
	}`)
	_, err = BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), orphan)
	assert.True(t, lerrors.IsMapping(err), "composite join key is rejected")

	_, err = BuildRootEntityLoadPlan(nil, orphan)
	assert.True(t, lerrors.IsIllegalState(err))
}

func TestForeignKeyResolution(t *testing.T) {
	r := metadata.NewRegistry(nil)
	register(t, r, `{
		"name": "Person",
		"fields": {"id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}]
	}`)
	undeclared := register(t, r, `{
		"name": "Ticket",
		"fields": {"id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {"owner": {"kind": "many-to-one", "target": "Person", "foreignKey": "owner_id", "fetch": "join"}}
	}`)
	_, err := BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), undeclared)
	assert.True(t, lerrors.IsMapping(err), "many-to-one key must be an owner column")

	lines := register(t, r, `{
		"name": "Invoice",
		"fields": {"id": {"type": "integer"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {"lines": {"kind": "one-to-many", "target": "Person", "foreignKey": "invoice_id", "fetch": "join"}}
	}`)
	_, err = BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), lines)
	assert.True(t, lerrors.IsMapping(err), "one-to-many key must be a target column")

	renamed := register(t, r, `{
		"name": "Note",
		"fields": {"id": {"type": "integer"}, "author": {"type": "integer", "column": "author_ref"}},
		"indexes": [{"fields": ["id"], "type": "primary"}],
		"relations": {"writer": {"kind": "many-to-one", "target": "Person", "foreignKey": "author", "fetch": "join"}}
	}`)
	plan, err := BuildRootEntityLoadPlan(NewJoinFetchStrategy(r, NoInfluencers), renamed)
	require.NoError(t, err)
	root, _ := plan.Root()
	assert.Equal(t, "author_ref", root.Fetches()[0].ForeignKey().Name)
}

func TestNewLoadPlan(t *testing.T) {
	r := fixtures(t)
	person, err := r.GetEntityPersister("Person")
	require.NoError(t, err)

	entity, err := NewEntityReturn(person)
	require.NoError(t, err)
	count := NewScalarReturn("count", "", schema.FieldTypeInteger)

	plan, err := NewLoadPlan(entity, count)
	require.NoError(t, err)
	assert.False(t, plan.SingleEntityReturn())
	assert.Len(t, plan.Nodes(), 2)
	assert.Equal(t, "count", count.Columns()[0].Name)
	assert.Equal(t, schema.FieldTypeInteger, count.Type())
	assert.Nil(t, count.Persister())

	_, err = NewLoadPlan()
	assert.True(t, lerrors.IsIllegalState(err))

	_, err = NewLoadPlan(entity, entity)
	assert.True(t, lerrors.IsIllegalState(err))
}

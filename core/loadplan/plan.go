// Package loadplan describes what a load query must fetch: the root returns of a
// statement and, below every entity return, the associations that are joined
// into the same statement. A LoadPlan is immutable once built and may be read
// concurrently by any number of statement executions.
package loadplan

import (
	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
)

// Node is one element of a plan that contributes columns to the select list.
type Node interface {
	// Path names the node for logging and advice, e.g. "Parent.children".
	Path() string
	// Columns lists the columns the node reads, in select order.
	Columns() []metadata.Column
	// Persister returns the entity mapping, or nil for scalar nodes.
	Persister() *metadata.EntityPersister
	// Fetches returns the joined children of an entity node.
	Fetches() []*Fetch
}

// Return is a root of the plan. Every row of a result set yields one value per
// return.
type Return interface {
	Node
	isReturn()
}

type entityNode struct {
	persister *metadata.EntityPersister
	path      string
	fetches   []*Fetch
}

func (n *entityNode) Path() string                         { return n.path }
func (n *entityNode) Columns() []metadata.Column           { return n.persister.Columns() }
func (n *entityNode) Persister() *metadata.EntityPersister { return n.persister }
func (n *entityNode) Fetches() []*Fetch                    { return append([]*Fetch(nil), n.fetches...) }

// EntityReturn is a root entity of the plan.
type EntityReturn struct {
	entityNode
}

func (*EntityReturn) isReturn() {}

// NewEntityReturn creates an entity return without fetches.
func NewEntityReturn(persister *metadata.EntityPersister) (*EntityReturn, error) {
	if persister == nil {
		return nil, lerrors.NewMappingError("", "entity persister is nil")
	}
	if len(persister.IdentifierColumns()) == 0 {
		return nil, lerrors.NewMappingError(persister.EntityName(), "no identifier mapping")
	}
	return &EntityReturn{entityNode{persister: persister, path: persister.EntityName()}}, nil
}

// ScalarReturn is a single selected column returned as a plain value.
type ScalarReturn struct {
	column metadata.Column
}

func (*ScalarReturn) isReturn() {}

// NewScalarReturn creates a scalar return reading column and converting it to typ.
func NewScalarReturn(name, column string, typ schema.FieldType) *ScalarReturn {
	if column == "" {
		column = name
	}
	return &ScalarReturn{column: metadata.Column{Name: column, Property: name, Type: typ}}
}

func (s *ScalarReturn) Path() string                         { return s.column.Property }
func (s *ScalarReturn) Columns() []metadata.Column           { return []metadata.Column{s.column} }
func (s *ScalarReturn) Persister() *metadata.EntityPersister { return nil }
func (s *ScalarReturn) Fetches() []*Fetch                    { return nil }

// Type returns the semantic type of the scalar.
func (s *ScalarReturn) Type() schema.FieldType { return s.column.Type }

// Fetch is an association joined below an entity node.
type Fetch struct {
	entityNode
	owner       Node
	association metadata.Association
	foreignKey  metadata.Column
}

// Owner returns the entity node the fetch hangs off.
func (f *Fetch) Owner() Node { return f.owner }

// Association returns the mapped relation being fetched.
func (f *Fetch) Association() metadata.Association { return f.association }

// ForeignKey returns the resolved joining column.
func (f *Fetch) ForeignKey() metadata.Column { return f.foreignKey }

// Collection reports whether the fetch fills a collection on the owner.
func (f *Fetch) Collection() bool { return f.association.Collection() }

// LoadPlan is an immutable tree of returns and fetches.
type LoadPlan struct {
	returns     []Return
	nodes       []Node
	index       map[Node]int
	collections bool
}

// NewLoadPlan assembles a plan from explicit returns.
func NewLoadPlan(returns ...Return) (*LoadPlan, error) {
	if len(returns) == 0 {
		return nil, lerrors.NewIllegalStateError("a load plan needs at least one return")
	}
	p := &LoadPlan{
		returns: append([]Return(nil), returns...),
		index:   make(map[Node]int),
	}
	for _, r := range p.returns {
		if r == nil {
			return nil, lerrors.NewIllegalStateError("nil return in load plan")
		}
		if err := p.collect(r); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *LoadPlan) collect(n Node) error {
	if _, seen := p.index[n]; seen {
		return lerrors.NewIllegalStateError("node %s appears twice in the load plan", n.Path())
	}
	p.index[n] = len(p.nodes)
	p.nodes = append(p.nodes, n)
	for _, f := range n.Fetches() {
		if f.Collection() {
			p.collections = true
		}
		if err := p.collect(f); err != nil {
			return err
		}
	}
	return nil
}

// Returns returns the roots of the plan.
func (p *LoadPlan) Returns() []Return {
	return append([]Return(nil), p.returns...)
}

// Nodes returns every node in depth-first pre-order. This is the order in which
// aliases are assigned, columns are selected and rows are read.
func (p *LoadPlan) Nodes() []Node {
	return append([]Node(nil), p.nodes...)
}

// NodeIndex returns the pre-order position of a node.
func (p *LoadPlan) NodeIndex(n Node) (int, bool) {
	i, ok := p.index[n]
	return i, ok
}

// Root returns the single entity return of the plan, if the plan has exactly one
// return and it is an entity.
func (p *LoadPlan) Root() (*EntityReturn, bool) {
	if len(p.returns) != 1 {
		return nil, false
	}
	r, ok := p.returns[0].(*EntityReturn)
	return r, ok
}

// SingleEntityReturn reports whether rows collapse into distinct root entities.
func (p *LoadPlan) SingleEntityReturn() bool {
	_, ok := p.Root()
	return ok
}

// HasCollectionFetches reports whether any fetch fans rows out per owner.
func (p *LoadPlan) HasCollectionFetches() bool {
	return p.collections
}

// Package mapping binds entity properties to Go values without reflection.
// A Mapper lists, per property, a function returning the address of the field
// that receives the column value, and per association a function that attaches
// a loaded child to its owner. The result set processor resolves these tables
// once per plan and indexes them by column position.
package mapping

import (
	"fmt"
	"sync"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/schema"
)

// Setter stores an already coerced value into a property of instance.
type Setter func(instance any, value any) error

// Attacher links a loaded target instance to its owner.
type Attacher func(owner any, target any) error

// EntityMapping creates instances of one entity and exposes their property and
// association accessors.
type EntityMapping interface {
	EntityName() string
	Instantiate() any
	Property(name string) (Setter, bool)
	Association(name string) (Attacher, bool)
}

// Field returns the address of a struct field.
type Field[E any] func(e *E) any

// Mapper is the compile-time accessor table of a struct type E.
type Mapper[E any] struct {
	entity       string
	fields       map[string]Field[E]
	associations map[string]func(owner *E, target any) error
}

var _ EntityMapping = (*Mapper[struct{}])(nil)

// NewMapper creates an empty accessor table for entity.
func NewMapper[E any](entity string) *Mapper[E] {
	return &Mapper[E]{
		entity:       entity,
		fields:       make(map[string]Field[E]),
		associations: make(map[string]func(owner *E, target any) error),
	}
}

// Field maps a property to a field address.
func (m *Mapper[E]) Field(property string, addr Field[E]) *Mapper[E] {
	m.fields[property] = addr
	return m
}

// Collection maps a one-to-many association to a slice field of E.
func Collection[E, C any](m *Mapper[E], name string, slice func(*E) *[]*C) *Mapper[E] {
	m.associations[name] = func(owner *E, target any) error {
		child, ok := target.(*C)
		if !ok {
			return fmt.Errorf("association %s.%s expects %T, got %T", m.entity, name, child, target)
		}
		s := slice(owner)
		*s = append(*s, child)
		return nil
	}
	return m
}

// Reference maps a many-to-one association to a pointer field of E.
func Reference[E, T any](m *Mapper[E], name string, ref func(*E) **T) *Mapper[E] {
	m.associations[name] = func(owner *E, target any) error {
		t, ok := target.(*T)
		if !ok {
			return fmt.Errorf("association %s.%s expects %T, got %T", m.entity, name, t, target)
		}
		*ref(owner) = t
		return nil
	}
	return m
}

func (m *Mapper[E]) EntityName() string { return m.entity }

func (m *Mapper[E]) Instantiate() any { return new(E) }

// Property returns the setter of a mapped property.
func (m *Mapper[E]) Property(name string) (Setter, bool) {
	addr, ok := m.fields[name]
	if !ok {
		return nil, false
	}
	return func(instance any, value any) error {
		e, ok := instance.(*E)
		if !ok {
			return fmt.Errorf("%s expects instances of %T, got %T", m.entity, e, instance)
		}
		return assign(addr(e), value)
	}, true
}

// Association returns the attacher of a mapped association.
func (m *Mapper[E]) Association(name string) (Attacher, bool) {
	attach, ok := m.associations[name]
	if !ok {
		return nil, false
	}
	return func(owner any, target any) error {
		e, ok := owner.(*E)
		if !ok {
			return fmt.Errorf("%s expects owners of %T, got %T", m.entity, e, owner)
		}
		return attach(e, target)
	}, true
}

// DocumentMapping materializes an entity as a schema.Document. Collections are
// stored as []schema.Document and references as a nested schema.Document.
type DocumentMapping struct {
	sc *schema.SchemaDefinition
}

// NewDocumentMapping creates a document mapping for every field and relation of sc.
func NewDocumentMapping(sc *schema.SchemaDefinition) *DocumentMapping {
	return &DocumentMapping{sc: sc}
}

func (d *DocumentMapping) EntityName() string { return d.sc.Name }

func (d *DocumentMapping) Instantiate() any { return schema.Document{} }

func (d *DocumentMapping) Property(name string) (Setter, bool) {
	if d.sc.FindField(name) == nil {
		return nil, false
	}
	return func(instance any, value any) error {
		doc, ok := instance.(schema.Document)
		if !ok {
			return fmt.Errorf("%s expects documents, got %T", d.sc.Name, instance)
		}
		doc[name] = value
		return nil
	}, true
}

func (d *DocumentMapping) Association(name string) (Attacher, bool) {
	rel := d.sc.Relation(name)
	if rel == nil {
		return nil, false
	}
	return func(owner any, target any) error {
		doc, ok := owner.(schema.Document)
		if !ok {
			return fmt.Errorf("%s expects documents, got %T", d.sc.Name, owner)
		}
		child, ok := target.(schema.Document)
		if !ok {
			return fmt.Errorf("%s.%s expects documents, got %T", d.sc.Name, name, target)
		}
		if rel.Kind == schema.RelationManyToOne {
			doc[name] = child
			return nil
		}
		list, _ := doc[name].([]schema.Document)
		doc[name] = append(list, child)
		return nil
	}, true
}

// Registry resolves entity mappings by entity name.
type Registry struct {
	mu       sync.RWMutex
	mappings map[string]EntityMapping
}

// NewRegistry creates a registry holding the given mappings.
func NewRegistry(mappings ...EntityMapping) *Registry {
	r := &Registry{mappings: make(map[string]EntityMapping)}
	for _, m := range mappings {
		r.Register(m)
	}
	return r
}

// Register adds or replaces the mapping of its entity.
func (r *Registry) Register(m EntityMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[m.EntityName()] = m
}

// Lookup returns the mapping of an entity.
func (r *Registry) Lookup(entity string) (EntityMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappings[entity]
	if !ok {
		return nil, lerrors.NewMappingError(entity, "no object mapping registered")
	}
	return m, nil
}

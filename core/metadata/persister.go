// Package metadata derives the table, column and identifier mappings of a
// persistent type from its schema definition. An EntityPersister is immutable
// once built and may be shared by any number of concurrent statements.
package metadata

import (
	"strings"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/schema"
)

// Column is one mapped column of an entity.
type Column struct {
	Name     string
	Property string
	Type     schema.FieldType
}

// Association is one mapped relation of an entity.
type Association struct {
	Name       string
	Kind       schema.RelationKind
	Target     string
	ForeignKey string
	Fetch      schema.FetchMode
}

// Collection reports whether the association yields many targets per owner.
func (a Association) Collection() bool {
	return a.Kind == schema.RelationOneToMany
}

// EntityPersister exposes the mapping of one entity.
type EntityPersister struct {
	entityName   string
	tableName    string
	identifier   []Column
	properties   []Column
	associations []Association
	schema       *schema.SchemaDefinition
}

// NewEntityPersister validates a schema and derives its mapping. Identifier
// columns follow the primary index declaration order; the remaining fields
// follow alphabetically.
func NewEntityPersister(sc *schema.SchemaDefinition) (*EntityPersister, error) {
	if sc == nil {
		return nil, lerrors.NewMappingError("", "schema definition is nil")
	}
	if strings.TrimSpace(sc.Name) == "" {
		return nil, lerrors.NewMappingError("", "schema has no entity name")
	}
	sc.Normalize()
	if len(sc.Fields) == 0 {
		return nil, lerrors.NewMappingError(sc.Name, "schema declares no fields")
	}
	for key, field := range sc.Fields {
		if field == nil {
			return nil, lerrors.NewMappingError(sc.Name, "field %q has no definition", key)
		}
		if !field.Type.Valid() {
			return nil, lerrors.NewMappingError(sc.Name, "field %q has unsupported type %q", field.Name, field.Type)
		}
	}

	for key, rel := range sc.Relations {
		if rel == nil {
			return nil, lerrors.NewMappingError(sc.Name, "relation %q has no definition", key)
		}
	}

	idFields := sc.IdentifierFields()
	if len(idFields) == 0 {
		return nil, lerrors.NewMappingError(sc.Name, "no identifier mapping (primary index) declared")
	}

	p := &EntityPersister{
		entityName: sc.Name,
		tableName:  sc.TableName(),
		schema:     sc,
	}

	isID := make(map[string]bool, len(idFields))
	for _, name := range idFields {
		field := sc.FindField(name)
		if field == nil {
			return nil, lerrors.NewMappingError(sc.Name, "identifier field %q is not declared", name)
		}
		if field.Type.Structured() {
			return nil, lerrors.NewMappingError(sc.Name, "identifier field %q cannot be of type %q", name, field.Type)
		}
		if isID[name] {
			return nil, lerrors.NewMappingError(sc.Name, "identifier field %q listed twice", name)
		}
		isID[name] = true
		p.identifier = append(p.identifier, columnOf(field))
	}

	for _, name := range sc.FieldNames() {
		if isID[name] {
			continue
		}
		p.properties = append(p.properties, columnOf(sc.FindField(name)))
	}

	for _, name := range sc.RelationNames() {
		rel := sc.Relation(name)
		if rel.Target == "" {
			return nil, lerrors.NewMappingError(sc.Name, "relation %q has no target entity", name)
		}
		if rel.ForeignKey == "" {
			return nil, lerrors.NewMappingError(sc.Name, "relation %q has no foreign key column", name)
		}
		switch rel.Kind {
		case schema.RelationOneToMany, schema.RelationManyToOne:
		default:
			return nil, lerrors.NewMappingError(sc.Name, "relation %q has unsupported kind %q", name, rel.Kind)
		}
		p.associations = append(p.associations, Association{
			Name:       rel.Name,
			Kind:       rel.Kind,
			Target:     rel.Target,
			ForeignKey: rel.ForeignKey,
			Fetch:      rel.Fetch,
		})
	}

	return p, nil
}

func columnOf(field *schema.FieldDefinition) Column {
	return Column{Name: field.ColumnName(), Property: field.Name, Type: field.Type}
}

// EntityName returns the logical entity name.
func (p *EntityPersister) EntityName() string { return p.entityName }

// TableName returns the backing table.
func (p *EntityPersister) TableName() string { return p.tableName }

// Schema returns the schema the persister was derived from.
func (p *EntityPersister) Schema() *schema.SchemaDefinition { return p.schema }

// IdentifierColumns returns the identifier columns.
func (p *EntityPersister) IdentifierColumns() []Column {
	return append([]Column(nil), p.identifier...)
}

// PropertyColumns returns the non-identifier columns.
func (p *EntityPersister) PropertyColumns() []Column {
	return append([]Column(nil), p.properties...)
}

// Columns returns identifier columns followed by property columns. This is the
// order in which a node's columns are selected and read back.
func (p *EntityPersister) Columns() []Column {
	cols := make([]Column, 0, len(p.identifier)+len(p.properties))
	cols = append(cols, p.identifier...)
	return append(cols, p.properties...)
}

// ColumnCount returns the number of columns a node of this entity contributes.
func (p *EntityPersister) ColumnCount() int {
	return len(p.identifier) + len(p.properties)
}

// CompositeIdentifier reports whether the identifier spans several columns.
func (p *EntityPersister) CompositeIdentifier() bool {
	return len(p.identifier) > 1
}

// ColumnFor finds a column by property name, falling back to the column name.
func (p *EntityPersister) ColumnFor(name string) (Column, bool) {
	for _, c := range p.Columns() {
		if c.Property == name {
			return c, true
		}
	}
	for _, c := range p.Columns() {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Associations returns the mapped relations sorted by name.
func (p *EntityPersister) Associations() []Association {
	return append([]Association(nil), p.associations...)
}

// Association looks up a relation by name.
func (p *EntityPersister) Association(name string) (Association, bool) {
	for _, a := range p.associations {
		if a.Name == name {
			return a, true
		}
	}
	return Association{}, false
}

// Package schema defines the entity schema model: fields, indexes and relations
// of a persistent type. A SchemaDefinition is the raw material from which the
// metadata layer derives table, column and identifier mappings.
package schema

import (
	"github.com/go-openapi/inflect"
)

// FieldType represents the basic field types supported by the schema system.
type FieldType string

const (
	FieldTypeString  FieldType = "string"  // Text data
	FieldTypeNumber  FieldType = "number"  // Numeric data
	FieldTypeInteger FieldType = "integer" // Numeric data
	FieldTypeDecimal FieldType = "decimal" // Numeric data
	FieldTypeBoolean FieldType = "boolean" // True/false values
	FieldTypeArray   FieldType = "array"   // Ordered list of items
	FieldTypeSet     FieldType = "set"     // Unordered list with unique items
	FieldTypeEnum    FieldType = "enum"    // One out of a set of pre-defined items
	FieldTypeObject  FieldType = "object"  // Structured data with nested fields
	FieldTypeRecord  FieldType = "record"  // Unorganized key-value object, resolves to map[string]any
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeInteger, FieldTypeDecimal, FieldTypeBoolean,
		FieldTypeArray, FieldTypeSet, FieldTypeEnum, FieldTypeObject, FieldTypeRecord:
		return true
	}
	return false
}

// Structured reports whether values of this type are stored as JSON text.
func (t FieldType) Structured() bool {
	switch t {
	case FieldTypeArray, FieldTypeSet, FieldTypeObject, FieldTypeRecord:
		return true
	}
	return false
}

// IndexType represents index types for optimizing different query patterns.
type IndexType string

const (
	IndexTypeNormal  IndexType = "normal"  // General-purpose index
	IndexTypeUnique  IndexType = "unique"  // Unique index
	IndexTypePrimary IndexType = "primary" // Primary key index (implies unique)
)

// RelationKind is the cardinality of an association between two entities.
type RelationKind string

const (
	// RelationOneToMany is a collection of targets whose ForeignKey column
	// references the owner's identifier.
	RelationOneToMany RelationKind = "one-to-many"
	// RelationManyToOne is a single target referenced by the owner's ForeignKey
	// column.
	RelationManyToOne RelationKind = "many-to-one"
)

// FetchMode is the default fetch policy for an association.
type FetchMode string

const (
	FetchLazy FetchMode = "lazy" // Loaded on demand, never joined
	FetchJoin FetchMode = "join" // Eagerly joined when a join-fetch strategy is used
)

// FieldDefinition defines a field within a schema.
type FieldDefinition struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
	// Column overrides the column name. Defaults to Name.
	Column *string `json:"column,omitempty" yaml:"column,omitempty"`
	// Required indicates if the field is mandatory.
	Required *bool `json:"required,omitempty" yaml:"required,omitempty"`
	// Default provides a default value for the field.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`
	// Values specifies the allowed values for an 'enum' type field.
	Values []any `json:"values,omitempty" yaml:"values,omitempty"`
	// Unique indicates if the field must have unique values.
	Unique *bool `json:"unique,omitempty" yaml:"unique,omitempty"`
	// Description provides a brief explanation of the field.
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ColumnName returns the column the field is stored in.
func (f *FieldDefinition) ColumnName() string {
	if f.Column != nil && *f.Column != "" {
		return *f.Column
	}
	return f.Name
}

// IndexDefinition defines an index for optimizing queries or enforcing uniqueness.
type IndexDefinition struct {
	Fields      []string  `json:"fields" yaml:"fields"`
	Type        IndexType `json:"type" yaml:"type"`
	Unique      *bool     `json:"unique,omitempty" yaml:"unique,omitempty"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	Order       *string   `json:"order,omitempty" yaml:"order,omitempty"` // "asc" | "desc"
	Name        string    `json:"name" yaml:"name"`
}

// RelationDefinition describes an association to another entity.
type RelationDefinition struct {
	Name string       `json:"name" yaml:"name"`
	Kind RelationKind `json:"kind" yaml:"kind"`
	// Target is the entity name of the associated type.
	Target string `json:"target" yaml:"target"`
	// ForeignKey is the joining column: on the target table for one-to-many, on
	// the owner table for many-to-one.
	ForeignKey string    `json:"foreignKey" yaml:"foreignKey"`
	Fetch      FetchMode `json:"fetch,omitempty" yaml:"fetch,omitempty"`
}

// SchemaDefinition defines a complete entity schema.
type SchemaDefinition struct {
	Name        string  `json:"name" yaml:"name"`
	Table       string  `json:"table,omitempty" yaml:"table,omitempty"`
	Version     string  `json:"version" yaml:"version"`
	Description *string `json:"description,omitempty" yaml:"description,omitempty"`
	// Map of field names to FieldDefinition.
	Fields    map[string]*FieldDefinition    `json:"fields" yaml:"fields"`
	Indexes   []IndexDefinition              `json:"indexes,omitempty" yaml:"indexes,omitempty"`
	Relations map[string]*RelationDefinition `json:"relations,omitempty" yaml:"relations,omitempty"`
	Metadata  map[string]any                 `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TableName returns the table backing the schema. An explicit Table wins,
// otherwise the entity name is underscored ("SimpleEntity" -> "simple_entity").
func (s *SchemaDefinition) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return inflect.Underscore(s.Name)
}

// Issue represents a validation or operational issue.
type Issue struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Path        string `json:"path,omitempty"`
	Severity    string `json:"severity,omitempty"` // e.g., "error", "warning"
	Description string `json:"description,omitempty"`
}

type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

type Document map[string]any

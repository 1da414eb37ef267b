package schema

import "sort"

// FindField looks a field up by its declared name, falling back to the map key.
func (s *SchemaDefinition) FindField(name string) *FieldDefinition {
	for _, field := range s.Fields {
		if field.Name == name {
			return field
		}
	}
	return s.Fields[name]
}

// PrimaryIndex returns the primary index, or nil when the schema declares none.
func (s *SchemaDefinition) PrimaryIndex() *IndexDefinition {
	for i := range s.Indexes {
		if s.Indexes[i].Type == IndexTypePrimary && len(s.Indexes[i].Fields) > 0 {
			return &s.Indexes[i]
		}
	}
	return nil
}

// IdentifierFields returns the names of the primary index fields in declaration order.
func (s *SchemaDefinition) IdentifierFields() []string {
	if idx := s.PrimaryIndex(); idx != nil {
		return append([]string(nil), idx.Fields...)
	}
	return nil
}

// FieldNames returns every field name sorted alphabetically.
func (s *SchemaDefinition) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, field := range s.Fields {
		names = append(names, field.Name)
	}
	sort.Strings(names)
	return names
}

// RelationNames returns every relation name sorted alphabetically.
func (s *SchemaDefinition) RelationNames() []string {
	names := make([]string, 0, len(s.Relations))
	for _, rel := range s.Relations {
		names = append(names, rel.Name)
	}
	sort.Strings(names)
	return names
}

// Relation looks a relation up by name.
func (s *SchemaDefinition) Relation(name string) *RelationDefinition {
	for _, rel := range s.Relations {
		if rel.Name == name {
			return rel
		}
	}
	return nil
}

// Normalize fills empty field and relation names from their map keys and
// defaults relation fetch modes to lazy.
func (s *SchemaDefinition) Normalize() {
	for key, field := range s.Fields {
		if field != nil && field.Name == "" {
			field.Name = key
		}
	}
	for key, rel := range s.Relations {
		if rel == nil {
			continue
		}
		if rel.Name == "" {
			rel.Name = key
		}
		if rel.Fetch == "" {
			rel.Fetch = FetchLazy
		}
	}
}

package loader

import (
	"sort"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/mapping"
)

// QueryParameters holds the bind values of one statement execution.
type QueryParameters struct {
	PositionalValues []any
	NamedValues      map[string]any
	// MaxRows limits the number of results extracted. Zero means no limit.
	MaxRows int
}

// NamedParameterContext maps a logical parameter name to the 1-based positions
// it occupies in the statement.
type NamedParameterContext interface {
	NamedParameterLocations(name string) []int
}

// NamedParameters is a static NamedParameterContext.
type NamedParameters map[string][]int

func (n NamedParameters) NamedParameterLocations(name string) []int {
	return n[name]
}

// BindParameters lays the values out by position. Positional values take
// positions 1..n; every named value is copied to each of its locations. A
// position left without a value, or claimed twice, is an error.
func BindParameters(params QueryParameters, named NamedParameterContext) ([]any, error) {
	size := len(params.PositionalValues)
	names := make([]string, 0, len(params.NamedValues))
	for name := range params.NamedValues {
		names = append(names, name)
	}
	sort.Strings(names)

	locations := make(map[string][]int, len(names))
	for _, name := range names {
		if named == nil {
			return nil, lerrors.NewIllegalStateError("named parameter %q given without a parameter context", name)
		}
		locs := named.NamedParameterLocations(name)
		if len(locs) == 0 {
			return nil, lerrors.NewIllegalStateError("named parameter %q has no location in the statement", name)
		}
		for _, loc := range locs {
			if loc < 1 {
				return nil, lerrors.NewIllegalStateError("named parameter %q has invalid position %d", name, loc)
			}
			if loc > size {
				size = loc
			}
		}
		locations[name] = locs
	}

	bound := make([]any, size)
	owner := make([]string, size)
	copy(bound, params.PositionalValues)
	for i := range params.PositionalValues {
		owner[i] = "?"
	}
	for _, name := range names {
		for _, loc := range locations[name] {
			if prev := owner[loc-1]; prev != "" && prev != name {
				return nil, lerrors.NewIllegalStateError("position %d is bound by both %q and %q", loc, prev, name)
			}
			owner[loc-1] = name
			bound[loc-1] = params.NamedValues[name]
		}
	}
	for i, o := range owner {
		if o == "" {
			return nil, lerrors.NewIllegalStateError("parameter %d has no value", i+1)
		}
	}
	return bound, nil
}

// IdentifierParameters expands identifiers into the positional values of a
// statement rendered for batchSize identifiers. Composite identifiers are given
// as []any in identifier column order. A short batch is padded by repeating
// the last identifier.
func IdentifierParameters(persister *metadata.EntityPersister, ids []any, batchSize int) ([]any, error) {
	if len(ids) == 0 {
		return nil, lerrors.NewIllegalStateError("no identifiers to bind")
	}
	if len(ids) > batchSize {
		return nil, lerrors.NewIllegalStateError("%d identifiers exceed the batch size %d", len(ids), batchSize)
	}

	columns := persister.IdentifierColumns()
	values := make([]any, 0, batchSize*len(columns))
	for i := 0; i < batchSize; i++ {
		id := ids[min(i, len(ids)-1)]
		parts, err := identifierValues(persister, columns, id)
		if err != nil {
			return nil, err
		}
		values = append(values, parts...)
	}
	return values, nil
}

func identifierValues(persister *metadata.EntityPersister, columns []metadata.Column, id any) ([]any, error) {
	parts := []any{id}
	if len(columns) > 1 {
		composite, ok := id.([]any)
		if !ok || len(composite) != len(columns) {
			return nil, lerrors.NewIllegalStateError("identifier of %s needs %d values, got %v",
				persister.EntityName(), len(columns), id)
		}
		parts = composite
	}
	out := make([]any, len(parts))
	for i, part := range parts {
		v, err := mapping.Coerce(part, columns[i].Type)
		if err != nil {
			return nil, &lerrors.TypeConversionError{
				Entity:   persister.EntityName(),
				Property: columns[i].Property,
				Value:    part,
				Target:   string(columns[i].Type),
				Err:      err,
			}
		}
		if v == nil {
			return nil, lerrors.NewIllegalStateError("identifier of %s cannot be null", persister.EntityName())
		}
		out[i] = v
	}
	return out, nil
}

package loader

import (
	"testing"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindParameters(t *testing.T) {
	tests := []struct {
		name    string
		params  QueryParameters
		named   NamedParameterContext
		want    []any
		illegal bool
	}{
		{
			name:   "positional only",
			params: QueryParameters{PositionalValues: []any{1, "a"}},
			want:   []any{1, "a"},
		},
		{
			name: "named after positional",
			params: QueryParameters{
				PositionalValues: []any{1},
				NamedValues:      map[string]any{"name": "x", "limit": 10},
			},
			named: NamedParameters{"name": {2, 4}, "limit": {3}},
			want:  []any{1, "x", 10, "x"},
		},
		{
			name:    "gap",
			params:  QueryParameters{NamedValues: map[string]any{"name": "x"}},
			named:   NamedParameters{"name": {2}},
			illegal: true,
		},
		{
			name: "conflict with positional",
			params: QueryParameters{
				PositionalValues: []any{1},
				NamedValues:      map[string]any{"name": "x"},
			},
			named:   NamedParameters{"name": {1}},
			illegal: true,
		},
		{
			name:    "conflict between names",
			params:  QueryParameters{NamedValues: map[string]any{"a": 1, "b": 2}},
			named:   NamedParameters{"a": {1}, "b": {1}},
			illegal: true,
		},
		{
			name:    "unknown name",
			params:  QueryParameters{NamedValues: map[string]any{"a": 1}},
			named:   NamedParameters{},
			illegal: true,
		},
		{
			name:    "no context",
			params:  QueryParameters{NamedValues: map[string]any{"a": 1}},
			illegal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BindParameters(tt.params, tt.named)
			if tt.illegal {
				assert.True(t, lerrors.IsIllegalState(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifierParameters(t *testing.T) {
	f := newFixture(t)
	simple := f.persister(t, "SimpleEntity")
	order := f.persister(t, "Order")

	got, err := IdentifierParameters(simple, []any{1, "2"}, 4)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(2), int64(2)}, got, "short batches repeat the last identifier")

	got, err = IdentifierParameters(order, []any{[]any{"eu", 7}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"eu", int64(7), "eu", int64(7)}, got)

	_, err = IdentifierParameters(simple, nil, 1)
	assert.True(t, lerrors.IsIllegalState(err))

	_, err = IdentifierParameters(simple, []any{1, 2}, 1)
	assert.True(t, lerrors.IsIllegalState(err))

	_, err = IdentifierParameters(order, []any{"eu"}, 1)
	assert.True(t, lerrors.IsIllegalState(err))

	_, err = IdentifierParameters(simple, []any{"abc"}, 1)
	assert.True(t, lerrors.IsTypeConversion(err))

	_, err = IdentifierParameters(simple, []any{nil}, 1)
	assert.True(t, lerrors.IsIllegalState(err))
}

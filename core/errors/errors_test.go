package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		check    func(error) bool
	}{
		{"mapping", NewMappingError("SimpleEntity", "no identifier"), ErrMapping, IsMapping},
		{"data integrity", &DataIntegrityError{Alias: "id0_0_", Row: 1, Reason: "missing"}, ErrDataIntegrity, IsDataIntegrity},
		{"type conversion", &TypeConversionError{Entity: "E", Property: "p", Value: "x", Target: "integer"}, ErrTypeConversion, IsTypeConversion},
		{"resource state", &ResourceStateError{Op: "next", Err: io.ErrClosedPipe}, ErrResourceState, IsResourceState},
		{"illegal state", NewIllegalStateError("bad %s", "context"), ErrIllegalState, IsIllegalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.True(t, tt.check(tt.err))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestCategoriesDoNotOverlap(t *testing.T) {
	err := NewMappingError("E", "broken")
	assert.False(t, IsDataIntegrity(err))
	assert.False(t, IsTypeConversion(err))
	assert.False(t, IsResourceState(err))
	assert.False(t, IsIllegalState(err))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("strconv failure")
	err := &TypeConversionError{Entity: "E", Property: "age", Alias: "age1_0_", Value: "abc", Target: "integer", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "age1_0_")

	rs := &ResourceStateError{Op: "columns", Err: cause}
	assert.ErrorIs(t, rs, cause)
	assert.Equal(t, "resource state error during columns: strconv failure", rs.Error())
}

func TestDataIntegrityErrorMessage(t *testing.T) {
	err := &DataIntegrityError{Row: 3, Reason: "null identifier"}
	assert.Equal(t, "data integrity error at row 3: null identifier", err.Error())

	err = &DataIntegrityError{Alias: "id0_0_", Row: 0, Reason: "column not present in result set"}
	assert.Contains(t, err.Error(), `"id0_0_"`)
}

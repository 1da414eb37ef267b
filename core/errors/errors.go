// Package errors defines the failure taxonomy of the loading pipeline. Every
// typed error matches its sentinel through errors.Is, so callers can branch on
// the category without caring which component produced it.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure category.
var (
	// ErrMapping is returned when entity metadata is incomplete or inconsistent.
	ErrMapping = errors.New("mapping error")

	// ErrDataIntegrity is returned when a result row does not have the shape the
	// alias context predicts.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrTypeConversion is returned when a column value cannot be converted to
	// the semantic type of its property.
	ErrTypeConversion = errors.New("type conversion error")

	// ErrResourceState is returned when a cursor or connection is closed or fails
	// while it is being read.
	ErrResourceState = errors.New("resource state error")

	// ErrIllegalState is returned when a component is used with collaborators
	// that do not belong together (for example an alias context built for
	// another plan).
	ErrIllegalState = errors.New("illegal state")
)

// MappingError reports a metadata problem for a given entity.
type MappingError struct {
	Entity string
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("mapping error for entity %q: %s", e.Entity, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// NewMappingError creates a MappingError with a formatted reason.
func NewMappingError(entity, format string, args ...any) *MappingError {
	return &MappingError{Entity: entity, Reason: fmt.Sprintf(format, args...)}
}

// DataIntegrityError reports a row whose layout does not match the statement's
// expected aliases.
type DataIntegrityError struct {
	Alias  string
	Row    int
	Reason string
}

func (e *DataIntegrityError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("data integrity error at row %d, column %q: %s", e.Row, e.Alias, e.Reason)
	}
	return fmt.Sprintf("data integrity error at row %d: %s", e.Row, e.Reason)
}

func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// TypeConversionError reports a single value that could not be converted.
type TypeConversionError struct {
	Entity   string
	Property string
	Alias    string
	Value    any
	Target   string
	Err      error
}

func (e *TypeConversionError) Error() string {
	msg := fmt.Sprintf("cannot convert %T value %v of column %q to %s for %s.%s",
		e.Value, e.Value, e.Alias, e.Target, e.Entity, e.Property)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeConversionError) Is(target error) bool {
	return target == ErrTypeConversion
}

func (e *TypeConversionError) Unwrap() error {
	return e.Err
}

// ResourceStateError reports a cursor or connection failure.
type ResourceStateError struct {
	Op  string
	Err error
}

func (e *ResourceStateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resource state error during %s", e.Op)
	}
	return fmt.Sprintf("resource state error during %s: %v", e.Op, e.Err)
}

func (e *ResourceStateError) Is(target error) bool {
	return target == ErrResourceState
}

func (e *ResourceStateError) Unwrap() error {
	return e.Err
}

// IllegalStateError reports misuse of a component.
type IllegalStateError struct {
	Reason string
}

func (e *IllegalStateError) Error() string {
	return "illegal state: " + e.Reason
}

func (e *IllegalStateError) Is(target error) bool {
	return target == ErrIllegalState
}

// NewIllegalStateError creates an IllegalStateError with a formatted reason.
func NewIllegalStateError(format string, args ...any) *IllegalStateError {
	return &IllegalStateError{Reason: fmt.Sprintf(format, args...)}
}

// IsMapping reports whether err is a mapping error.
func IsMapping(err error) bool {
	return errors.Is(err, ErrMapping)
}

// IsDataIntegrity reports whether err is a data integrity error.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

// IsTypeConversion reports whether err is a type conversion error.
func IsTypeConversion(err error) bool {
	return errors.Is(err, ErrTypeConversion)
}

// IsResourceState reports whether err is a resource state error.
func IsResourceState(err error) bool {
	return errors.Is(err, ErrResourceState)
}

// IsIllegalState reports whether err is an illegal state error.
func IsIllegalState(err error) bool {
	return errors.Is(err, ErrIllegalState)
}

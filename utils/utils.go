// Package utils holds conversions shared by the persistence facade and the
// command line.
package utils

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

// StructToMap converts a struct, or pointer to struct, into a document keyed
// by its json field names.
//
// Nested objects are kept as json.RawMessage rather than decoded into maps, so
// a struct field holding a struct round-trips through MapToStruct unchanged.
// Arrays, numbers and strings come back the way encoding/json decodes them:
// []any, float64 and string.
//
//	type Book struct {
//		ID   int64          `json:"id"`
//		Meta map[string]any `json:"meta"`
//	}
//	doc, _ := StructToMap(Book{ID: 7, Meta: map[string]any{"lang": "en"}})
//	// doc == map[string]any{"id": float64(7), "meta": json.RawMessage(`{"lang":"en"}`)}
func StructToMap[T any](record T) (map[string]any, error) {
	val := reflect.ValueOf(record)
	if !val.IsValid() {
		return nil, fmt.Errorf("input record cannot be nil")
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("input record cannot be a nil pointer to a struct")
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("input record must be a struct or a pointer to a struct, got %s", val.Kind())
	}

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("StructToMap: failed to marshal input record to JSON: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(jsonBytes, &decoded); err != nil {
		return nil, fmt.Errorf("StructToMap: failed to decode record: %w", err)
	}

	result := make(map[string]any, len(decoded))
	for key, v := range decoded {
		nested, ok := v.(map[string]any)
		if !ok {
			result[key] = v
			continue
		}
		raw, err := json.Marshal(nested)
		if err != nil {
			return nil, fmt.Errorf("StructToMap: error re-marshaling nested map for key '%s': %w", key, err)
		}
		result[key] = json.RawMessage(raw)
	}
	return result, nil
}

// MapToStruct is the inverse of StructToMap. T must be a struct or a pointer
// to a struct.
func MapToStruct[T any](input map[string]any) (T, error) {
	var zero T
	if input == nil {
		return zero, fmt.Errorf("MapToStruct: input map cannot be nil")
	}

	typ := reflect.TypeOf(zero)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return zero, fmt.Errorf("MapToStruct: generic type T must be a struct type (or pointer to struct), got %v", typ)
	}

	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to marshal input map to JSON: %w", err)
	}
	var result T
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return zero, fmt.Errorf("MapToStruct: failed to unmarshal JSON to target struct: %w", err)
	}
	return result, nil
}

package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meta struct {
	Lang string `json:"lang"`
}

type book struct {
	ID   int64    `json:"id"`
	Tags []string `json:"tags"`
	Meta meta     `json:"meta"`
}

func TestStructToMapAndBack(t *testing.T) {
	in := book{ID: 7, Tags: []string{"sf"}, Meta: meta{Lang: "en"}}

	doc, err := StructToMap(&in)
	require.NoError(t, err)
	assert.Equal(t, float64(7), doc["id"])
	assert.Equal(t, []any{"sf"}, doc["tags"])
	assert.JSONEq(t, `{"lang":"en"}`, string(doc["meta"].(json.RawMessage)))

	out, err := MapToStruct[book](doc)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	ptr, err := MapToStruct[*book](doc)
	require.NoError(t, err)
	assert.Equal(t, in, *ptr)
}

func TestConversionErrors(t *testing.T) {
	_, err := StructToMap[any](nil)
	assert.Error(t, err)
	_, err = StructToMap((*book)(nil))
	assert.Error(t, err)
	_, err = StructToMap(42)
	assert.Error(t, err)

	_, err = MapToStruct[book](nil)
	assert.Error(t, err)
	_, err = MapToStruct[int](map[string]any{})
	assert.Error(t, err)
}

func TestPtr(t *testing.T) {
	p := Ptr("x")
	assert.Equal(t, "x", *p)
}

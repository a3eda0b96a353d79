package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"userRequest": map[string]interface{}{"type": "string"},
		"priority":    map[string]interface{}{"type": "integer", "minimum": 0},
	},
	"required":             []interface{}{"userRequest"},
	"additionalProperties": false,
}

func TestCompileAndValidate(t *testing.T) {
	v, err := Compile(taskSchema)
	require.NoError(t, err)

	result, err := v.Validate(map[string]interface{}{
		"userRequest": "Deploy X",
		"priority":    3,
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidateMissingRequired(t *testing.T) {
	v, err := Compile(taskSchema)
	require.NoError(t, err)

	result, err := v.Validate(map[string]interface{}{"priority": 1})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "userRequest")
}

func TestValidateRejectsUnknownKeys(t *testing.T) {
	v, err := Compile(taskSchema)
	require.NoError(t, err)

	result, err := v.Validate(map[string]interface{}{
		"userRequest": "x",
		"extra":       true,
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateIsIdempotent(t *testing.T) {
	v, err := Compile(taskSchema)
	require.NoError(t, err)

	value := map[string]interface{}{"userRequest": 42}
	first, err := v.Validate(value)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := v.Validate(value)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMustValidateWrapsErrors(t *testing.T) {
	v, err := Compile(taskSchema)
	require.NoError(t, err)

	err = v.MustValidate("input", map[string]interface{}{})
	require.Error(t, err)

	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Equal(t, "input", ve.Subject)
	assert.NotEmpty(t, ve.Errors)
}

func TestCompileFromString(t *testing.T) {
	v, err := Compile(`{"type": "object"}`)
	require.NoError(t, err)

	result, err := v.Validate(map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestCompileNil(t *testing.T) {
	_, err := Compile(nil)
	assert.Error(t, err)
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalCondition(t *testing.T, source string, inputs map[string]interface{}, outputs map[string]map[string]interface{}) bool {
	t.Helper()
	cond, err := ParseCondition(source)
	require.NoError(t, err)
	result, err := cond.Evaluate(inputs, outputs)
	require.NoError(t, err)
	return result
}

func TestConditionEquality(t *testing.T) {
	outputs := map[string]map[string]interface{}{
		"a": {"shouldRun": true, "count": float64(3), "env": "prod"},
	}

	assert.True(t, evalCondition(t, "$steps.a.output.shouldRun == true", nil, outputs))
	assert.False(t, evalCondition(t, "$steps.a.shouldRun == false", nil, outputs))
	assert.True(t, evalCondition(t, "$steps.a.env == 'prod'", nil, outputs))
	assert.True(t, evalCondition(t, `$steps.a.env != "staging"`, nil, outputs))
}

func TestConditionOrdering(t *testing.T) {
	outputs := map[string]map[string]interface{}{
		"estimate": {"cost": float64(120)},
	}

	assert.True(t, evalCondition(t, "$steps.estimate.cost > 100", nil, outputs))
	assert.True(t, evalCondition(t, "$steps.estimate.cost <= 120", nil, outputs))
	assert.False(t, evalCondition(t, "$steps.estimate.cost < 100", nil, outputs))
}

func TestConditionNumericNormalization(t *testing.T) {
	// Decoded JSON yields float64; literals written as integers must still
	// compare equal.
	outputs := map[string]map[string]interface{}{"a": {"n": float64(5)}}
	assert.True(t, evalCondition(t, "$steps.a.n == 5", nil, outputs))
}

func TestConditionBooleanCombinators(t *testing.T) {
	inputs := map[string]interface{}{"dryRun": false}
	outputs := map[string]map[string]interface{}{
		"validate": {"passed": true},
	}

	assert.True(t, evalCondition(t, "$steps.validate.passed == true && $input.dryRun == false", inputs, outputs))
	assert.True(t, evalCondition(t, "$input.dryRun == true || $steps.validate.passed", inputs, outputs))
	assert.True(t, evalCondition(t, "!$input.dryRun", inputs, outputs))
	assert.True(t, evalCondition(t, "($input.dryRun || $steps.validate.passed) && true", inputs, outputs))
}

func TestConditionUndefinedReferenceIsFalsy(t *testing.T) {
	assert.False(t, evalCondition(t, "$steps.ghost.output.flag", nil, map[string]map[string]interface{}{}))
	assert.True(t, evalCondition(t, "$steps.ghost.flag == null", nil, map[string]map[string]interface{}{}))
}

func TestConditionRejectsUnknownIdentifiers(t *testing.T) {
	_, err := ParseCondition("os.exec('rm -rf /')")
	require.Error(t, err)

	_, err = ParseCondition("$steps.a.x == foo")
	require.Error(t, err)
}

func TestConditionRejectsMalformedExpressions(t *testing.T) {
	for _, source := range []string{
		"",
		"==",
		"$steps.a.x ==",
		"($steps.a.x == 1",
		"$steps.a.x == 'unterminated",
		"$env.HOME == 'x'",
	} {
		_, err := ParseCondition(source)
		assert.Error(t, err, source)
	}
}

func TestConditionTypeMismatch(t *testing.T) {
	cond, err := ParseCondition("$steps.a.name > 3")
	require.NoError(t, err)

	_, err = cond.Evaluate(nil, map[string]map[string]interface{}{"a": {"name": "abc"}})
	assert.Error(t, err)
}

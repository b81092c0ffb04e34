package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rete/internal/value"
)

func TestEvalFormulaArithmetic(t *testing.T) {
	v, err := EvalFormula("2 + 3 * 4", nil)
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 14.0, f)
}

func TestEvalFormulaParentheses(t *testing.T) {
	v, err := EvalFormula("(2 + 3) * 4", nil)
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 20.0, f)
}

func TestEvalFormulaVariables(t *testing.T) {
	bindings := map[string]value.Value{"hours": value.NewFloat(40), "rate": value.NewFloat(25)}
	v, err := EvalFormula("hours * rate", bindings)
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 1000.0, f)
}

func TestEvalFormulaComparison(t *testing.T) {
	v, err := EvalFormula("5 > 3", nil)
	require.NoError(t, err)
	b, _ := v.Bool()
	assert.True(t, b)
}

func TestEvalFormulaFunctions(t *testing.T) {
	v, err := EvalFormula("max(3, 7, 2)", nil)
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 7.0, f)

	v, err = EvalFormula(`typeof(1)`, nil)
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "float", s)
}

func TestEvalFormulaUnboundVariable(t *testing.T) {
	_, err := EvalFormula("missing + 1", nil)
	assert.Error(t, err)
}

func TestEvalFormulaDivisionByZero(t *testing.T) {
	_, err := EvalFormula("1 / 0", nil)
	assert.Error(t, err)
}

func TestEvalFormulaStringConcat(t *testing.T) {
	bindings := map[string]value.Value{"name": value.NewString("alice")}
	v, err := EvalFormula(`concat("hello ", name)`, bindings)
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "hello alice", s)
}

func TestEvalFormulaMathFunctions(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"floor(3.7)", 3},
		{"ceil(3.2)", 4},
		{"sqrt(16)", 4},
	}
	for _, c := range cases {
		v, err := EvalFormula(c.expr, nil)
		require.NoError(t, err, c.expr)
		f, _ := v.AsFloat64()
		assert.Equal(t, c.want, f, c.expr)
	}
}

func TestEvalFormulaStringFunctions(t *testing.T) {
	v, err := EvalFormula(`upper("shout")`, nil)
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "SHOUT", s)

	v, err = EvalFormula(`lower("QUIET")`, nil)
	require.NoError(t, err)
	s, _ = v.Str()
	assert.Equal(t, "quiet", s)

	v, err = EvalFormula(`substring("hello world", 6)`, nil)
	require.NoError(t, err)
	s, _ = v.Str()
	assert.Equal(t, "world", s)

	v, err = EvalFormula(`substring("hello world", 0, 5)`, nil)
	require.NoError(t, err)
	s, _ = v.Str()
	assert.Equal(t, "hello", s)
}

func TestEvalFormulaLength(t *testing.T) {
	v, err := EvalFormula(`length("hello")`, nil)
	require.NoError(t, err)
	n, _ := v.Int()
	assert.Equal(t, int64(5), n)
}

func TestEvalFormulaCoalesceSkipsFailingArguments(t *testing.T) {
	bindings := map[string]value.Value{"b": value.NewFloat(2)}
	v, err := EvalFormula("coalesce(a, b, 9)", bindings)
	require.NoError(t, err)
	f, _ := v.AsFloat64()
	assert.Equal(t, 2.0, f)
}

func TestEvalFormulaCoalesceAllFail(t *testing.T) {
	_, err := EvalFormula("coalesce(a, b)", nil)
	assert.Error(t, err)
}

func TestEvalFormulaLogicalOperators(t *testing.T) {
	v, err := EvalFormula("5 > 3 && 2 < 4", nil)
	require.NoError(t, err)
	b, _ := v.Bool()
	assert.True(t, b)

	v, err = EvalFormula("5 < 3 || 2 < 4", nil)
	require.NoError(t, err)
	b, _ = v.Bool()
	assert.True(t, b)

	v, err = EvalFormula("!(5 > 3)", nil)
	require.NoError(t, err)
	b, _ = v.Bool()
	assert.False(t, b)

	v, err = EvalFormula("5 != 3", nil)
	require.NoError(t, err)
	b, _ = v.Bool()
	assert.True(t, b, "!= must still parse as not-equal, not unary-not followed by '='")
}

func TestEvalFormulaConditionalExpression(t *testing.T) {
	v, err := EvalFormula(`10 > 5 ? "big" : "small"`, nil)
	require.NoError(t, err)
	s, _ := v.Str()
	assert.Equal(t, "big", s)

	v, err = EvalFormula(`1 > 5 ? "big" : "small"`, nil)
	require.NoError(t, err)
	s, _ = v.Str()
	assert.Equal(t, "small", s)
}

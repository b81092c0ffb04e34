package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesOp(t *testing.T) {
	e := Rule("AddRule", "unknown condition type", nil)
	assert.Contains(t, e.Error(), "AddRule")
	assert.Contains(t, e.Error(), "unknown condition type")
}

func TestWithRuleFactNode(t *testing.T) {
	e := Network("compile", "boom", nil).WithRule(1).WithFact(2).WithNode(3)
	require := assert.New(t)
	require.NotNil(e.RuleId)
	require.Equal(uint64(1), *e.RuleId)
	require.Equal(uint64(2), *e.FactId)
	require.Equal(uint64(3), *e.NodeId)
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("root cause")
	e := Calculator("Call", "failed", inner)
	assert.Equal(t, inner, errors.Unwrap(e))
}

func TestIsCritical(t *testing.T) {
	assert.True(t, IsCritical(Network("x", "y", nil)))
	assert.False(t, IsCritical(Rule("x", "y", nil)))
	assert.False(t, IsCritical(errors.New("plain error")))
}

func TestWithDetail(t *testing.T) {
	e := Validation("Assert", "bad value", nil).WithDetail("field", "amount")
	assert.Equal(t, "amount", e.Details["field"])
}

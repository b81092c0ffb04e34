package agenda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

func tokenFor(ids ...value.FactId) tok.Token {
	return tok.Token{Facts: ids}
}

func TestPriorityOrdering(t *testing.T) {
	a := New(StrategyPriority)
	a.Activate(1, "low", tokenFor(1), 1, 0, 1)
	a.Activate(2, "high", tokenFor(2), 5, 0, 1)

	act, ok := a.Pop()
	require.True(t, ok)
	assert.Equal(t, rule.RuleId(2), act.RuleId)
}

func TestSalienceBreaksPriorityTie(t *testing.T) {
	a := New(StrategyPriority)
	a.Activate(1, "a", tokenFor(1), 1, 1, 1)
	a.Activate(2, "b", tokenFor(2), 1, 5, 1)

	act, ok := a.Pop()
	require.True(t, ok)
	assert.Equal(t, rule.RuleId(2), act.RuleId)
}

func TestInsertionOrderIsDeterministicFallback(t *testing.T) {
	a := New(StrategyPriority)
	a.Activate(1, "a", tokenFor(1), 0, 0, 1)
	a.Activate(2, "b", tokenFor(2), 0, 0, 1)

	first, _ := a.Pop()
	second, _ := a.Pop()
	assert.Equal(t, rule.RuleId(1), first.RuleId)
	assert.Equal(t, rule.RuleId(2), second.RuleId)
}

func TestSpecificityStrategyPrefersMoreConditions(t *testing.T) {
	a := New(StrategySpecificity)
	a.Activate(1, "broad", tokenFor(1), 0, 0, 1)
	a.Activate(2, "narrow", tokenFor(2), 0, 0, 3)

	act, _ := a.Pop()
	assert.Equal(t, rule.RuleId(2), act.RuleId)
}

func TestSpecificityStrategyStillDefersToPriority(t *testing.T) {
	a := New(StrategySpecificity)
	a.Activate(1, "broad_but_important", tokenFor(1), 5, 0, 1)
	a.Activate(2, "narrow_low_priority", tokenFor(2), 0, 0, 3)

	act, _ := a.Pop()
	assert.Equal(t, rule.RuleId(1), act.RuleId, "priority must be consulted before specificity under StrategySpecificity")
}

func TestLexicographicStrategyStillDefersToSalience(t *testing.T) {
	a := New(StrategyLexicographic)
	a.Activate(2, "zeta", tokenFor(1), 0, 5, 1)
	a.Activate(1, "alpha", tokenFor(2), 0, 0, 1)

	act, _ := a.Pop()
	assert.Equal(t, rule.RuleId(2), act.RuleId, "salience must be consulted before the lexicographic tiebreaker")
}

func TestLexicographicStrategyOrdersByName(t *testing.T) {
	a := New(StrategyLexicographic)
	a.Activate(2, "zeta", tokenFor(1), 0, 0, 1)
	a.Activate(1, "alpha", tokenFor(2), 0, 0, 1)

	act, _ := a.Pop()
	assert.Equal(t, rule.RuleId(1), act.RuleId)
}

func TestRefractionPreventsRefireUntilRetracted(t *testing.T) {
	a := New(StrategyPriority)
	a.RegisterRule(1, true)
	tk := tokenFor(1)

	a.Activate(1, "r", tk, 0, 0, 1)
	_, ok := a.Pop()
	require.True(t, ok)

	a.Activate(1, "r", tk, 0, 0, 1)
	assert.Equal(t, 0, a.Len(), "refraction should suppress reactivation of the same (rule, token)")

	a.Deactivate(1, tk)
	a.Activate(1, "r", tk, 0, 0, 1)
	assert.Equal(t, 1, a.Len(), "after Deactivate the (rule, token) pair may fire again")
}

func TestNoRefractionAllowsRefire(t *testing.T) {
	a := New(StrategyPriority)
	a.RegisterRule(1, false)
	tk := tokenFor(1)

	a.Activate(1, "r", tk, 0, 0, 1)
	a.Pop()
	a.Activate(1, "r", tk, 0, 0, 1)
	assert.Equal(t, 1, a.Len())
}

func TestDuplicateActivationIsIgnoredWhileLive(t *testing.T) {
	a := New(StrategyPriority)
	tk := tokenFor(1)
	a.Activate(1, "r", tk, 0, 0, 1)
	a.Activate(1, "r", tk, 0, 0, 1)
	assert.Equal(t, 1, a.Len())
}

func TestUnregisterRuleClearsActivations(t *testing.T) {
	a := New(StrategyPriority)
	a.Activate(1, "r", tokenFor(1), 0, 0, 1)
	a.UnregisterRule(1)
	assert.Equal(t, 0, a.Len())
}

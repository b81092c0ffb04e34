package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rete/internal/config"
	"rete/internal/rule"
	"rete/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// overtimeRule flags shifts over 8 hours as reviewed. The condition tests
// reviewed==false so a fact can never re-match after SetField flips it to
// true, which keeps the rule from retriggering on its own output.
func overtimeRule() *rule.Rule {
	return &rule.Rule{
		Name: "flag_overtime",
		Conditions: []rule.Condition{
			rule.PatternCondition{Pattern: rule.Pattern{
				Alias: "shift",
				Tests: []rule.FieldTest{
					{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("shift")},
					{Field: "hours", Operator: rule.OpGreater, Literal: value.NewFloat(8)},
					{Field: "reviewed", Operator: rule.OpEqual, Literal: value.NewBool(false)},
				},
			}},
		},
		Actions: []rule.Action{
			rule.SetFieldAction{Alias: "shift", Field: "reviewed", Value: rule.Lit(value.NewBool(true))},
		},
		Refraction:    true,
		UpdateInPlace: true,
		Enabled:       true,
	}
}

func TestEngineLifecycleRejectsRuleAdditionAfterStart(t *testing.T) {
	e := New(config.Default())
	_, err := e.AddRule(overtimeRule())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	_, err = e.AddRule(overtimeRule())
	assert.Error(t, err, "AddRule must fail once the engine has left Configuring")
}

func TestEngineAssertAndProcessFiresAction(t *testing.T) {
	e := New(config.Default())
	_, err := e.AddRule(overtimeRule())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	_, err = e.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "hours": value.NewFloat(10), "reviewed": value.NewBool(false)}, "")
	require.NoError(t, err)

	fired, err := e.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	stats := e.GetStats()
	assert.Equal(t, 1, stats.FactCount, "UpdateInPlace should retract the original, leaving one live fact")
}

func TestEngineRefractionPreventsRefireAcrossProcessCalls(t *testing.T) {
	e := New(config.Default())
	_, err := e.AddRule(overtimeRule())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	_, err = e.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "hours": value.NewFloat(10), "reviewed": value.NewBool(false)}, "")
	require.NoError(t, err)

	first, err := e.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	second, err := e.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second, "no new facts were asserted; nothing should fire again")
}

func TestEngineClearRejectsFurtherOperations(t *testing.T) {
	e := New(config.Default())
	require.NoError(t, e.Start())
	e.Clear()

	_, err := e.AssertFact(map[string]value.Value{"x": value.NewInt(1)}, "")
	assert.Error(t, err)
}

func TestRegisterCalculatorRejectedAfterStart(t *testing.T) {
	e := New(config.Default())
	require.NoError(t, e.Start())
	err := e.RegisterCalculator(nil)
	assert.Error(t, err)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	e := New(config.Default())
	r := overtimeRule()
	r.Enabled = false
	_, err := e.AddRule(r)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	_, err = e.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "hours": value.NewFloat(10), "reviewed": value.NewBool(false)}, "")
	require.NoError(t, err)

	fired, err := e.Process(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fired, "a disabled rule must never be activated, let alone fire")
}

func TestEvaluateDoesNotMutateStoreOrRetainDerivedFacts(t *testing.T) {
	e := New(config.Default())
	_, err := e.AddRule(overtimeRule())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	before := e.GetStats().FactCount

	fired, effects, err := e.Evaluate(context.Background(), []map[string]value.Value{
		{"type": value.NewString("shift"), "hours": value.NewFloat(10), "reviewed": value.NewBool(false)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, effects, 1)
	assert.Equal(t, "set_field", effects[0].Kind)

	after := e.GetStats().FactCount
	assert.Equal(t, before, after, "evaluate must leave the store exactly as it found it")
}

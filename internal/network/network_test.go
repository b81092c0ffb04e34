package network

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rete/internal/config"
	"rete/internal/profiler"
	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

func newTestNetwork() *Network {
	return New(config.Default(), profiler.New())
}

func TestSimpleJoinFiresOnBothSidesPresent(t *testing.T) {
	n := newTestNetwork()
	r := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "employee",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("employee")}},
			Bindings: []rule.Binding{{Field: "id", Var: "eid"}},
		}},
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "shift",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("shift")}},
			Bindings: []rule.Binding{{Field: "employee_id", Var: "eid"}},
		}},
	}}
	require.NoError(t, n.AddRule(r))

	term, _ := n.Terminal(r.Id)
	fired := 0
	term.OnActivate = func(_ *rule.Rule, _ tok.Token) { fired++ }

	_, err := n.AssertFact(map[string]value.Value{"type": value.NewString("employee"), "id": value.NewInt(42)}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, fired, "join should not fire with only one side present")

	_, err = n.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "employee_id": value.NewInt(42)}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestJoinDoesNotFireOnMismatchedKey(t *testing.T) {
	n := newTestNetwork()
	r := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "employee",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("employee")}},
			Bindings: []rule.Binding{{Field: "id", Var: "eid"}},
		}},
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "shift",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("shift")}},
			Bindings: []rule.Binding{{Field: "employee_id", Var: "eid"}},
		}},
	}}
	require.NoError(t, n.AddRule(r))
	term, _ := n.Terminal(r.Id)
	fired := 0
	term.OnActivate = func(_ *rule.Rule, _ tok.Token) { fired++ }

	n.AssertFact(map[string]value.Value{"type": value.NewString("employee"), "id": value.NewInt(1)}, "")
	n.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "employee_id": value.NewInt(999)}, "")
	assert.Equal(t, 0, fired)
}

func TestRetractPropagatesThroughJoin(t *testing.T) {
	n := newTestNetwork()
	r := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "employee",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("employee")}},
			Bindings: []rule.Binding{{Field: "id", Var: "eid"}},
		}},
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "shift",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("shift")}},
			Bindings: []rule.Binding{{Field: "employee_id", Var: "eid"}},
		}},
	}}
	require.NoError(t, n.AddRule(r))
	term, _ := n.Terminal(r.Id)
	activated, deactivated := 0, 0
	term.OnActivate = func(_ *rule.Rule, _ tok.Token) { activated++ }
	term.OnDeactivate = func(_ *rule.Rule, _ tok.Token) { deactivated++ }

	emp, _ := n.AssertFact(map[string]value.Value{"type": value.NewString("employee"), "id": value.NewInt(1)}, "")
	n.AssertFact(map[string]value.Value{"type": value.NewString("shift"), "employee_id": value.NewInt(1)}, "")
	assert.Equal(t, 1, activated)

	n.RetractFact(emp.Id)
	assert.Equal(t, 1, deactivated)
}

func TestNegatedConditionBlocksWhileMatchExists(t *testing.T) {
	n := newTestNetwork()
	r := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{
		rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "employee",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("employee")}},
			Bindings: []rule.Binding{{Field: "id", Var: "eid"}},
		}},
		rule.NotCondition{Child: rule.PatternCondition{Pattern: rule.Pattern{
			Alias: "leave",
			Tests: []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("leave")}},
			Bindings: []rule.Binding{{Field: "employee_id", Var: "eid"}},
		}}},
	}}
	require.NoError(t, n.AddRule(r))
	term, _ := n.Terminal(r.Id)
	activated, deactivated := 0, 0
	term.OnActivate = func(_ *rule.Rule, _ tok.Token) { activated++ }
	term.OnDeactivate = func(_ *rule.Rule, _ tok.Token) { deactivated++ }

	n.AssertFact(map[string]value.Value{"type": value.NewString("employee"), "id": value.NewInt(1)}, "")
	assert.Equal(t, 1, activated, "negated condition with no match should activate immediately")

	leave, _ := n.AssertFact(map[string]value.Value{"type": value.NewString("leave"), "employee_id": value.NewInt(1)}, "")
	assert.Equal(t, 1, deactivated, "asserting a matching fact for the negated pattern should deactivate")

	n.RetractFact(leave.Id)
	assert.Equal(t, 2, activated, "retracting the blocking fact should reactivate")
}

func TestOrDisjunctionDedupsAtTerminal(t *testing.T) {
	n := newTestNetwork()
	r := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{
		rule.OrCondition{Children: []rule.Condition{
			rule.PatternCondition{Pattern: rule.Pattern{
				Alias: "item",
				Tests: []rule.FieldTest{{Field: "category", Operator: rule.OpEqual, Literal: value.NewString("a")}},
			}},
			rule.PatternCondition{Pattern: rule.Pattern{
				Alias: "item",
				Tests: []rule.FieldTest{{Field: "priority", Operator: rule.OpEqual, Literal: value.NewInt(1)}},
			}},
		}},
	}}
	require.NoError(t, n.AddRule(r))
	term, _ := n.Terminal(r.Id)
	activated := 0
	term.OnActivate = func(_ *rule.Rule, _ tok.Token) { activated++ }

	// A fact matching BOTH disjuncts should still activate the terminal once.
	n.AssertFact(map[string]value.Value{"category": value.NewString("a"), "priority": value.NewInt(1)}, "")
	assert.Equal(t, 1, activated)
}

func TestAlphaFanOutWorkerPoolMatchesSerialResult(t *testing.T) {
	cfg := config.Default()
	cfg.AlphaWorkers = 4
	n := New(cfg, profiler.New())

	for i := 0; i < 5; i++ {
		alias := "e"
		tests := []rule.FieldTest{{Field: "kind", Operator: rule.OpEqual, Literal: value.NewInt(int64(i))}}
		r := &rule.Rule{Id: rule.RuleId(i + 1), Name: "r", Conditions: []rule.Condition{
			rule.PatternCondition{Pattern: rule.Pattern{Alias: alias, Tests: tests}},
		}}
		require.NoError(t, n.AddRule(r))
	}
	assert.Equal(t, 5, n.AlphaCount())

	var mu sync.Mutex
	activations := 0
	for i := 0; i < 5; i++ {
		term, _ := n.Terminal(rule.RuleId(i + 1))
		term.OnActivate = func(_ *rule.Rule, _ tok.Token) {
			mu.Lock()
			activations++
			mu.Unlock()
		}
	}

	for i := 0; i < 5; i++ {
		_, err := n.AssertFact(map[string]value.Value{"kind": value.NewInt(int64(i))}, "")
		require.NoError(t, err)
	}
	mu.Lock()
	assert.Equal(t, 5, activations, "every alpha node should still be reached exactly once under concurrent fan-out")
	mu.Unlock()
}

func TestSharedAlphaNodeAcrossRules(t *testing.T) {
	n := newTestNetwork()
	tests := []rule.FieldTest{{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("employee")}}
	r1 := &rule.Rule{Id: 1, Name: "r1", Conditions: []rule.Condition{rule.PatternCondition{Pattern: rule.Pattern{Alias: "e", Tests: tests}}}}
	r2 := &rule.Rule{Id: 2, Name: "r2", Conditions: []rule.Condition{rule.PatternCondition{Pattern: rule.Pattern{Alias: "e", Tests: tests}}}}
	require.NoError(t, n.AddRule(r1))
	require.NoError(t, n.AddRule(r2))
	assert.Equal(t, 1, n.AlphaCount(), "identical field tests must share one AlphaNode")
}

package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rete/internal/value"
)

func TestOperatorString(t *testing.T) {
	assert.Equal(t, "==", OpEqual.String())
	assert.Equal(t, "starts_with", OpStartsWith.String())
}

func TestValueExprConstructors(t *testing.T) {
	lit := Lit(value.NewInt(5))
	assert.NotNil(t, lit.Literal)
	assert.Equal(t, "", lit.VarRef)

	v := VarRef("amount")
	assert.Equal(t, "amount", v.VarRef)
	assert.Nil(t, v.Literal)

	f := FieldRefExpr("order", "amount")
	assert.Equal(t, "order", f.FieldRef.Alias)
	assert.Equal(t, "amount", f.FieldRef.Field)
}

func TestConditionVariantsSatisfyInterface(t *testing.T) {
	var conds []Condition
	conds = append(conds,
		PatternCondition{Pattern: Pattern{Alias: "a"}},
		AndCondition{},
		OrCondition{},
		NotCondition{Child: PatternCondition{}},
		AggregationCondition{Function: AggCount},
	)
	assert.Len(t, conds, 5)
}

func TestActionVariantsSatisfyInterface(t *testing.T) {
	var actions []Action
	actions = append(actions,
		SetFieldAction{},
		CreateFactAction{},
		CallCalculatorAction{},
		FormulaAction{},
		TriggerAlertAction{},
		LogAction{},
	)
	assert.Len(t, actions, 6)
}

func TestAggregateFunctionString(t *testing.T) {
	assert.Equal(t, "distinct_count", AggDistinctCount.String())
	assert.Equal(t, "average", AggAverage.String())
}

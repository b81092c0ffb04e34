package rule

import "rete/internal/value"

// ValueExpr is the small value-producing expression used by action
// arguments: a literal, a reference to a bound variable, or a reference to
// a field of a bound pattern occurrence.
type ValueExpr struct {
	Literal  *value.Value
	VarRef   string
	FieldRef *FieldRef
}

// FieldRef points at a field of the fact bound to Alias within the token.
type FieldRef struct {
	Alias string
	Field string
}

func Lit(v value.Value) ValueExpr       { return ValueExpr{Literal: &v} }
func VarRef(name string) ValueExpr      { return ValueExpr{VarRef: name} }
func FieldRefExpr(alias, field string) ValueExpr {
	return ValueExpr{FieldRef: &FieldRef{Alias: alias, Field: field}}
}

// Action is the sum type over the action variants named in spec §4.7.
type Action interface {
	isAction()
}

// SetFieldAction creates a new fact equal to the fact bound to Alias with
// Field overwritten by Value, preserving immutability (spec §4.7).
type SetFieldAction struct {
	Alias string
	Field string
	Value ValueExpr
}

func (SetFieldAction) isAction() {}

// CreateFactAction asserts a new fact built from Template, each entry
// evaluated against the token's bindings.
type CreateFactAction struct {
	Template map[string]ValueExpr
}

func (CreateFactAction) isAction() {}

// CalculatorInput binds one calculator parameter name to a value
// expression: a literal, a bound variable, or a field of a bound fact
// (spec §4.7).
type CalculatorInput struct {
	Param string
	Value ValueExpr
}

// CallCalculatorAction invokes a registered calculator and writes its
// result to OutputField of the fact bound to OutputAlias.
type CallCalculatorAction struct {
	Name        string
	Inputs      []CalculatorInput
	OutputAlias string
	OutputField string
}

func (CallCalculatorAction) isAction() {}

// FormulaAction evaluates Expression (spec §4.7's small expression
// language) against the token's bindings and writes the result to
// OutputField of the fact bound to OutputAlias.
type FormulaAction struct {
	Expression  string
	OutputAlias string
	OutputField string
}

func (FormulaAction) isAction() {}

// TriggerAlertAction emits a structured event to the engine's AlertSink.
type TriggerAlertAction struct {
	AlertType string
	Message   string
	Severity  string
	Metadata  map[string]ValueExpr
}

func (TriggerAlertAction) isAction() {}

// LogAction emits a diagnostic record to the engine's LogSink.
type LogAction struct {
	Message string
}

func (LogAction) isAction() {}

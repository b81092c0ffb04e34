// Package rule implements the declarative rule representation from spec
// §3: rules, conditions (simple/complex/aggregation/window), actions, and
// window specs. The compiler (package network) turns these into
// discrimination-network nodes.
package rule

import (
	"time"

	"rete/internal/value"
)

// RuleId identifies a compiled rule for the lifetime of the engine.
type RuleId uint64

// Operator enumerates the simple-condition comparison operators (spec §3).
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpContains
	OpStartsWith
	OpEndsWith
	OpExists
)

func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpContains:
		return "contains"
	case OpStartsWith:
		return "starts_with"
	case OpEndsWith:
		return "ends_with"
	case OpExists:
		return "exists"
	default:
		return "?"
	}
}

// FieldTest is one (field, operator, literal) simple test, the atomic unit
// named in spec §3. A Pattern conjoins one or more FieldTests that must all
// hold against the same fact.
type FieldTest struct {
	Field    string
	Operator Operator
	Literal  value.Value
}

// Binding associates a field of a matched fact with a rule-scoped variable
// name. If the variable was already bound by an earlier pattern in the
// rule, this binding becomes a beta join-equality constraint (spec §4.4);
// otherwise it introduces the variable for later conditions/actions to
// reference (spec §3 invariant).
type Binding struct {
	Field string
	Var   string
}

// Pattern is one fact-occurrence position within a rule: a conjunction of
// FieldTests (compiled to one AlphaNode) plus variable Bindings used for
// beta joins against earlier patterns and for action value expressions.
type Pattern struct {
	// Alias names this occurrence within the rule (e.g. "shift"), used by
	// actions and Explain to refer back to the bound fact.
	Alias    string
	Tests    []FieldTest
	Bindings []Binding
}

// Condition is the sum type over Simple (Pattern), Complex (And/Or/Not),
// Aggregation, and Stream/Window conditions (spec §3).
type Condition interface {
	isCondition()
}

// PatternCondition wraps a single Pattern as a Condition (the "Simple"
// variant, extended to allow a conjunction of field tests per occurrence —
// see DESIGN.md for why this is the chosen reading of an ambiguous spec
// passage).
type PatternCondition struct {
	Pattern Pattern
}

func (PatternCondition) isCondition() {}

// AndCondition is a logical AND of sub-conditions.
type AndCondition struct {
	Children []Condition
}

func (AndCondition) isCondition() {}

// OrCondition is a logical OR of sub-conditions; the compiler flattens
// this into one terminal-sharing path per disjunct (spec §4.2).
type OrCondition struct {
	Children []Condition
}

func (OrCondition) isCondition() {}

// NotCondition encodes negation-as-failure over a join sub-pattern (spec
// §3, §4.4): the condition holds when Child has no match.
type NotCondition struct {
	Child Condition
}

func (NotCondition) isCondition() {}

// AggregateFunction enumerates the supported aggregate functions (spec
// §4.5).
type AggregateFunction int

const (
	AggCount AggregateFunction = iota
	AggSum
	AggAverage
	AggMin
	AggMax
	AggDistinctCount
)

func (f AggregateFunction) String() string {
	switch f {
	case AggCount:
		return "count"
	case AggSum:
		return "sum"
	case AggAverage:
		return "average"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggDistinctCount:
		return "distinct_count"
	default:
		return "?"
	}
}

// WindowKind enumerates the window boundary strategies (spec §3/§4.5).
type WindowKind int

const (
	WindowNone WindowKind = iota
	WindowTumbling
	WindowSliding
	WindowSession
	WindowCountTumbling
	WindowCountSliding
)

// WindowSpec declaratively bounds an aggregation's input (spec §3).
type WindowSpec struct {
	Kind    WindowKind
	Size    time.Duration // Tumbling(Δ), Sliding(size,...)
	Advance time.Duration // Sliding(..., advance)
	Gap     time.Duration // Session(gap)
	Count   int           // CountTumbling(n), CountSliding(size, advance)
	CountAdvance int
}

// HavingTest filters synthetic result facts after aggregation (spec §4.5).
type HavingTest struct {
	Field    string
	Operator Operator
	Literal  value.Value
}

// AggregationCondition groups the tokens produced by the rule's preceding
// conditions by GroupBy fields and applies Function to SourceField,
// optionally bounded by Window and filtered by Having (spec §3). Source is
// not compiled; see DESIGN.md.
type AggregationCondition struct {
	Source        Condition
	SourceField   string
	GroupByFields []string
	Function      AggregateFunction
	Having        *HavingTest
	ResultBinding string
	Window        *WindowSpec
}

func (AggregationCondition) isCondition() {}

// Rule is the declarative rule representation (spec §3).
type Rule struct {
	Id         RuleId
	Name       string
	Conditions []Condition
	Actions    []Action
	Priority   int
	Salience   int
	Enabled    bool

	// Refraction: if false, an activation may fire more than once while its
	// token remains live (spec §4.6 "unless refraction is disabled").
	Refraction bool

	// UpdateInPlace selects SetField's semantics: when true, the original
	// fact is retracted once the replacement is asserted (spec §9 open
	// question, resolved as "new fact + optional retract, configurable per
	// rule").
	UpdateInPlace bool
}

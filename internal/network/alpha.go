package network

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"rete/internal/rule"
	"rete/internal/value"
)

// AlphaNode filters single facts against a conjunction of FieldTests and
// maintains the alpha memory: the set of FactIds currently satisfying them
// (spec §4.3). Two AlphaNodes whose test sets are identical once sorted by
// field and operator are shared (spec §4.2).
type AlphaNode struct {
	id    NodeId
	tests []rule.FieldTest

	mu       sync.RWMutex
	memory   map[value.FactId]struct{}
	children []FactSink
}

func newAlphaNode(id NodeId, tests []rule.FieldTest) *AlphaNode {
	return &AlphaNode{id: id, tests: tests, memory: make(map[value.FactId]struct{})}
}

// alphaSignature returns the canonical string identity used for node
// sharing (spec §4.2's "identical (field, operator, value)" rule, extended
// to a whole test conjunction per DESIGN.md's reading of a pattern
// occurrence as one AlphaNode). Tests are sorted by field, then operator,
// before encoding, so the order they are listed in does not matter.
func alphaSignature(tests []rule.FieldTest) string {
	sorted := append([]rule.FieldTest(nil), tests...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Field != sorted[j].Field {
			return sorted[i].Field < sorted[j].Field
		}
		return sorted[i].Operator < sorted[j].Operator
	})
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = fmt.Sprintf("%s%s%s", t.Field, t.Operator, t.Literal.String())
	}
	return strings.Join(parts, "&")
}

// Matches reports whether fact satisfies every FieldTest.
func (a *AlphaNode) Matches(data map[string]value.Value) bool {
	for _, t := range a.tests {
		v, ok := data[t.Field]
		if t.Operator == rule.OpExists {
			if !ok {
				return false
			}
			continue
		}
		if !ok {
			return false
		}
		if !evalOperator(t.Operator, v, t.Literal) {
			return false
		}
	}
	return true
}

func evalOperator(op rule.Operator, v, literal value.Value) bool {
	switch op {
	case rule.OpEqual:
		return v.Equal(literal)
	case rule.OpNotEqual:
		return !v.Equal(literal)
	case rule.OpLess:
		c, ok := v.Compare(literal)
		return ok && c < 0
	case rule.OpLessEqual:
		c, ok := v.Compare(literal)
		return ok && c <= 0
	case rule.OpGreater:
		c, ok := v.Compare(literal)
		return ok && c > 0
	case rule.OpGreaterEqual:
		c, ok := v.Compare(literal)
		return ok && c >= 0
	case rule.OpContains:
		vs, vok := v.Str()
		ls, lok := literal.Str()
		return vok && lok && strings.Contains(vs, ls)
	case rule.OpStartsWith:
		vs, vok := v.Str()
		ls, lok := literal.Str()
		return vok && lok && strings.HasPrefix(vs, ls)
	case rule.OpEndsWith:
		vs, vok := v.Str()
		ls, lok := literal.Str()
		return vok && lok && strings.HasSuffix(vs, ls)
	default:
		return false
	}
}

func (a *AlphaNode) addChild(s FactSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children = append(a.children, s)
}

// onAssert evaluates fact and, if it matches, inserts it into the alpha
// memory and forwards the event downstream (spec §4.3).
func (a *AlphaNode) onAssert(fact value.Fact) {
	if !a.Matches(fact.Data) {
		return
	}
	a.mu.Lock()
	a.memory[fact.Id] = struct{}{}
	children := append([]FactSink(nil), a.children...)
	a.mu.Unlock()

	for _, c := range children {
		c.ReceiveFact(fact.Id, false)
	}
}

// onRetract removes fact.Id from the alpha memory (if present) and
// forwards the retraction downstream.
func (a *AlphaNode) onRetract(id value.FactId) {
	a.mu.Lock()
	_, ok := a.memory[id]
	if ok {
		delete(a.memory, id)
	}
	children := append([]FactSink(nil), a.children...)
	a.mu.Unlock()

	if !ok {
		return
	}
	for _, c := range children {
		c.ReceiveFact(id, true)
	}
}

// Size returns the number of facts currently in the alpha memory.
func (a *AlphaNode) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.memory)
}

// Contains reports whether id is currently in the alpha memory.
func (a *AlphaNode) Contains(id value.FactId) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.memory[id]
	return ok
}

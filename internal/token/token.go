// Package token defines the Token type shared by the network, agenda, and
// action-executor packages: an ordered tuple of fact references plus a
// bound-variable environment (spec §3).
package token

import (
	"sort"
	"strconv"
	"strings"

	"rete/internal/value"
)

// Token is an ordered tuple of FactIds (never copies of the facts
// themselves) plus the variable bindings accumulated while building it, and
// an alias→fact map so actions can address "the fact bound to this
// pattern's alias" (spec §3, §9: memories and tokens hold only FactIds).
type Token struct {
	Facts    []value.FactId
	Aliases  map[string]value.FactId
	Bindings map[string]value.Value
}

// Empty returns the distinguished root token with no bound facts, the
// starting point for a rule's first condition (spec §3).
func Empty() Token {
	return Token{Aliases: map[string]value.FactId{}, Bindings: map[string]value.Value{}}
}

// Extend returns a new token with fact (bound to alias) appended and the
// given bindings merged in. The receiver is never mutated, so concurrent
// readers of the parent token (e.g. a beta memory under a different probe)
// are unaffected.
func (t Token) Extend(alias string, fact value.FactId, bindings map[string]value.Value) Token {
	facts := make([]value.FactId, len(t.Facts)+1)
	copy(facts, t.Facts)
	facts[len(t.Facts)] = fact

	aliases := make(map[string]value.FactId, len(t.Aliases)+1)
	for k, v := range t.Aliases {
		aliases[k] = v
	}
	if alias != "" {
		aliases[alias] = fact
	}

	env := make(map[string]value.Value, len(t.Bindings)+len(bindings))
	for k, v := range t.Bindings {
		env[k] = v
	}
	for k, v := range bindings {
		env[k] = v
	}

	return Token{Facts: facts, Aliases: aliases, Bindings: env}
}

// Key returns an identifier for the token's fact tuple: its FactIds joined
// in tuple order, so the same facts in another order give another key.
// Used for beta-memory lookups, terminal dedup, and refraction
// (spec §3 invariant: the same (rule, token) pair appears at most once in
// the conflict set).
func (t Token) Key() string {
	ids := make([]string, len(t.Facts))
	for i, f := range t.Facts {
		ids[i] = strconv.FormatUint(uint64(f), 10)
	}
	return strings.Join(ids, ",")
}

// Has reports whether fact is present anywhere in the token's fact tuple.
func (t Token) Has(fact value.FactId) bool {
	for _, f := range t.Facts {
		if f == fact {
			return true
		}
	}
	return false
}

// SortedFacts returns a sorted copy of Facts, useful for deterministic
// iteration in tests.
func (t Token) SortedFacts() []value.FactId {
	cp := append([]value.FactId(nil), t.Facts...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return cp
}

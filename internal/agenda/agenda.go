// Package agenda implements the conflict set and the strategies that order
// it into an agenda (spec §4.6): Priority, Specificity, Lexicographic, and
// Insertion, plus refraction — a (RuleId, Token) pair fires at most once
// while its token remains live, unless the rule disables refraction.
package agenda

import (
	"sort"
	"sync"

	"rete/internal/rule"
	tok "rete/internal/token"
)

// Strategy selects how ties within the conflict set are broken (spec §4.6).
type Strategy string

const (
	StrategyPriority      Strategy = "priority"
	StrategySpecificity   Strategy = "specificity"
	StrategyLexicographic Strategy = "lexicographic"
	StrategyInsertion     Strategy = "insertion"
)

// Activation is one candidate (rule, token) pair waiting to fire.
type Activation struct {
	RuleId      rule.RuleId
	RuleName    string
	Token       tok.Token
	Priority    int
	Salience    int
	Specificity int // number of conditions in the rule, used by StrategySpecificity
	InsertSeq   uint64
}

func activationKey(ruleId rule.RuleId, t tok.Token) string {
	return t.Key() + "#" + itoa(uint64(ruleId))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Agenda holds the live conflict set and hands out activations in strategy
// order (spec §4.6). Safe for concurrent use.
type Agenda struct {
	mu       sync.Mutex
	strategy Strategy
	seq      uint64

	// active holds every currently-eligible activation, keyed by
	// (RuleId, Token) — the refraction key.
	active map[string]*Activation

	// fired remembers keys that have already fired for rules with
	// refraction enabled, so the same token doesn't refire until
	// retracted and reasserted (spec §4.6, §9 open question (c)).
	fired map[string]struct{}

	refractionByRule map[rule.RuleId]bool
}

func New(strategy Strategy) *Agenda {
	return &Agenda{
		strategy:         strategy,
		active:           make(map[string]*Activation),
		fired:            make(map[string]struct{}),
		refractionByRule: make(map[rule.RuleId]bool),
	}
}

func (a *Agenda) SetStrategy(s Strategy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategy = s
}

// RegisterRule records whether refraction is enabled for ruleId, consulted
// when deciding if a reactivation should be suppressed.
func (a *Agenda) RegisterRule(ruleId rule.RuleId, refraction bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refractionByRule[ruleId] = refraction
}

func (a *Agenda) UnregisterRule(ruleId rule.RuleId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.refractionByRule, ruleId)
	for k, act := range a.active {
		if act.RuleId == ruleId {
			delete(a.active, k)
		}
	}
}

// Activate inserts a new candidate into the conflict set, unless refraction
// suppresses it (spec §4.6).
func (a *Agenda) Activate(ruleId rule.RuleId, ruleName string, t tok.Token, priority, salience, specificity int) {
	key := activationKey(ruleId, t)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.refractionByRule[ruleId] {
		if _, already := a.fired[key]; already {
			return
		}
	}
	if _, exists := a.active[key]; exists {
		return
	}
	a.seq++
	a.active[key] = &Activation{
		RuleId:      ruleId,
		RuleName:    ruleName,
		Token:       t,
		Priority:    priority,
		Salience:    salience,
		Specificity: specificity,
		InsertSeq:   a.seq,
	}
}

// Deactivate removes a candidate whose token no longer holds (e.g. a
// contributing fact was retracted) and clears its refraction record so it
// may fire again once reasserted (spec §4.6, §9 open question (c)).
func (a *Agenda) Deactivate(ruleId rule.RuleId, t tok.Token) {
	key := activationKey(ruleId, t)
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, key)
	delete(a.fired, key)
}

// Pop removes and returns the highest-priority activation per the
// configured strategy, or ok=false if the conflict set is empty.
func (a *Agenda) Pop() (Activation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.active) == 0 {
		return Activation{}, false
	}
	best := a.pickBestLocked()
	key := activationKey(best.RuleId, best.Token)
	delete(a.active, key)
	if a.refractionByRule[best.RuleId] {
		a.fired[key] = struct{}{}
	}
	return *best, true
}

// Peek behaves like Pop but leaves the conflict set unmodified.
func (a *Agenda) Peek() (Activation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.active) == 0 {
		return Activation{}, false
	}
	return *a.pickBestLocked(), true
}

func (a *Agenda) pickBestLocked() *Activation {
	acts := make([]*Activation, 0, len(a.active))
	for _, act := range a.active {
		acts = append(acts, act)
	}
	sort.Slice(acts, func(i, j int) bool {
		return less(a.strategy, acts[i], acts[j])
	})
	return acts[0]
}

// less reports whether x should fire before y under strategy. Priority
// (desc) is always the primary key and salience (desc) the secondary key;
// strategy only breaks ties between activations equal on both, with
// InsertSeq as the universal final tiebreaker (spec §4.6).
func less(strategy Strategy, x, y *Activation) bool {
	if x.Priority != y.Priority {
		return x.Priority > y.Priority
	}
	if x.Salience != y.Salience {
		return x.Salience > y.Salience
	}
	switch strategy {
	case StrategySpecificity:
		if x.Specificity != y.Specificity {
			return x.Specificity > y.Specificity
		}
	case StrategyLexicographic:
		if x.RuleName != y.RuleName {
			return x.RuleName < y.RuleName
		}
	}
	return x.InsertSeq < y.InsertSeq
}

// Len reports the number of activations currently in the conflict set.
func (a *Agenda) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Snapshot returns a strategy-ordered copy of the conflict set, for
// introspection (spec §9's Explain/why-trace supplement).
func (a *Agenda) Snapshot() []Activation {
	a.mu.Lock()
	defer a.mu.Unlock()
	acts := make([]*Activation, 0, len(a.active))
	for _, act := range a.active {
		acts = append(acts, act)
	}
	sort.Slice(acts, func(i, j int) bool { return less(a.strategy, acts[i], acts[j]) })
	out := make([]Activation, len(acts))
	for i, act := range acts {
		out[i] = *act
	}
	return out
}

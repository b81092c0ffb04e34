package network

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rete/internal/config"
	"rete/internal/errs"
	"rete/internal/profiler"
	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

// rootAdapter turns an AlphaNode's FactSink events into TokenSink events,
// seeding a rule's conjunction chain from the empty root token (spec §4.4).
type rootAdapter struct {
	alias    string
	binds    []rule.Binding
	store    *FactStore
	mu       sync.Mutex
	children []TokenSink
}

func (r *rootAdapter) addChild(s TokenSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children = append(r.children, s)
}

func (r *rootAdapter) ReceiveFact(fact value.FactId, retract bool) {
	data, ok := r.store.Get(fact)
	if !ok && !retract {
		return
	}
	var bindings map[string]value.Value
	if ok {
		bindings = make(map[string]value.Value, len(r.binds))
		for _, b := range r.binds {
			if v, ok := data.Get(b.Field); ok {
				bindings[b.Var] = v
			}
		}
	}
	t := tok.Empty().Extend(r.alias, fact, bindings)

	r.mu.Lock()
	children := append([]TokenSink(nil), r.children...)
	r.mu.Unlock()
	for _, c := range children {
		c.ReceiveToken(t, retract)
	}
}

// conjunction is one flattened AND-path of atoms extracted from a rule's
// condition tree (spec §4.2's DNF flattening).
type conjunction struct {
	atoms []atom
}

type atom struct {
	pattern *rule.Pattern
	negated bool
	agg     *rule.AggregationCondition
}

// flatten expands a Condition tree into a list of conjunctions: AND
// combines via cross product, OR concatenates alternatives, NOT wraps a
// single pattern as a negated atom (and a compound child by De Morgan over
// its alternatives), and a bare Pattern/Aggregation is a one-atom
// conjunction.
func flatten(c rule.Condition) []conjunction {
	switch v := c.(type) {
	case rule.PatternCondition:
		p := v.Pattern
		return []conjunction{{atoms: []atom{{pattern: &p}}}}
	case *rule.AggregationCondition:
		return []conjunction{{atoms: []atom{{agg: v}}}}
	case rule.AggregationCondition:
		return []conjunction{{atoms: []atom{{agg: &v}}}}
	case rule.NotCondition:
		if pc, ok := v.Child.(rule.PatternCondition); ok {
			p := pc.Pattern
			return []conjunction{{atoms: []atom{{pattern: &p, negated: true}}}}
		}
		// De Morgan over the child's alternatives: every alternative must
		// fail, and an alternative fails when any one of its atoms does, so
		// each output conjunction negates one atom from every alternative.
		out := []conjunction{{}}
		for _, inner := range flatten(v.Child) {
			var next []conjunction
			for _, base := range out {
				for _, a := range inner.atoms {
					a.negated = !a.negated
					next = append(next, conjunction{atoms: append(append([]atom(nil), base.atoms...), a)})
				}
			}
			out = next
		}
		return out
	case rule.AndCondition:
		combined := []conjunction{{}}
		for _, child := range v.Children {
			childAlts := flatten(child)
			var next []conjunction
			for _, base := range combined {
				for _, alt := range childAlts {
					merged := append(append([]atom(nil), base.atoms...), alt.atoms...)
					next = append(next, conjunction{atoms: merged})
				}
			}
			combined = next
		}
		return combined
	case rule.OrCondition:
		var out []conjunction
		for _, child := range v.Children {
			out = append(out, flatten(child)...)
		}
		return out
	default:
		return nil
	}
}

// Network is the live discrimination network: the fact store plus the
// shared alpha, beta, and aggregation nodes compiled from every registered
// rule's conditions, and one terminal node per rule (spec §4).
type Network struct {
	Store *FactStore

	cfg  config.EngineConfig
	prof *profiler.Profiler

	mu         sync.Mutex
	nextNodeId uint64

	alphaNodes map[string]*AlphaNode
	betaNodes  map[string]*BetaNode
	aggNodes   map[string]*AggregationNode
	terminals  map[rule.RuleId]*TerminalNode
	alphaList  []*AlphaNode

	// ruleNodes tracks every node id a rule's compilation touched, for
	// refcounted teardown on RemoveRule.
	ruleNodes map[rule.RuleId][]string
	refs      map[string]int
}

func New(cfg config.EngineConfig, prof *profiler.Profiler) *Network {
	return &Network{
		Store:      NewFactStore(cfg, prof),
		cfg:        cfg,
		prof:       prof,
		alphaNodes: make(map[string]*AlphaNode),
		betaNodes:  make(map[string]*BetaNode),
		aggNodes:   make(map[string]*AggregationNode),
		terminals:  make(map[rule.RuleId]*TerminalNode),
		ruleNodes:  make(map[rule.RuleId][]string),
		refs:       make(map[string]int),
	}
}

func (n *Network) newNodeId() NodeId {
	return NodeId(atomic.AddUint64(&n.nextNodeId, 1))
}

func (n *Network) retain(ruleId rule.RuleId, key string) {
	n.refs[key]++
	n.ruleNodes[ruleId] = append(n.ruleNodes[ruleId], key)
}

// getOrCreateAlpha returns the shared AlphaNode for tests, creating it if
// no identical node already exists (spec §4.2).
func (n *Network) getOrCreateAlpha(ruleId rule.RuleId, tests []rule.FieldTest) *AlphaNode {
	sig := "alpha:" + alphaSignature(tests)
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.alphaNodes[sig]
	if !ok {
		a = newAlphaNode(n.newNodeId(), tests)
		n.alphaNodes[sig] = a
		n.alphaList = append(n.alphaList, a)
	}
	n.retain(ruleId, sig)
	return a
}

func betaSignature(leftSig, alias string, binds []rule.Binding, negated bool) string {
	sorted := append([]rule.Binding(nil), binds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Var < sorted[j].Var })
	parts := make([]string, len(sorted))
	for i, b := range sorted {
		parts[i] = b.Field + "->" + b.Var
	}
	return fmt.Sprintf("beta:%s|%s|%s|%v", leftSig, alias, strings.Join(parts, ","), negated)
}

func (n *Network) getOrCreateBeta(ruleId rule.RuleId, leftSig, alias string, binds []rule.Binding, negated bool) (*BetaNode, string) {
	sig := betaSignature(leftSig, alias, binds, negated)
	n.mu.Lock()
	defer n.mu.Unlock()
	b, ok := n.betaNodes[sig]
	if !ok {
		b = newBetaNode(n.newNodeId(), n.Store, alias, binds, negated)
		n.betaNodes[sig] = b
	}
	n.retain(ruleId, sig)
	return b, sig
}

func aggSignature(leftSig string, cond *rule.AggregationCondition) string {
	var w string
	if cond.Window != nil {
		w = fmt.Sprintf("%d/%s/%s/%s/%d/%d", cond.Window.Kind, cond.Window.Size, cond.Window.Advance, cond.Window.Gap, cond.Window.Count, cond.Window.CountAdvance)
	}
	return fmt.Sprintf("agg:%s|%s|%s|%d|%s", leftSig, cond.SourceField, strings.Join(cond.GroupByFields, ","), cond.Function, w)
}

func (n *Network) getOrCreateAgg(ruleId rule.RuleId, leftSig string, cond *rule.AggregationCondition) (*AggregationNode, string) {
	sig := aggSignature(leftSig, cond)
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.aggNodes[sig]
	if !ok {
		a = newAggregationNode(n.newNodeId(), n.Store, *cond, n.cfg.Window.MaxLateness)
		n.aggNodes[sig] = a
	}
	n.retain(ruleId, sig)
	return a, sig
}

// compileConjunction wires one flattened AND-path into the shared network,
// ending the chain at the rule's terminal; it returns a Rule error if the
// path is empty or does not start with a positive pattern.
func (n *Network) compileConjunction(r *rule.Rule, conj conjunction, terminal *TerminalNode) error {
	if len(conj.atoms) == 0 {
		return errs.Rule("compileConjunction", "empty conjunction", nil).WithRule(uint64(r.Id))
	}

	first := conj.atoms[0]
	if first.agg != nil {
		return errs.Rule("compileConjunction", "aggregation cannot be a rule's first condition", nil).WithRule(uint64(r.Id))
	}
	if first.pattern == nil || first.negated {
		return errs.Rule("compileConjunction", "first condition must be a positive pattern", nil).WithRule(uint64(r.Id))
	}

	alpha := n.getOrCreateAlpha(r.Id, first.pattern.Tests)
	leftSig := "alpha:" + alphaSignature(first.pattern.Tests)
	root := &rootAdapter{alias: first.pattern.Alias, binds: first.pattern.Bindings, store: n.Store}
	alpha.addChild(root)

	var tailAdder func(TokenSink)
	tailAdder = root.addChild

	for _, a := range conj.atoms[1:] {
		switch {
		case a.pattern != nil:
			rightAlpha := n.getOrCreateAlpha(r.Id, a.pattern.Tests)
			beta, sig := n.getOrCreateBeta(r.Id, leftSig, a.pattern.Alias, a.pattern.Bindings, a.negated)
			tailAdder(beta)
			rightAlpha.addChild(beta)
			leftSig = sig
			tailAdder = beta.addChild
		case a.agg != nil:
			agg, sig := n.getOrCreateAgg(r.Id, leftSig, a.agg)
			tailAdder(agg)
			leftSig = sig
			tailAdder = agg.addChild
		}
	}

	tailAdder(terminal)
	return nil
}

// AddRule compiles r's conditions into the shared network and wires a
// terminal node for it (spec §4.2, §4.6).
func (n *Network) AddRule(r *rule.Rule) error {
	conjunctions := flatten(rule.AndCondition{Children: r.Conditions})
	if len(conjunctions) == 0 {
		return errs.Rule("AddRule", "rule has no compilable conditions", nil).WithRule(uint64(r.Id))
	}

	terminal := newTerminalNode(n.newNodeId(), r)
	n.mu.Lock()
	n.terminals[r.Id] = terminal
	n.mu.Unlock()

	for _, conj := range conjunctions {
		if err := n.compileConjunction(r, conj, terminal); err != nil {
			return err
		}
	}
	return nil
}

// Terminal returns the terminal node for a compiled rule.
func (n *Network) Terminal(id rule.RuleId) (*TerminalNode, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.terminals[id]
	return t, ok
}

// RemoveRule drops the rule's terminal and releases its reference on every
// shared node; a node with no remaining references is dropped from the
// registries (spec §4.2's sharing contract, torn down symmetrically).
func (n *Network) RemoveRule(id rule.RuleId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.terminals, id)
	for _, key := range n.ruleNodes[id] {
		n.refs[key]--
		if n.refs[key] <= 0 {
			delete(n.refs, key)
			delete(n.alphaNodes, key)
			delete(n.betaNodes, key)
			delete(n.aggNodes, key)
		}
	}
	delete(n.ruleNodes, id)
}

// AssertFact stores a new fact and propagates it through every alpha node
// (spec §4.1, §4.3).
func (n *Network) AssertFact(data map[string]value.Value, externalId string) (value.Fact, error) {
	f, err := n.Store.Assert(data, externalId, time.Now())
	if err != nil {
		return value.Fact{}, err
	}
	n.fanOutAlphas(func(a *AlphaNode) { a.onAssert(f) })
	return f, nil
}

// RetractFact removes a fact and propagates the retraction through every
// alpha node; retracting an unknown id is a no-op (spec §4.1, §8).
func (n *Network) RetractFact(id value.FactId) bool {
	_, ok := n.Store.Retract(id)
	if !ok {
		return false
	}
	n.fanOutAlphas(func(a *AlphaNode) { a.onRetract(id) })
	return true
}

// fanOutAlphas runs work against every alpha node, each of which guards its
// own memory with its own mutex, so independent nodes can be evaluated
// concurrently. AlphaWorkers bounds the pool; a value of 0 or 1 runs the
// loop inline, matching a single-threaded network.
func (n *Network) fanOutAlphas(work func(*AlphaNode)) {
	n.mu.Lock()
	alphas := append([]*AlphaNode(nil), n.alphaList...)
	n.mu.Unlock()

	if n.cfg.AlphaWorkers <= 1 || len(alphas) <= 1 {
		for _, a := range alphas {
			work(a)
		}
		return
	}

	jobs := make(chan *AlphaNode)
	var wg sync.WaitGroup
	workers := n.cfg.AlphaWorkers
	if workers > len(alphas) {
		workers = len(alphas)
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for a := range jobs {
				work(a)
			}
		}()
	}
	for _, a := range alphas {
		jobs <- a
	}
	close(jobs)
	wg.Wait()
}

// AlphaCount and BetaCount support Stats reporting (spec §9 introspection).
func (n *Network) AlphaCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alphaNodes)
}

func (n *Network) BetaCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.betaNodes)
}

func (n *Network) AggregationCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.aggNodes)
}

// DroppedLateCount sums the events every aggregation node has dropped for
// arriving more than cfg.Window.MaxLateness behind its watermark (spec
// §4.5).
func (n *Network) DroppedLateCount() int {
	n.mu.Lock()
	nodes := make([]*AggregationNode, 0, len(n.aggNodes))
	for _, a := range n.aggNodes {
		nodes = append(nodes, a)
	}
	n.mu.Unlock()
	total := 0
	for _, a := range nodes {
		total += a.DroppedLate()
	}
	return total
}

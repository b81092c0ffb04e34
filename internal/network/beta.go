package network

import (
	"sync"

	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

// BetaNode joins a stream of left tokens against a stream of right facts
// (delivered by an AlphaNode) on a set of shared bound variables, or — when
// Negated is set — implements negation-as-failure: a left token survives
// only while zero right facts satisfy the join (spec §4.4).
type BetaNode struct {
	id      NodeId
	store   *FactStore
	alias   string
	binds   []rule.Binding // bindings this pattern occurrence contributes when it is the right input
	negated bool

	mu sync.Mutex

	// leftMemory holds every token this node has received from its left
	// parent, keyed by Token.Key().
	leftMemory map[string]tok.Token

	// rightFacts holds every right-side FactId this node has matched,
	// independent of any left token (needed to re-probe when a new left
	// token arrives).
	rightFacts map[value.FactId]struct{}

	// joinVars is the full set of variable names this pattern occurrence
	// binds (in the order of its Bindings), i.e. the join key. A left token that already carries
	// every one of these variables can be probed against rightIndex/
	// leftIndex in O(1) average instead of scanning rightFacts/leftMemory.
	joinVars []string

	// rightIndex maps an encoded join-value tuple (over joinVars) to the
	// right-side facts producing it; leftIndex maps the same tuple to the
	// left token keys whose existing bindings produce it. Both are pruned
	// on retract so neither grows unbounded across the process lifetime
	// (spec §4.4's "join-key probes are expected O(1) average").
	rightIndex map[string][]value.FactId
	leftIndex  map[string][]string

	// rightFactKey remembers the join-key each right fact was indexed
	// under, since by the time a retraction reaches this node the fact
	// has already been removed from the store (Network.RetractFact
	// retracts before fanning out), so rb can no longer be recomputed.
	rightFactKey map[value.FactId]string

	// unindexedLeft holds the (rare) left tokens that don't yet carry every
	// one of joinVars — e.g. this pattern's own Bindings introduce a
	// variable nothing upstream constrains — so they cannot be placed in a
	// joinVars bucket and must still be probed linearly on right activation.
	unindexedLeft map[string]tok.Token

	// negCounters tracks, for the negated variant, how many right facts
	// currently satisfy the join for a given left token key; the token
	// is live in the conflict set only while its counter is zero.
	negCounters map[string]int

	children []TokenSink
}

func newBetaNode(id NodeId, store *FactStore, alias string, binds []rule.Binding, negated bool) *BetaNode {
	vars := make([]string, 0, len(binds))
	for _, bd := range binds {
		vars = append(vars, bd.Var)
	}
	return &BetaNode{
		id:            id,
		store:         store,
		alias:         alias,
		binds:         binds,
		negated:       negated,
		leftMemory:    make(map[string]tok.Token),
		rightFacts:    make(map[value.FactId]struct{}),
		joinVars:      vars,
		rightIndex:    make(map[string][]value.FactId),
		leftIndex:     make(map[string][]string),
		rightFactKey:  make(map[value.FactId]string),
		unindexedLeft: make(map[string]tok.Token),
		negCounters:   make(map[string]int),
	}
}

func (b *BetaNode) addChild(s TokenSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children = append(b.children, s)
}

// bindingsFromFact extracts the variable bindings this pattern occurrence
// contributes from a right-side fact.
func (b *BetaNode) bindingsFromFact(data map[string]value.Value) (map[string]value.Value, bool) {
	out := make(map[string]value.Value, len(b.binds))
	for _, bd := range b.binds {
		v, ok := data[bd.Field]
		if !ok {
			return nil, false
		}
		out[bd.Var] = v
	}
	return out, true
}

// joinKey returns the encoded tuple of values for vars, in the order given
// (a node always passes its own joinVars, so the encoding is consistent
// within the node); ok is false if bindings lacks any of them.
func joinKey(vars []string, bindings map[string]value.Value) (string, bool) {
	key := ""
	for _, v := range vars {
		val, ok := bindings[v]
		if !ok {
			return "", false
		}
		key += v + "=" + val.String() + ";"
	}
	return key, true
}

// ReceiveToken implements TokenSink: left activation (spec §4.4).
func (b *BetaNode) ReceiveToken(t tok.Token, retract bool) {
	if retract {
		b.leftRetract(t)
		return
	}
	b.leftAssert(t)
}

func (b *BetaNode) leftAssert(t tok.Token) {
	key := t.Key()

	b.mu.Lock()
	b.leftMemory[key] = t
	if b.negated {
		b.negCounters[key] = 0
	}
	if jk, ok := joinKey(b.joinVars, t.Bindings); ok {
		b.leftIndex[jk] = append(b.leftIndex[jk], key)
	} else {
		b.unindexedLeft[key] = t
	}
	b.mu.Unlock()

	if b.negated {
		// A negated pattern blocks on existence, not join value, when it
		// binds no variables shared with the left side; but when it does
		// share variables we must count only matching right facts.
		count := b.countMatchingRightFacts(t)
		b.mu.Lock()
		b.negCounters[key] = count
		b.mu.Unlock()
		if count == 0 {
			b.forward(t, false)
		}
		return
	}

	for _, rf := range b.matchingRightFacts(t) {
		fact, ok := b.store.Get(rf)
		if !ok {
			continue
		}
		rb, ok := b.bindingsFromFact(fact.Data)
		if !ok {
			continue
		}
		child := t.Extend(b.alias, rf, rb)
		b.forward(child, false)
	}
}

func (b *BetaNode) leftRetract(t tok.Token) {
	key := t.Key()
	b.mu.Lock()
	stored, existed := b.leftMemory[key]
	if existed {
		// A retraction from the root carries no bindings (the fact has
		// already left the store); the stored token still has them.
		t = stored
	}
	delete(b.leftMemory, key)
	wasBlocked := b.negated && b.negCounters[key] > 0
	delete(b.negCounters, key)
	if jk, ok := joinKey(b.joinVars, t.Bindings); ok {
		b.leftIndex[jk] = removeString(b.leftIndex[jk], key)
		if len(b.leftIndex[jk]) == 0 {
			delete(b.leftIndex, jk)
		}
	} else {
		delete(b.unindexedLeft, key)
	}
	b.mu.Unlock()

	if !existed {
		return
	}
	if b.negated {
		if !wasBlocked {
			b.forward(t, true)
		}
		return
	}
	for _, rf := range b.matchingRightFacts(t) {
		fact, ok := b.store.Get(rf)
		if !ok {
			continue
		}
		rb, ok := b.bindingsFromFact(fact.Data)
		if !ok {
			continue
		}
		child := t.Extend(b.alias, rf, rb)
		b.forward(child, true)
	}
}

// matchingRightFacts finds every right-side fact whose extracted bindings
// agree with t's existing bindings on every shared variable. When t already
// carries every variable this node joins on, the lookup is a single
// rightIndex bucket probe (O(1) average); otherwise (a degenerate pattern
// that doesn't constrain on all of its own join variables) it falls back to
// a linear scan of rightFacts, which remains correct but not O(1).
func (b *BetaNode) matchingRightFacts(t tok.Token) []value.FactId {
	b.mu.Lock()
	jk, indexable := joinKey(b.joinVars, t.Bindings)
	if indexable {
		facts := append([]value.FactId(nil), b.rightIndex[jk]...)
		b.mu.Unlock()
		return facts
	}
	facts := make([]value.FactId, 0, len(b.rightFacts))
	for f := range b.rightFacts {
		facts = append(facts, f)
	}
	b.mu.Unlock()

	var out []value.FactId
	for _, f := range facts {
		data, ok := b.store.Get(f)
		if !ok {
			continue
		}
		rb, ok := b.bindingsFromFact(data.Data)
		if !ok {
			continue
		}
		if bindingsCompatible(t.Bindings, rb) {
			out = append(out, f)
		}
	}
	return out
}

func (b *BetaNode) countMatchingRightFacts(t tok.Token) int {
	return len(b.matchingRightFacts(t))
}

func bindingsCompatible(left, right map[string]value.Value) bool {
	for k, v := range right {
		if lv, ok := left[k]; ok {
			if !lv.Equal(v) {
				return false
			}
		}
	}
	return true
}

// removeString returns ss with the first occurrence of s removed.
func removeString(ss []string, s string) []string {
	for i, v := range ss {
		if v == s {
			return append(ss[:i], ss[i+1:]...)
		}
	}
	return ss
}

// removeFactId returns fs with the first occurrence of f removed.
func removeFactId(fs []value.FactId, f value.FactId) []value.FactId {
	for i, v := range fs {
		if v == f {
			return append(fs[:i], fs[i+1:]...)
		}
	}
	return fs
}

// ReceiveFact implements FactSink: right activation from the alpha network
// (spec §4.4).
func (b *BetaNode) ReceiveFact(fact value.FactId, retract bool) {
	if retract {
		b.rightRetract(fact)
		return
	}
	b.rightAssert(fact)
}

// candidateLeftTokens returns the left tokens worth checking against a
// right fact whose extracted bindings are rb: the leftIndex bucket for rb's
// join-key tuple (O(1) average, since bindingsFromFact guarantees rb always
// carries every joinVars entry) plus the small set of left tokens that
// never got an index bucket because they don't yet bind every joinVars
// variable themselves. Callers must still confirm bindingsCompatible since
// the unindexed set isn't filtered by key.
func (b *BetaNode) candidateLeftTokens(rb map[string]value.Value) []tok.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []tok.Token
	if jk, ok := joinKey(b.joinVars, rb); ok {
		for _, key := range b.leftIndex[jk] {
			if t, ok := b.leftMemory[key]; ok {
				out = append(out, t)
			}
		}
	}
	for _, t := range b.unindexedLeft {
		out = append(out, t)
	}
	return out
}

func (b *BetaNode) rightAssert(fact value.FactId) {
	data, ok := b.store.Get(fact)
	if !ok {
		return
	}
	rb, ok := b.bindingsFromFact(data.Data)
	if !ok {
		return
	}

	b.mu.Lock()
	b.rightFacts[fact] = struct{}{}
	if jk, ok := joinKey(b.joinVars, rb); ok {
		b.rightIndex[jk] = append(b.rightIndex[jk], fact)
		b.rightFactKey[fact] = jk
	}
	b.mu.Unlock()

	tokens := b.candidateLeftTokens(rb)

	for _, t := range tokens {
		if !bindingsCompatible(t.Bindings, rb) {
			continue
		}
		if b.negated {
			key := t.Key()
			b.mu.Lock()
			b.negCounters[key]++
			newCount := b.negCounters[key]
			b.mu.Unlock()
			if newCount == 1 {
				b.forward(t, true) // was live, now blocked
			}
			continue
		}
		child := t.Extend(b.alias, fact, rb)
		b.forward(child, false)
	}
}

func (b *BetaNode) rightRetract(fact value.FactId) {
	b.mu.Lock()
	_, existed := b.rightFacts[fact]
	delete(b.rightFacts, fact)
	jk, indexed := b.rightFactKey[fact]
	if indexed {
		b.rightIndex[jk] = removeFactId(b.rightIndex[jk], fact)
		if len(b.rightIndex[jk]) == 0 {
			delete(b.rightIndex, jk)
		}
		delete(b.rightFactKey, fact)
	}
	// Only left tokens in the retracted fact's join-key bucket (plus the
	// unindexed ones) can have been joined with it.
	var tokens []tok.Token
	if indexed {
		for _, key := range b.leftIndex[jk] {
			if t, ok := b.leftMemory[key]; ok {
				tokens = append(tokens, t)
			}
		}
	}
	for _, t := range b.unindexedLeft {
		tokens = append(tokens, t)
	}
	b.mu.Unlock()

	if !existed {
		return
	}

	for _, t := range tokens {
		if b.negated {
			key := t.Key()
			b.mu.Lock()
			if b.negCounters[key] > 0 {
				b.negCounters[key]--
			}
			newCount := b.negCounters[key]
			b.mu.Unlock()
			if newCount == 0 {
				b.forward(t, false) // was blocked, now live again
			}
			continue
		}
		child := t.Extend(b.alias, fact, nil)
		b.forward(child, true)
	}
}

func (b *BetaNode) forward(t tok.Token, retract bool) {
	b.mu.Lock()
	children := append([]TokenSink(nil), b.children...)
	b.mu.Unlock()
	for _, c := range children {
		c.ReceiveToken(t, retract)
	}
}

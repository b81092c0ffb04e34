package network

import (
	"sync"

	"rete/internal/rule"
	tok "rete/internal/token"
)

// TerminalNode sits at the end of one rule's conjunction of conditions. It
// deduplicates tokens reaching it through more than one path (spec §9's
// resolution of the OR-disjunction open question: dedup at the terminal)
// and notifies the agenda via callbacks, keeping this package free of any
// dependency on the agenda package (avoids an import cycle; spec §4.6).
type TerminalNode struct {
	id   NodeId
	rule *rule.Rule

	mu    sync.Mutex
	live  map[string]tok.Token

	OnActivate   func(r *rule.Rule, t tok.Token)
	OnDeactivate func(r *rule.Rule, t tok.Token)
}

func newTerminalNode(id NodeId, r *rule.Rule) *TerminalNode {
	return &TerminalNode{id: id, rule: r, live: make(map[string]tok.Token)}
}

// ReceiveToken implements TokenSink.
func (t *TerminalNode) ReceiveToken(tk tok.Token, retract bool) {
	key := tk.Key()

	t.mu.Lock()
	_, exists := t.live[key]
	if retract {
		delete(t.live, key)
	} else {
		if exists {
			t.mu.Unlock()
			return // already active via another disjunct; dedup at terminal
		}
		t.live[key] = tk
	}
	onActivate, onDeactivate := t.OnActivate, t.OnDeactivate
	t.mu.Unlock()

	if retract {
		if exists && onDeactivate != nil {
			onDeactivate(t.rule, tk)
		}
		return
	}
	if onActivate != nil {
		onActivate(t.rule, tk)
	}
}

// Count returns the number of tokens currently active at this terminal.
func (t *TerminalNode) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

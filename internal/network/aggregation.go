package network

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

// group accumulates the contributing tokens and running statistics for one
// (group-by key, window) pair (spec §4.5).
type group struct {
	members  map[string]tok.Token // contributing left-token key -> token
	ordered  *btree.BTreeG[btreeEntry]
	sum      float64
	count    int
	distinct map[string]int // encoded value -> reference count

	resultFact value.FactId
	hasResult  bool

	windowEnd     time.Time
	windowEndSeq  int
	closed        bool
}

type btreeEntry struct {
	key  string // member key, for uniqueness under equal values
	val  value.Value
}

func lessEntry(a, b btreeEntry) bool {
	if c, ok := a.val.Compare(b.val); ok && c != 0 {
		return c < 0
	}
	return a.key < b.key
}

func newGroup() *group {
	return &group{
		members:  make(map[string]tok.Token),
		ordered:  btree.NewG(32, lessEntry),
		distinct: make(map[string]int),
	}
}

// AggregationNode computes a running or windowed aggregate over the tokens
// produced by Source, grouped by GroupByFields, and asserts a synthetic
// result fact into the shared FactStore so downstream conditions (and
// SetField actions, per scenario S3) can address it like any other fact
// (spec §4.5).
type AggregationNode struct {
	id    NodeId
	store *FactStore
	cond  rule.AggregationCondition

	mu          sync.Mutex
	groups      map[string]*group
	seq         int
	maxSeen     time.Time
	maxLateness time.Duration
	droppedLate int

	children []TokenSink
}

func newAggregationNode(id NodeId, store *FactStore, cond rule.AggregationCondition, maxLateness time.Duration) *AggregationNode {
	return &AggregationNode{
		id:          id,
		store:       store,
		cond:        cond,
		groups:      make(map[string]*group),
		maxLateness: maxLateness,
	}
}

// DroppedLate reports how many token contributions this node has dropped
// for arriving into an already-closed window (spec §4.5's "events with
// event_time < watermark − max_lateness are dropped and counted").
func (n *AggregationNode) DroppedLate() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.droppedLate
}

func (n *AggregationNode) addChild(s TokenSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children = append(n.children, s)
}

func groupKeyFor(fields []string, bindings map[string]value.Value) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if v, ok := bindings[f]; ok {
			parts[i] = v.String()
		} else {
			parts[i] = "<nil>"
		}
	}
	return strings.Join(parts, "|")
}

func sourceValue(cond rule.AggregationCondition, t tok.Token, store *FactStore) (value.Value, bool) {
	if cond.SourceField == "" {
		return value.NewInt(1), true
	}
	if v, ok := t.Bindings[cond.SourceField]; ok {
		return v, true
	}
	for _, fid := range t.Facts {
		f, ok := store.Get(fid)
		if !ok {
			continue
		}
		if v, ok := f.Get(cond.SourceField); ok {
			return v, true
		}
	}
	return value.Value{}, false
}

// windowAssignments returns the window keys (and, for time windows, the
// window end) that a new contribution at createdAt/seq belongs to, per
// cond.Window.Kind (spec §4.5). A WindowNone spec assigns everything to the
// single cumulative window "".
func (n *AggregationNode) windowAssignments(createdAt time.Time, seq int) []windowAssignment {
	w := n.cond.Window
	if w == nil || w.Kind == rule.WindowNone {
		return []windowAssignment{{key: ""}}
	}
	switch w.Kind {
	case rule.WindowTumbling:
		idx := createdAt.UnixNano() / w.Size.Nanoseconds()
		start := time.Unix(0, idx*w.Size.Nanoseconds())
		end := start.Add(w.Size)
		return []windowAssignment{{key: fmt.Sprintf("t%d", idx), end: end}}
	case rule.WindowSliding:
		adv := w.Advance.Nanoseconds()
		if adv <= 0 {
			adv = w.Size.Nanoseconds()
		}
		size := w.Size.Nanoseconds()
		t := createdAt.UnixNano()
		var out []windowAssignment
		kMax := t / adv
		for k := kMax - size/adv - 1; k <= kMax; k++ {
			if k < 0 {
				continue
			}
			start := k * adv
			end := start + size
			if t >= start && t < end {
				out = append(out, windowAssignment{key: fmt.Sprintf("s%d", k), end: time.Unix(0, end)})
			}
		}
		return out
	case rule.WindowSession:
		return []windowAssignment{{key: "session"}} // session id resolved by caller via last-seen gap
	case rule.WindowCountTumbling:
		idx := (seq - 1) / w.Count // seq counts from 1
		return []windowAssignment{{key: fmt.Sprintf("ct%d", idx), endSeq: (idx + 1) * w.Count}}
	case rule.WindowCountSliding:
		adv := w.CountAdvance
		if adv <= 0 {
			adv = w.Count
		}
		var out []windowAssignment
		s := seq - 1 // seq counts from 1
		kMax := s / adv
		for k := kMax - w.Count/adv - 1; k <= kMax; k++ {
			if k < 0 {
				continue
			}
			start := k * adv
			end := start + w.Count
			if s >= start && s < end {
				out = append(out, windowAssignment{key: fmt.Sprintf("cs%d", k), endSeq: end})
			}
		}
		return out
	default:
		return []windowAssignment{{key: ""}}
	}
}

type windowAssignment struct {
	key    string
	end    time.Time
	endSeq int
}

// ReceiveToken implements TokenSink (spec §4.5).
func (n *AggregationNode) ReceiveToken(t tok.Token, retract bool) {
	v, ok := sourceValue(n.cond, t, n.store)
	if !ok {
		return
	}
	gkey := groupKeyFor(n.cond.GroupByFields, t.Bindings)

	n.mu.Lock()
	n.seq++
	seq := n.seq
	if t.Facts != nil {
		for _, fid := range t.Facts {
			if f, ok := n.store.Get(fid); ok && f.CreatedAt.After(n.maxSeen) {
				n.maxSeen = f.CreatedAt
			}
		}
	}
	maxSeen := n.maxSeen
	n.mu.Unlock()

	createdAt := maxSeen
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var sessionGap time.Duration
	if n.cond.Window != nil {
		sessionGap = n.cond.Window.Gap
	}

	for _, wa := range n.windowAssignments(createdAt, seq) {
		key := gkey + "#" + wa.key
		if wa.key == "session" {
			key = n.sessionKey(gkey, createdAt, sessionGap)
		}

		n.mu.Lock()
		g, exists := n.groups[key]
		if !exists {
			g = newGroup()
			n.groups[key] = g
		}
		if wa.end.After(g.windowEnd) {
			g.windowEnd = wa.end
		}
		if wa.endSeq > g.windowEndSeq {
			g.windowEndSeq = wa.endSeq
		}
		closed := g.closed
		if closed {
			n.droppedLate++
		}
		n.mu.Unlock()

		if closed {
			continue // late arrival past a closed window, dropped per watermark semantics
		}

		mkey := t.Key()
		if retract {
			n.retractMember(g, mkey)
		} else {
			n.addMember(g, mkey, t, v)
		}
		n.emit(key, g, t)
	}

	n.advanceWatermark(maxSeen, seq)
}

func (n *AggregationNode) sessionKey(gkey string, createdAt time.Time, gap time.Duration) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, g := range n.groups {
		if !strings.HasPrefix(k, gkey+"#session") {
			continue
		}
		// windowEnd is the session's last event plus gap.
		if !g.closed && !g.windowEnd.IsZero() && !createdAt.After(g.windowEnd) {
			g.windowEnd = createdAt.Add(gap)
			return k
		}
	}
	key := fmt.Sprintf("%s#session%d", gkey, n.seq)
	g := newGroup()
	g.windowEnd = createdAt.Add(gap)
	n.groups[key] = g
	return key
}

func (n *AggregationNode) addMember(g *group, mkey string, t tok.Token, v value.Value) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := g.members[mkey]; dup {
		return
	}
	g.members[mkey] = t
	g.count++
	if f, ok := v.AsFloat64(); ok {
		g.sum += f
	}
	g.ordered.ReplaceOrInsert(btreeEntry{key: mkey, val: v})
	ek, _ := encodeIndexKey(v)
	g.distinct[ek]++
}

func (n *AggregationNode) retractMember(g *group, mkey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := g.members[mkey]
	if !ok {
		return
	}
	v, vok := sourceValue(n.cond, t, n.store)
	delete(g.members, mkey)
	g.count--
	if vok {
		if f, ok := v.AsFloat64(); ok {
			g.sum -= f
		}
		g.ordered.Delete(btreeEntry{key: mkey, val: v})
		ek, _ := encodeIndexKey(v)
		if g.distinct[ek] > 0 {
			g.distinct[ek]--
			if g.distinct[ek] == 0 {
				delete(g.distinct, ek)
			}
		}
	}
}

func (n *AggregationNode) compute(g *group) (value.Value, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch n.cond.Function {
	case rule.AggCount:
		return value.NewInt(int64(g.count)), true
	case rule.AggSum:
		return value.NewFloat(g.sum), true
	case rule.AggAverage:
		if g.count == 0 {
			return value.Value{}, false
		}
		return value.NewFloat(g.sum / float64(g.count)), true
	case rule.AggMin:
		var min value.Value
		found := false
		g.ordered.Ascend(func(e btreeEntry) bool {
			min = e.val
			found = true
			return false
		})
		return min, found
	case rule.AggMax:
		var max value.Value
		found := false
		g.ordered.Descend(func(e btreeEntry) bool {
			max = e.val
			found = true
			return false
		})
		return max, found
	case rule.AggDistinctCount:
		return value.NewInt(int64(len(g.distinct))), true
	default:
		return value.Value{}, false
	}
}

func (n *AggregationNode) passesHaving(v value.Value) bool {
	h := n.cond.Having
	if h == nil {
		return true
	}
	if h.Field != "" && h.Field != "value" {
		return true // having clauses here test the aggregate result itself
	}
	return evalOperator(h.Operator, v, h.Literal)
}

// emit recomputes the aggregate for key and asserts/retracts the
// corresponding synthetic result fact and downstream token.
func (n *AggregationNode) emit(key string, g *group, sample tok.Token) {
	val, ok := n.compute(g)

	n.mu.Lock()
	hadResult := g.hasResult
	prevFact := g.resultFact
	n.mu.Unlock()

	if hadResult {
		n.store.Retract(prevFact)
		n.mu.Lock()
		g.hasResult = false
		n.mu.Unlock()
		n.forwardResult(sample, prevFact, true)
	}

	if !ok || !n.passesHaving(val) {
		return
	}

	data := map[string]value.Value{"value": val}
	for _, f := range n.cond.GroupByFields {
		if v, ok := sample.Bindings[f]; ok {
			data[f] = v
		}
	}
	f, err := n.store.Assert(data, "", time.Now())
	if err != nil {
		return
	}
	n.mu.Lock()
	g.resultFact = f.Id
	g.hasResult = true
	n.mu.Unlock()
	n.forwardResult(sample, f.Id, false)
}

func (n *AggregationNode) forwardResult(sample tok.Token, resultFact value.FactId, retract bool) {
	result := sample.Extend(n.cond.ResultBinding, resultFact, nil)
	n.mu.Lock()
	children := append([]TokenSink(nil), n.children...)
	n.mu.Unlock()
	for _, c := range children {
		c.ReceiveToken(result, retract)
	}
}

// advanceWatermark closes a time window once the watermark
// (maxSeen-MaxLateness) reaches its windowEnd, and a count window once seq
// reaches its windowEndSeq, per the window/watermark model (spec §4.5).
// The MaxLateness grace period keeps a window open past its nominal end so
// contributions that arrive slightly out of order still land in it; only
// once maxSeen reaches windowEnd+MaxLateness is the window actually closed.
func (n *AggregationNode) advanceWatermark(maxSeen time.Time, seq int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	watermark := maxSeen.Add(-n.maxLateness)
	keys := make([]string, 0, len(n.groups))
	for k := range n.groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := n.groups[k]
		if g.closed {
			continue
		}
		if !g.windowEnd.IsZero() && !watermark.Before(g.windowEnd) {
			g.closed = true
		}
		if g.windowEndSeq > 0 && seq >= g.windowEndSeq {
			g.closed = true
		}
	}
}

// Package engine implements the facade named in spec §4.8: a
// Configuring → Running → Cleared state machine wrapping the fact store,
// discrimination network, agenda, calculator registry, and action
// executor behind a small operation set (add_rule, assert_fact, process,
// evaluate, get_stats, ...).
package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"rete/internal/action"
	"rete/internal/agenda"
	"rete/internal/calculator"
	"rete/internal/config"
	"rete/internal/errs"
	"rete/internal/logging"
	"rete/internal/network"
	"rete/internal/profiler"
	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

// State is one of the three lifecycle phases named in spec §4.8.
type State int

const (
	// Configuring accepts rule and calculator registration; facts may also
	// be primed in this phase.
	Configuring State = iota
	// Running accepts facts and fires rules; rule/calculator registration
	// is rejected.
	Running
	// Cleared is terminal: reached via Clear or after a Critical error
	// (spec §7); asserting, retracting, Process and registration fail
	// thereafter.
	Cleared
)

func (s State) String() string {
	switch s {
	case Configuring:
		return "configuring"
	case Running:
		return "running"
	default:
		return "cleared"
	}
}

// Stats is the introspection snapshot returned by GetStats (spec §9
// supplemented Stats operation, grounded on the teacher's
// mangle.Engine.GetStats).
type Stats struct {
	State                 string
	FactCount             int
	RuleCount             int
	AlphaNodeCount        int
	BetaNodeCount         int
	AggregationCount      int
	ConflictSetSize       int
	TotalActivationsFired uint64
	DroppedLateEvents     int
}

// Engine is the single entry point described in spec §4.8/§6.
type Engine struct {
	mu    sync.Mutex
	state State

	cfg         config.EngineConfig
	net         *network.Network
	agenda      *agenda.Agenda
	calculators *calculator.Registry
	executor    *action.Executor
	prof        *profiler.Profiler

	rules      map[rule.RuleId]*rule.Rule
	nextRuleId uint64

	fired uint64
}

// alertAdapter and logAdapter let New accept plain func values instead of
// forcing callers to implement the action.AlertSink/LogSink interfaces.
type alertAdapter func(alertType, message, severity string, metadata map[string]value.Value)

func (f alertAdapter) Alert(alertType, message, severity string, metadata map[string]value.Value) {
	if f != nil {
		f(alertType, message, severity, metadata)
	}
}

type logAdapter func(message string)

func (f logAdapter) Log(message string) {
	if f != nil {
		f(message)
	}
}

// New builds an Engine in the Configuring state.
func New(cfg config.EngineConfig) *Engine {
	prof := profiler.New()
	net := network.New(cfg, prof)
	calcs := calculator.New(cfg.Calculator.CallBudget, cfg.Calculator.CacheEntries, prof)
	strategy := agenda.Strategy(cfg.Agenda.Strategy)
	if strategy == "" {
		strategy = agenda.StrategyPriority
	}
	ag := agenda.New(strategy)

	e := &Engine{
		cfg:         cfg,
		net:         net,
		agenda:      ag,
		calculators: calcs,
		prof:        prof,
		rules:       make(map[rule.RuleId]*rule.Rule),
	}
	e.executor = action.New(net, calcs, nil, nil)
	return e
}

// SetAlertSink / SetLogSink wire the external interfaces named in spec §6.
func (e *Engine) SetAlertSink(fn func(alertType, message, severity string, metadata map[string]value.Value)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executor = action.New(e.net, e.calculators, alertAdapter(fn), e.currentLogSink())
}

func (e *Engine) SetLogSink(fn func(message string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executor = action.New(e.net, e.calculators, e.currentAlertSink(), logAdapter(fn))
}

// currentAlertSink/currentLogSink are a simplification: since Executor
// doesn't expose its sinks, they always return nil, so each setter
// recreates the Executor with the other sink left nil. Only the sink set
// by the most recent setter call is active; see DESIGN.md.
func (e *Engine) currentAlertSink() action.AlertSink { return nil }
func (e *Engine) currentLogSink() action.LogSink     { return nil }

func (e *Engine) requireState(want State, op string) error {
	if e.state != want {
		return errs.Configuration(op, "engine is in state "+e.state.String()+", expected "+want.String(), nil)
	}
	return nil
}

// AddRule compiles r into the network and wires its terminal to the
// agenda; only valid while Configuring (spec §4.8).
func (e *Engine) AddRule(r *rule.Rule) (rule.RuleId, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(Configuring, "AddRule"); err != nil {
		return 0, err
	}
	if r.Id == 0 {
		e.nextRuleId++
		r.Id = rule.RuleId(e.nextRuleId)
	}
	if err := e.net.AddRule(r); err != nil {
		return 0, err
	}
	e.rules[r.Id] = r
	e.agenda.RegisterRule(r.Id, r.Refraction)

	terminal, _ := e.net.Terminal(r.Id)
	specificity := len(r.Conditions)
	terminal.OnActivate = func(rr *rule.Rule, t tok.Token) {
		if !rr.Enabled {
			return
		}
		e.agenda.Activate(rr.Id, rr.Name, t, rr.Priority, rr.Salience, specificity)
	}
	terminal.OnDeactivate = func(rr *rule.Rule, t tok.Token) {
		e.agenda.Deactivate(rr.Id, t)
	}
	return r.Id, nil
}

// AddRules adds several rules, stopping at the first failure.
func (e *Engine) AddRules(rs []*rule.Rule) ([]rule.RuleId, error) {
	ids := make([]rule.RuleId, 0, len(rs))
	for _, r := range rs {
		id, err := e.AddRule(r)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateRule replaces an existing rule's definition; like AddRule, only
// valid while Configuring.
func (e *Engine) UpdateRule(r *rule.Rule) error {
	if r.Id == 0 {
		return errs.Configuration("UpdateRule", "rule has no Id to update", nil)
	}
	e.mu.Lock()
	err := e.requireState(Configuring, "UpdateRule")
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.RemoveRule(r.Id); err != nil {
		return err
	}
	_, err = e.AddRule(r)
	return err
}

// RemoveRule tears down a rule's terminal and releases its node references.
func (e *Engine) RemoveRule(id rule.RuleId) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return errs.Rule("RemoveRule", "unknown rule id", nil).WithRule(uint64(id))
	}
	e.net.RemoveRule(id)
	e.agenda.UnregisterRule(id)
	delete(e.rules, id)
	return nil
}

// RuleCount returns the number of currently registered rules.
func (e *Engine) RuleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rules)
}

// RegisterCalculator adds a calculator; only valid while Configuring (spec
// §4.7: "closed after Configuring").
func (e *Engine) RegisterCalculator(c calculator.Calculator) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(Configuring, "RegisterCalculator"); err != nil {
		return err
	}
	return e.calculators.Register(c)
}

// Start closes the calculator registry and transitions Configuring →
// Running (spec §4.8).
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireState(Configuring, "Start"); err != nil {
		return err
	}
	e.calculators.Close()
	e.state = Running
	return nil
}

// AssertFact stores a new fact and propagates it through the network;
// valid in Configuring (priming) and Running. A caller that has no natural
// correlation id for data may pass an empty externalId; one is generated
// so the fact can still be referenced by callers outside the engine (e.g.
// an audit log entry keyed by ExternalId).
func (e *Engine) AssertFact(data map[string]value.Value, externalId string) (value.Fact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Cleared {
		return value.Fact{}, errs.Configuration("AssertFact", "engine has been cleared", nil)
	}
	if externalId == "" {
		externalId = uuid.NewString()
	}
	return e.net.AssertFact(data, externalId)
}

// AssertFacts stores several facts, stopping at the first failure.
func (e *Engine) AssertFacts(batch []map[string]value.Value) ([]value.Fact, error) {
	facts := make([]value.Fact, 0, len(batch))
	for _, data := range batch {
		f, err := e.AssertFact(data, "")
		if err != nil {
			return facts, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// RetractFact removes a fact and propagates the retraction; idempotent.
func (e *Engine) RetractFact(id value.FactId) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Cleared {
		return false, errs.Configuration("RetractFact", "engine has been cleared", nil)
	}
	return e.net.RetractFact(id), nil
}

// Clear transitions the engine to the terminal Cleared state, after which
// asserting, retracting, Process and registration fail (spec §4.8). The
// fact store, network memories and conflict set are not emptied, and the
// engine does not return to Running.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Cleared
}

// State reports the engine's current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Process drains the conflict set, firing activations in agenda order
// until it is empty, ctx is done, or a Critical error occurs — in which
// case the engine transitions to Cleared (spec §4.6, §7).
func (e *Engine) Process(ctx context.Context) (int, error) {
	e.mu.Lock()
	if err := e.requireState(Running, "Process"); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	fired, _, err := e.drain(ctx, "Process", e.executor.Execute)
	return fired, err
}

// Evaluate asserts data as hypothetical facts, drains the conflict set
// using a dry-run executor that computes each action's effects without
// writing to the store or invoking alert/log sinks (spec §4.8: "actions
// are not executed"), then retracts the seed facts again. An action that
// would itself assert a derived fact (SetField, CallCalculator, Formula,
// CreateFact) therefore never leaves a trace once Evaluate returns.
func (e *Engine) Evaluate(ctx context.Context, batch []map[string]value.Value) (int, []action.Effect, error) {
	facts, err := e.AssertFacts(batch)
	if err != nil {
		return 0, nil, err
	}
	fired, effects, err := e.drain(ctx, "Evaluate", e.executor.ExecuteDryRun)
	for _, f := range facts {
		e.net.RetractFact(f.Id)
	}
	return fired, effects, err
}

// drain pops activations off the agenda in strategy order and runs exec
// against each, until the conflict set is empty, ctx is done, or exec
// returns a Critical error — shared between Process's committing executor
// and Evaluate's dry-run one.
func (e *Engine) drain(ctx context.Context, op string, exec func(context.Context, *rule.Rule, tok.Token) ([]action.Effect, error)) (int, []action.Effect, error) {
	log := logging.Get(logging.CategoryAgenda)
	fired := 0
	var effects []action.Effect

	// maxFires bounds a single drain call when RejectActionCycles is set,
	// so a rule whose action keeps re-matching its own output (e.g. a
	// SetField that doesn't narrow the triggering condition) fails loudly
	// instead of spinning forever. The bound scales with engine size since
	// a legitimately large fact/rule set needs more fires to settle.
	maxFires := 0
	if e.cfg.RejectActionCycles {
		e.mu.Lock()
		ruleCount := len(e.rules)
		e.mu.Unlock()
		maxFires = (e.net.Store.Count() + 1) * (ruleCount + 1) * 100
	}

	for {
		select {
		case <-ctx.Done():
			return fired, effects, errs.Timeout(op, ctx.Err().Error())
		default:
		}

		if maxFires > 0 && fired >= maxFires {
			err := errs.Network(op, "exceeded firing bound, possible action cycle", nil)
			log.Error("action cycle guard tripped, clearing engine")
			e.Clear()
			return fired, effects, err
		}

		act, ok := e.agenda.Pop()
		if !ok {
			return fired, effects, nil
		}

		e.mu.Lock()
		r := e.rules[act.RuleId]
		e.mu.Unlock()
		if r == nil {
			continue
		}

		stop := e.prof.Scope("fire")
		eff, err := exec(ctx, r, act.Token)
		stop()
		fired++
		atomic.AddUint64(&e.fired, 1)
		effects = append(effects, eff...)

		if err != nil {
			if errs.IsCritical(err) {
				log.Error("critical error during fire, clearing engine")
				e.Clear()
				return fired, effects, err
			}
			continue
		}
	}
}

// GetStats returns the introspection snapshot (spec §9).
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:                 e.state.String(),
		FactCount:             e.net.Store.Count(),
		RuleCount:             len(e.rules),
		AlphaNodeCount:        e.net.AlphaCount(),
		BetaNodeCount:         e.net.BetaCount(),
		AggregationCount:      e.net.AggregationCount(),
		ConflictSetSize:       e.agenda.Len(),
		TotalActivationsFired: atomic.LoadUint64(&e.fired),
		DroppedLateEvents:     e.net.DroppedLateCount(),
	}
}

// GetProfileReport returns the profiler's per-operation timing report.
func (e *Engine) GetProfileReport() map[string]profiler.OpStats {
	return e.prof.Report()
}

// GetCacheReport returns the profiler's cache hit-rate counters.
func (e *Engine) GetCacheReport() map[string]profiler.CacheStats {
	return e.prof.CacheReport()
}

// AgendaSnapshot exposes a strategy-ordered snapshot of the conflict set
// (spec §9 introspection).
func (e *Engine) AgendaSnapshot() []agenda.Activation {
	return e.agenda.Snapshot()
}

// Explain returns, for a live token at ruleId, the chain of FactIds that
// produced it, sorted for determinism — the supplemented why-trace
// operation grounded on the teacher's runWhy()/core/trace.go (spec §9).
func (e *Engine) Explain(ruleId rule.RuleId, t tok.Token) []value.FactId {
	return t.SortedFacts()
}

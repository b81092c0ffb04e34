// Package action executes a fired rule's actions (spec §4.7): SetField,
// CreateFact, CallCalculator, Formula, TriggerAlert, and Log. It is the
// only package that turns an Activation into a fact-store mutation or an
// external side effect, keeping that policy out of the agenda and network
// packages.
package action

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rete/internal/calculator"
	"rete/internal/errs"
	"rete/internal/logging"
	"rete/internal/network"
	"rete/internal/rule"
	tok "rete/internal/token"
	"rete/internal/value"
)

// AlertSink receives TriggerAlertAction events (spec §6 external interfaces).
type AlertSink interface {
	Alert(alertType, message, severity string, metadata map[string]value.Value)
}

// LogSink receives LogAction events.
type LogSink interface {
	Log(message string)
}

// Effect records one mutation or side effect an Execute call produced, used
// both for the normal commit path's return value and for reporting what a
// dry-run Evaluate would have done (spec §9 supplemented Evaluate
// operation).
type Effect struct {
	Kind        string // "set_field", "create_fact", "retract_fact", "calculator", "formula", "alert", "log"
	FactId      value.FactId
	Field       string
	Value       value.Value
	CalculatorName string
	AlertType   string
	Message     string
}

// Executor runs one rule's Actions against a live Network and Calculator
// Registry.
type Executor struct {
	net         *network.Network
	calculators *calculator.Registry
	alerts      AlertSink
	logs        LogSink
}

func New(net *network.Network, calculators *calculator.Registry, alerts AlertSink, logs LogSink) *Executor {
	return &Executor{net: net, calculators: calculators, alerts: alerts, logs: logs}
}

// Execute runs every action of r against t, committing fact mutations to
// the live network (spec §4.7). A failed action stops the rest of r's
// actions from running and is itself recorded as a structured
// calculator_error/action_error fact, so a recovery rule can match on the
// failure the same way it would match any other fact (spec §4.7, §7).
func (e *Executor) Execute(ctx context.Context, r *rule.Rule, t tok.Token) ([]Effect, error) {
	log := logging.Get(logging.CategoryAction)
	var effects []Effect
	for _, a := range r.Actions {
		eff, err := e.execOne(ctx, r, t, a)
		if err != nil {
			log.Warn("action failed", zap.String("rule", r.Name), zap.Error(err))
			e.assertErrorFact(r, t, a, err)
			return effects, err
		}
		effects = append(effects, eff...)
	}
	return effects, nil
}

// ExecuteDryRun computes every action of r against t without committing
// anything to the live network: no fact is asserted or retracted and no
// alert/log sink is invoked. This is the evaluate contract from spec §4.8
// ("actions are not executed") — only the resolved Effects a live Execute
// would have produced are reported back to the caller.
func (e *Executor) ExecuteDryRun(ctx context.Context, r *rule.Rule, t tok.Token) ([]Effect, error) {
	var effects []Effect
	for _, a := range r.Actions {
		eff, err := e.previewOne(ctx, r, t, a)
		if err != nil {
			return effects, err
		}
		effects = append(effects, eff...)
	}
	return effects, nil
}

func (e *Executor) previewOne(ctx context.Context, r *rule.Rule, t tok.Token, a rule.Action) ([]Effect, error) {
	switch v := a.(type) {
	case rule.SetFieldAction:
		id, ok := t.Aliases[v.Alias]
		if !ok {
			return nil, errs.Action("SetField", fmt.Sprintf("unknown alias %q", v.Alias), nil).WithRule(uint64(r.Id))
		}
		val, err := resolve(v.Value, t, e.net.Store)
		if err != nil {
			return nil, err
		}
		return []Effect{{Kind: "set_field", FactId: id, Field: v.Field, Value: val}}, nil
	case rule.CreateFactAction:
		for _, expr := range v.Template {
			if _, err := resolve(expr, t, e.net.Store); err != nil {
				return nil, err
			}
		}
		return []Effect{{Kind: "create_fact"}}, nil
	case rule.CallCalculatorAction:
		inputs := make(map[string]value.Value, len(v.Inputs))
		for _, in := range v.Inputs {
			val, err := resolve(in.Value, t, e.net.Store)
			if err != nil {
				return nil, err
			}
			inputs[in.Param] = val
		}
		result, err := e.calculators.Call(ctx, v.Name, inputs)
		if err != nil {
			return nil, err
		}
		return []Effect{{Kind: "calculator", Field: v.OutputField, Value: result, CalculatorName: v.Name}}, nil
	case rule.FormulaAction:
		result, err := calculator.EvalFormula(v.Expression, t.Bindings)
		if err != nil {
			return nil, err
		}
		return []Effect{{Kind: "formula", Field: v.OutputField, Value: result}}, nil
	case rule.TriggerAlertAction:
		for _, expr := range v.Metadata {
			if _, err := resolve(expr, t, e.net.Store); err != nil {
				return nil, err
			}
		}
		return []Effect{{Kind: "alert", AlertType: v.AlertType, Message: v.Message}}, nil
	case rule.LogAction:
		return []Effect{{Kind: "log", Message: v.Message}}, nil
	default:
		return nil, errs.Action("ExecuteDryRun", fmt.Sprintf("unknown action type %T", a), nil)
	}
}

// errorEntityType chooses the entity_type recorded on an error fact: a
// calculator's own failure is distinguished from a plain action failure so
// a recovery rule can match on either specifically (spec §4.7/§7).
func errorEntityType(a rule.Action) string {
	switch a.(type) {
	case rule.CallCalculatorAction, rule.FormulaAction:
		return "calculator_error"
	default:
		return "action_error"
	}
}

// assertErrorFact records a failed action as a fact carrying enough
// structure (entity_type, code, message, the fact that triggered the rule)
// for a follow-up rule to react to it, instead of the failure only
// surfacing as a Go error that Process logs and moves past.
func (e *Executor) assertErrorFact(r *rule.Rule, t tok.Token, a rule.Action, cause error) {
	code := errs.KindInternal.String()
	message := cause.Error()
	var details map[string]value.Value
	if ee, ok := cause.(*errs.Error); ok {
		code = ee.Kind.String()
		message = ee.Message
		if len(ee.Details) > 0 {
			details = make(map[string]value.Value, len(ee.Details))
			for k, v := range ee.Details {
				details[k] = value.NewString(fmt.Sprint(v))
			}
		}
	}
	data := map[string]value.Value{
		"entity_type": value.NewString(errorEntityType(a)),
		"code":        value.NewString(code),
		"message":     value.NewString(message),
		"rule_id":     value.NewInt(int64(r.Id)),
		"rule_name":   value.NewString(r.Name),
	}
	if facts := t.SortedFacts(); len(facts) > 0 {
		data["triggering_fact"] = value.NewInt(int64(facts[0]))
	}
	if details != nil {
		data["details"] = value.NewMap(details)
	}
	if _, err := e.net.AssertFact(data, ""); err != nil {
		logging.Get(logging.CategoryAction).Warn("failed to assert error fact", zap.Error(err))
	}
}

func (e *Executor) execOne(ctx context.Context, r *rule.Rule, t tok.Token, a rule.Action) ([]Effect, error) {
	switch v := a.(type) {
	case rule.SetFieldAction:
		return e.execSetField(r, t, v)
	case rule.CreateFactAction:
		return e.execCreateFact(t, v)
	case rule.CallCalculatorAction:
		return e.execCallCalculator(ctx, r, t, v)
	case rule.FormulaAction:
		return e.execFormula(r, t, v)
	case rule.TriggerAlertAction:
		return e.execTriggerAlert(t, v)
	case rule.LogAction:
		return e.execLog(t, v)
	default:
		return nil, errs.Action("Execute", fmt.Sprintf("unknown action type %T", a), nil)
	}
}

func resolve(expr rule.ValueExpr, t tok.Token, store *network.FactStore) (value.Value, error) {
	switch {
	case expr.Literal != nil:
		return *expr.Literal, nil
	case expr.VarRef != "":
		v, ok := t.Bindings[expr.VarRef]
		if !ok {
			return value.Value{}, errs.Action("resolve", fmt.Sprintf("unbound variable %q", expr.VarRef), nil)
		}
		return v, nil
	case expr.FieldRef != nil:
		id, ok := t.Aliases[expr.FieldRef.Alias]
		if !ok {
			return value.Value{}, errs.Action("resolve", fmt.Sprintf("unknown alias %q", expr.FieldRef.Alias), nil)
		}
		f, ok := store.Get(id)
		if !ok {
			return value.Value{}, errs.Action("resolve", fmt.Sprintf("fact for alias %q no longer exists", expr.FieldRef.Alias), nil)
		}
		v, ok := f.Get(expr.FieldRef.Field)
		if !ok {
			return value.Value{}, errs.Action("resolve", fmt.Sprintf("field %q not present on alias %q", expr.FieldRef.Field, expr.FieldRef.Alias), nil)
		}
		return v, nil
	default:
		return value.Value{}, errs.Action("resolve", "empty value expression", nil)
	}
}

// execSetField creates a replacement fact with Field overwritten, asserts
// it, and — when the rule's UpdateInPlace is set — retracts the original
// (spec §9 open question (a): "new fact + optional retract, per rule").
func (e *Executor) execSetField(r *rule.Rule, t tok.Token, a rule.SetFieldAction) ([]Effect, error) {
	id, ok := t.Aliases[a.Alias]
	if !ok {
		return nil, errs.Action("SetField", fmt.Sprintf("unknown alias %q", a.Alias), nil).WithRule(uint64(r.Id))
	}
	original, ok := e.net.Store.Get(id)
	if !ok {
		return nil, errs.Action("SetField", fmt.Sprintf("fact for alias %q no longer exists", a.Alias), nil).WithRule(uint64(r.Id))
	}
	val, err := resolve(a.Value, t, e.net.Store)
	if err != nil {
		return nil, err
	}
	replacement := original.WithField(a.Field, val)

	asserted, err := e.net.AssertFact(replacement.Data, replacement.ExternalId)
	if err != nil {
		return nil, err
	}
	effects := []Effect{{Kind: "set_field", FactId: asserted.Id, Field: a.Field, Value: val}}

	if r.UpdateInPlace {
		e.net.RetractFact(id)
		effects = append(effects, Effect{Kind: "retract_fact", FactId: id})
	}
	return effects, nil
}

func (e *Executor) execCreateFact(t tok.Token, a rule.CreateFactAction) ([]Effect, error) {
	data := make(map[string]value.Value, len(a.Template))
	for field, expr := range a.Template {
		v, err := resolve(expr, t, e.net.Store)
		if err != nil {
			return nil, err
		}
		data[field] = v
	}
	f, err := e.net.AssertFact(data, "")
	if err != nil {
		return nil, err
	}
	return []Effect{{Kind: "create_fact", FactId: f.Id}}, nil
}

func (e *Executor) execCallCalculator(ctx context.Context, r *rule.Rule, t tok.Token, a rule.CallCalculatorAction) ([]Effect, error) {
	inputs := make(map[string]value.Value, len(a.Inputs))
	for _, in := range a.Inputs {
		v, err := resolve(in.Value, t, e.net.Store)
		if err != nil {
			return nil, err
		}
		inputs[in.Param] = v
	}
	result, err := e.calculators.Call(ctx, a.Name, inputs)
	if err != nil {
		return nil, err
	}
	return e.writeOutput(r, t, a.OutputAlias, a.OutputField, result, "calculator", a.Name)
}

func (e *Executor) execFormula(r *rule.Rule, t tok.Token, a rule.FormulaAction) ([]Effect, error) {
	result, err := calculator.EvalFormula(a.Expression, t.Bindings)
	if err != nil {
		return nil, err
	}
	return e.writeOutput(r, t, a.OutputAlias, a.OutputField, result, "formula", "")
}

// writeOutput mirrors execSetField's UpdateInPlace handling (spec §9 open
// question (a)) so CallCalculator/Formula outputs retract their source fact
// under the same per-rule policy as a plain SetField, instead of always
// retracting regardless of the rule's configuration.
func (e *Executor) writeOutput(r *rule.Rule, t tok.Token, alias, field string, result value.Value, kind, calcName string) ([]Effect, error) {
	id, ok := t.Aliases[alias]
	if !ok {
		return nil, errs.Action("writeOutput", fmt.Sprintf("unknown alias %q", alias), nil)
	}
	original, ok := e.net.Store.Get(id)
	if !ok {
		return nil, errs.Action("writeOutput", fmt.Sprintf("fact for alias %q no longer exists", alias), nil)
	}
	replacement := original.WithField(field, result)
	asserted, err := e.net.AssertFact(replacement.Data, replacement.ExternalId)
	if err != nil {
		return nil, err
	}
	effects := []Effect{{Kind: kind, FactId: asserted.Id, Field: field, Value: result, CalculatorName: calcName}}
	if r.UpdateInPlace {
		e.net.RetractFact(id)
		effects = append(effects, Effect{Kind: "retract_fact", FactId: id})
	}
	return effects, nil
}

func (e *Executor) execTriggerAlert(t tok.Token, a rule.TriggerAlertAction) ([]Effect, error) {
	metadata := make(map[string]value.Value, len(a.Metadata))
	for k, expr := range a.Metadata {
		v, err := resolve(expr, t, e.net.Store)
		if err != nil {
			return nil, err
		}
		metadata[k] = v
	}
	if e.alerts != nil {
		e.alerts.Alert(a.AlertType, a.Message, a.Severity, metadata)
	}
	return []Effect{{Kind: "alert", AlertType: a.AlertType, Message: a.Message}}, nil
}

func (e *Executor) execLog(t tok.Token, a rule.LogAction) ([]Effect, error) {
	if e.logs != nil {
		e.logs.Log(a.Message)
	}
	return []Effect{{Kind: "log", Message: a.Message}}, nil
}

// Package calculator implements the calculator contract and registry (spec
// §4.7): pure, deterministic, time-bounded functions invoked by
// CallCalculatorAction, looked up in O(1), memoized, and closed once the
// engine leaves the Configuring state.
package calculator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"rete/internal/errs"
	"rete/internal/profiler"
	"rete/internal/value"
)

// Calculator is a pure, deterministic function over named inputs. It must
// not block on I/O and must respect ctx's deadline (spec §4.7).
type Calculator interface {
	Name() string
	Compute(ctx context.Context, inputs map[string]value.Value) (value.Value, error)
}

// Func adapts a plain function into a Calculator.
type Func struct {
	FuncName string
	Compute_ func(ctx context.Context, inputs map[string]value.Value) (value.Value, error)
}

func (f Func) Name() string { return f.FuncName }
func (f Func) Compute(ctx context.Context, inputs map[string]value.Value) (value.Value, error) {
	return f.Compute_(ctx, inputs)
}

// Registry holds every registered Calculator, keyed by name for O(1)
// lookup, and memoizes results by (name, canonical inputs) (spec §4.7).
type Registry struct {
	calculators map[string]Calculator
	cache       *lru.Cache[string, value.Value]
	budget      time.Duration
	closed      bool
	prof        *profiler.Profiler
}

// New builds a Registry with the given per-call budget and memo cache size.
func New(budget time.Duration, cacheEntries int, prof *profiler.Profiler) *Registry {
	if cacheEntries <= 0 {
		cacheEntries = 1
	}
	c, _ := lru.New[string, value.Value](cacheEntries)
	return &Registry{calculators: make(map[string]Calculator), cache: c, budget: budget, prof: prof}
}

// Register adds a calculator; fails once the registry has been Closed
// (spec §4.7: "closed after Configuring").
func (r *Registry) Register(c Calculator) error {
	if r.closed {
		return errs.Configuration("Register", fmt.Sprintf("cannot register calculator %q after engine has left Configuring", c.Name()), nil)
	}
	if _, exists := r.calculators[c.Name()]; exists {
		return errs.Configuration("Register", fmt.Sprintf("calculator %q already registered", c.Name()), nil)
	}
	r.calculators[c.Name()] = c
	return nil
}

// Close seals the registry against further registration, called when the
// engine transitions out of Configuring (spec §4.8).
func (r *Registry) Close() { r.closed = true }

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.calculators[name]
	return ok
}

func canonicalKey(name string, inputs map[string]value.Value) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(inputs[k].String())
	}
	return b.String()
}

// Call invokes the named calculator with a deadline derived from the
// registry's configured budget, memoizing by (name, inputs) (spec §4.7,
// §5's time-bounded execution requirement).
func (r *Registry) Call(ctx context.Context, name string, inputs map[string]value.Value) (value.Value, error) {
	c, ok := r.calculators[name]
	if !ok {
		return value.Value{}, errs.Calculator("Call", fmt.Sprintf("calculator %q is not registered", name), nil)
	}

	key := canonicalKey(name, inputs)
	if v, ok := r.cache.Get(key); ok {
		if r.prof != nil {
			r.prof.CacheHit("calculator:" + name)
		}
		return v, nil
	}
	if r.prof != nil {
		r.prof.CacheMiss("calculator:" + name)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if r.budget > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	var stop func()
	if r.prof != nil {
		stop = r.prof.Scope("calculator:" + name)
	}
	v, err := c.Compute(callCtx, inputs)
	if stop != nil {
		stop()
	}
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return value.Value{}, errs.Timeout("Call", fmt.Sprintf("calculator %q exceeded its call budget", name))
		}
		return value.Value{}, errs.Calculator("Call", fmt.Sprintf("calculator %q failed", name), err)
	}

	r.cache.Add(key, v)
	return v, nil
}

// Names returns every registered calculator name, sorted, for introspection.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.calculators))
	for n := range r.calculators {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Package profiler implements the scoped timer and counter surface from
// spec §4.9: per-operation durations (count, average, min, max, p95, p99),
// a bottleneck report, and named cache-hit counters (the calculator
// registry records one per calculator for its memoized results).
package profiler

import (
	"sort"
	"sync"
	"time"
)

// OpStats summarizes the recorded durations for one operation name.
type OpStats struct {
	Count   int
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
	P95     time.Duration
	P99     time.Duration
}

// CacheStats tracks hit/miss counters for one named cache.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// HitRate returns Hits/(Hits+Misses), or 0 if no observations were made.
func (c CacheStats) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(total)
}

// Profiler aggregates operation timings and cache counters for the whole
// engine. One Profiler belongs to one Engine instance.
type Profiler struct {
	mu      sync.Mutex
	samples map[string][]time.Duration
	caches  map[string]*CacheStats
}

func New() *Profiler {
	return &Profiler{
		samples: make(map[string][]time.Duration),
		caches:  make(map[string]*CacheStats),
	}
}

// Record appends one observed duration for the named operation (spec
// §4.9); the engine records "fire" per activation and the calculator
// registry "calculator:<name>" per call.
func (p *Profiler) Record(op string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples[op] = append(p.samples[op], d)
}

// Scope starts timing op and returns a function that records the elapsed
// duration when called; intended for `defer p.Scope("fire")()`.
func (p *Profiler) Scope(op string) func() {
	start := time.Now()
	return func() {
		p.Record(op, time.Since(start))
	}
}

// CacheHit / CacheMiss record one observation against the named cache
// (e.g. "calculator:<name>", as the calculator registry records them).
func (p *Profiler) CacheHit(name string) { p.cacheStat(name).Hits++ }
func (p *Profiler) CacheMiss(name string) { p.cacheStat(name).Misses++ }

func (p *Profiler) cacheStat(name string) *CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.caches[name]
	if !ok {
		c = &CacheStats{}
		p.caches[name] = c
	}
	return c
}

// Stats computes the OpStats snapshot for the named operation.
func (p *Profiler) Stats(op string) OpStats {
	p.mu.Lock()
	durs := append([]time.Duration(nil), p.samples[op]...)
	p.mu.Unlock()
	return computeStats(durs)
}

// Report computes OpStats for every recorded operation.
func (p *Profiler) Report() map[string]OpStats {
	p.mu.Lock()
	ops := make([]string, 0, len(p.samples))
	snap := make(map[string][]time.Duration, len(p.samples))
	for op, durs := range p.samples {
		ops = append(ops, op)
		snap[op] = append([]time.Duration(nil), durs...)
	}
	p.mu.Unlock()

	out := make(map[string]OpStats, len(ops))
	for _, op := range ops {
		out[op] = computeStats(snap[op])
	}
	return out
}

// CacheReport snapshots every named cache's counters.
func (p *Profiler) CacheReport() map[string]CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]CacheStats, len(p.caches))
	for name, c := range p.caches {
		out[name] = *c
	}
	return out
}

// Bottleneck returns the operation name with the highest total recorded
// duration, and its stats; ok is false if nothing has been recorded.
func (p *Profiler) Bottleneck() (op string, stats OpStats, ok bool) {
	report := p.Report()
	var worstTotal time.Duration
	for name, s := range report {
		if s.Total > worstTotal {
			worstTotal = s.Total
			op = name
			stats = s
			ok = true
		}
	}
	return
}

func computeStats(durs []time.Duration) OpStats {
	if len(durs) == 0 {
		return OpStats{}
	}
	sorted := append([]time.Duration(nil), durs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}

	return OpStats{
		Count:   len(sorted),
		Total:   total,
		Average: total / time.Duration(len(sorted)),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

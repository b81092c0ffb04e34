// Package logging provides a categorized structured logger, one child
// logger per engine subsystem, backed by go.uber.org/zap. The category
// split mirrors the teacher's internal/logging (one file-backed *log.Logger
// per Category); here each category is a zap.Logger decorated with a
// "category" field instead, since zap is already a real dependency.
package logging

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Category identifies an engine subsystem for log scoping and for the
// Profiler's per-operation bucketing.
type Category string

const (
	CategoryCompiler   Category = "compiler"
	CategoryAlpha      Category = "alpha"
	CategoryBeta       Category = "beta"
	CategoryAggregate  Category = "aggregate"
	CategoryAgenda     Category = "agenda"
	CategoryAction     Category = "action"
	CategoryCalculator Category = "calculator"
	CategoryProfiler   Category = "profiler"
	CategoryEngine     Category = "engine"
)

var (
	mu      sync.Mutex
	base    *zap.Logger
	cache   = make(map[Category]*zap.Logger)
)

func root() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	}
	return base
}

// SetBase overrides the root zap.Logger (e.g. to zap.NewDevelopment() in
// tests or a cmd entry point that wants console output).
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	cache = make(map[Category]*zap.Logger)
}

// Get returns the category-scoped logger, creating and caching it on first
// use.
func Get(category Category) *zap.Logger {
	mu.Lock()
	if l, ok := cache[category]; ok {
		mu.Unlock()
		return l
	}
	mu.Unlock()

	l := root().With(zap.String("category", string(category)))

	mu.Lock()
	cache[category] = l
	mu.Unlock()
	return l
}

// Sync flushes all cached loggers; call before process exit.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
}

// Timer measures an operation's duration within a category and logs it on
// Stop, mirroring the teacher's logging.StartTimer/Timer.Stop shape.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, op string) *Timer {
	return &Timer{category: category, op: op, start: time.Now()}
}

// Stop ends the timer, logs the duration at debug level, and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning instead of debug when elapsed exceeds
// threshold, matching the teacher's slow-operation reporting.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn(t.op+" exceeded threshold",
			zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		Get(t.category).Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}

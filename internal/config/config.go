// Package config holds the engine's typed, file-loadable configuration,
// split into per-concern structs the way the teacher's internal/config
// does (ExecutionConfig, MemoryConfig, ...), each dual-tagged for YAML and
// JSON.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MemoryConfig bounds store and network growth (spec §5 backpressure).
type MemoryConfig struct {
	MaxFacts       int `yaml:"max_facts" json:"max_facts"`
	MaxFactBytes   int `yaml:"max_fact_bytes" json:"max_fact_bytes"`
	MaxTotalTokens int `yaml:"max_total_tokens" json:"max_total_tokens"`
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxFacts:       1_000_000,
		MaxFactBytes:   64 * 1024,
		MaxTotalTokens: 5_000_000,
	}
}

// CalculatorConfig bounds calculator execution (spec §4.7 "time-bounded by
// a configurable per-call budget").
type CalculatorConfig struct {
	CallBudget   time.Duration `yaml:"call_budget" json:"call_budget"`
	CacheEntries int           `yaml:"cache_entries" json:"cache_entries"`
}

func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		CallBudget:   2 * time.Second,
		CacheEntries: 4096,
	}
}

// AgendaConfig selects the tie-breaking conflict resolution strategy (spec
// §4.6).
type AgendaConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"` // priority|specificity|lexicographic|insertion
}

func DefaultAgendaConfig() AgendaConfig {
	return AgendaConfig{Strategy: "priority"}
}

// WindowConfig bounds aggregation/window lateness handling (spec §4.5).
type WindowConfig struct {
	MaxLateness time.Duration `yaml:"max_lateness" json:"max_lateness"`
}

func DefaultWindowConfig() WindowConfig {
	return WindowConfig{MaxLateness: 5 * time.Second}
}

// EngineConfig aggregates the concern-specific structs above plus
// top-level knobs (alpha fan-out worker count, and RejectActionCycles,
// which bounds the fires of one Process call as an action-cycle guard;
// rules are not checked for cycles when compiled).
type EngineConfig struct {
	Memory             MemoryConfig      `yaml:"memory" json:"memory"`
	Calculator         CalculatorConfig  `yaml:"calculator" json:"calculator"`
	Agenda             AgendaConfig      `yaml:"agenda" json:"agenda"`
	Window             WindowConfig      `yaml:"window" json:"window"`
	AlphaWorkers       int               `yaml:"alpha_workers" json:"alpha_workers"`
	RejectActionCycles bool              `yaml:"reject_action_cycles" json:"reject_action_cycles"`
	FactIndexExclude   map[string]bool   `yaml:"fact_index_exclude" json:"fact_index_exclude"`
}

// Default returns production defaults, the way the teacher's
// mangle.DefaultConfig() does for its engine wrapper.
func Default() EngineConfig {
	return EngineConfig{
		Memory:             DefaultMemoryConfig(),
		Calculator:         DefaultCalculatorConfig(),
		Agenda:             DefaultAgendaConfig(),
		Window:             DefaultWindowConfig(),
		AlphaWorkers:       4,
		RejectActionCycles: true,
		FactIndexExclude:   map[string]bool{},
	}
}

// Load reads an EngineConfig from a YAML file at path, overlaying onto
// defaults so a partial file is valid.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

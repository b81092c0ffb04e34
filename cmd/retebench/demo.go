package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"rete/internal/config"
	"rete/internal/engine"
	"rete/internal/rule"
	"rete/internal/value"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a built-in high-value-order rule against a handful of sample facts",
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	eng := engine.New(config.Default())

	highValue := &rule.Rule{
		Name: "flag_high_value_order",
		Conditions: []rule.Condition{
			rule.PatternCondition{Pattern: rule.Pattern{
				Alias: "order",
				Tests: []rule.FieldTest{
					{Field: "type", Operator: rule.OpEqual, Literal: value.NewString("order")},
					{Field: "amount", Operator: rule.OpGreater, Literal: value.NewFloat(1000)},
				},
				Bindings: []rule.Binding{{Field: "amount", Var: "amount"}},
			}},
		},
		Actions: []rule.Action{
			rule.TriggerAlertAction{
				AlertType: "high_value_order",
				Message:   "order exceeds the high-value threshold",
				Severity:  "medium",
				Metadata: map[string]rule.ValueExpr{
					"amount": rule.VarRef("amount"),
				},
			},
		},
		Priority:   0,
		Refraction: true,
		Enabled:    true,
	}

	if _, err := eng.AddRule(highValue); err != nil {
		return fmt.Errorf("add rule: %w", err)
	}

	eng.SetAlertSink(func(alertType, message, severity string, metadata map[string]value.Value) {
		fmt.Printf("ALERT[%s/%s]: %s %v\n", alertType, severity, message, metadata)
	})

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	orders := []map[string]value.Value{
		{"type": value.NewString("order"), "amount": value.NewFloat(250)},
		{"type": value.NewString("order"), "amount": value.NewFloat(4200)},
		{"type": value.NewString("order"), "amount": value.NewFloat(1500)},
	}
	if _, err := eng.AssertFacts(orders); err != nil {
		return fmt.Errorf("assert facts: %w", err)
	}

	fired, err := eng.Process(context.Background())
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}

	stats := eng.GetStats()
	fmt.Printf("fired %d activations; facts=%d alpha_nodes=%d beta_nodes=%d\n",
		fired, stats.FactCount, stats.AlphaNodeCount, stats.BetaNodeCount)
	return nil
}

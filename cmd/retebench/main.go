// Command retebench is a thin CLI wrapper around the engine package: it
// builds a small demo rule set, feeds it a batch of facts, and prints the
// resulting stats and fired activations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "retebench",
	Short: "Exercise the RETE engine with a small demo rule set",
}

func main() {
	rootCmd.AddCommand(demoCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

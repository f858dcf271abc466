package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "flywheel",
	Short: "Self-improving end-to-end test suite for browser agents",
	Long: `Flywheel runs a suite of browser-agent tests, scores the run against a
Skill Health Score baseline, extracts feedback from what went wrong, and
applies the single highest-priority fix from its backlog before the next
crank — a closed loop of measure, fix, and record.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./flywheel.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(crankCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(validateCmd)
}

// Commands are defined in separate files:
// - crankCmd, measureCmd, fixCmd in crank.go
// - testCmd in test.go
// - validateCmd in validate.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

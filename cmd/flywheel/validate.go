package main

import (
	"fmt"

	"github.com/lotreace/skill-flywheel/pkg/testdef"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Args:  cobra.NoArgs,
	Short: "Validate every test definition without running any of them",
	Long:  `Parses and validates every test definition under runner.tests_dir, reporting warnings (e.g. milestone weights summing below 1) and errors without executing anything.`,
	RunE:  runValidateTestDefs,
}

func runValidateTestDefs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	parser := testdef.New(nil)
	tests, err := parser.LoadDir(cfg.Runner.TestsDir)
	if err != nil {
		return fmt.Errorf("failed to load test definitions: %w", err)
	}

	v := testdef.NewValidator()
	failed := 0
	for _, td := range tests {
		if err := v.Validate(&td); err != nil {
			failed++
		}
		if v.HasWarnings() || v.HasErrors() {
			fmt.Printf("%s:\n%s", td.ID, v.GetReport())
		}
	}

	fmt.Printf("%d test definition(s) checked, %d failed\n", len(tests), failed)
	if failed > 0 {
		return fmt.Errorf("%d test definition(s) failed validation", failed)
	}
	return nil
}

package main

import (
	"context"
	"fmt"

	"github.com/lotreace/skill-flywheel/pkg/crank"
	"github.com/lotreace/skill-flywheel/pkg/validate"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <id>",
	Args:  cobra.ExactArgs(1),
	Short: "Run and validate exactly one test",
	Long:  `Runs a single test definition through the runner and validator with no SELECT, FIX, or RECORD phase. Useful for iterating on one test in isolation.`,
	RunE:  runSingleTest,
}

func runSingleTest(cmd *cobra.Command, args []string) error {
	testID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info("running single test", "testId", testID)

	orch := crank.New(cfg, logger, nil)
	result, err := orch.RunSingleTest(context.Background(), testID)
	if err != nil {
		return fmt.Errorf("failed to run test %s: %w", testID, err)
	}

	fmt.Printf("%s: %s (composite %.2f)\n", result.TestID, result.Status, result.Composite)
	if result.Status != validate.StatusPass {
		return fmt.Errorf("test %s did not pass", testID)
	}
	return nil
}

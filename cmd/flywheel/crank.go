package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lotreace/skill-flywheel/pkg/cancel"
	"github.com/lotreace/skill-flywheel/pkg/crank"
	"github.com/lotreace/skill-flywheel/pkg/flyerr"
	"github.com/lotreace/skill-flywheel/pkg/reporting"
	"github.com/lotreace/skill-flywheel/pkg/telemetry"
	"github.com/spf13/cobra"
)

var crankCmd = &cobra.Command{
	Use:   "crank",
	Args:  cobra.NoArgs,
	Short: "Run one full crank: select, fix, measure, validate, and record",
	Long:  `Selects the top backlog recommendation, applies its fix, measures the full suite, evaluates the regression gate, and records the outcome.`,
	RunE:  makeRunCrank(crank.ModeFull),
}

var measureCmd = &cobra.Command{
	Use:   "measure",
	Args:  cobra.NoArgs,
	Short: "Run one crank without selecting or applying a fix",
	Long:  `Measures the full suite, evaluates the regression gate, and records the outcome. No issue is selected and no fix outcome is appended.`,
	RunE:  makeRunCrank(crank.ModeMeasureOnly),
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Args:  cobra.NoArgs,
	Short: "Apply the top backlog recommendation without measuring",
	Long:  `Selects the top backlog recommendation and applies its fix, recording the fix outcome from the fixer's exit code alone. No suite is run.`,
	RunE:  makeRunCrank(crank.ModeFixOnly),
}

func init() {
	for _, cmd := range []*cobra.Command{crankCmd, measureCmd, fixCmd} {
		cmd.Flags().String("format", "text", "output format (text, json)")
	}
}

func makeRunCrank(mode crank.Mode) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		outputFormat, _ := cmd.Flags().GetString("format")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger := newLogger(cfg)
		logger.Info("flywheel starting", "version", version, "mode", mode)

		ctrl := cancel.New(cancel.Config{
			StopFile:             cfg.Cancel.StopFile,
			PollInterval:         cfg.Cancel.PollInterval,
			EnableSignalHandlers: cfg.Cancel.EnableSignalHandlers,
		})
		ctx, stop := context.WithCancel(context.Background())
		ctrl.OnCancel(stop)
		ctrl.Start(ctx)

		var metrics *telemetry.Metrics
		if cfg.Telemetry.Enabled {
			metrics = telemetry.NewMetrics()
			server := telemetry.NewServer(cfg.Telemetry.Listen, metrics)
			go func() {
				if err := server.Start(ctx); err != nil {
					logger.Warn("telemetry server stopped", "error", err.Error())
				}
			}()
		}

		orch := crank.New(cfg, logger, metrics)
		summary, runErr := orch.Run(ctx, mode)

		if runErr != nil {
			if ctrl.Cancelled() {
				return fmt.Errorf("crank cancelled: %s", ctrl.Reason())
			}
			if code, ok := flyerr.CodeOf(runErr); ok {
				logger.Error("crank aborted", "code", string(code), "error", runErr.Error())
			} else {
				logger.Error("crank failed", "error", runErr.Error())
			}
			return runErr
		}

		if err := reporting.Print(os.Stdout, reporting.Format(outputFormat), summary); err != nil {
			return fmt.Errorf("failed to print crank summary: %w", err)
		}

		// A regression-gate failure is not a command failure: the fix was
		// reverted and the crank completed exactly as designed.
		logger.Info("flywheel crank complete", "gatePassed", summary.GatePassed)
		return nil
	}
}

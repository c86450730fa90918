// File: cmd/solve.go
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/browser"
	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/dispatch"
	"github.com/xkilldash9x/webnav-cli/internal/executor"
	"github.com/xkilldash9x/webnav-cli/internal/extract"
	"github.com/xkilldash9x/webnav-cli/internal/llmclient"
	"github.com/xkilldash9x/webnav-cli/internal/metrics"
	"github.com/xkilldash9x/webnav-cli/internal/observability"
	"github.com/xkilldash9x/webnav-cli/internal/orchestrator"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
	"github.com/xkilldash9x/webnav-cli/internal/solver"
)

// newSolveCmd creates and configures the `solve` command.
func newSolveCmd() *cobra.Command {
	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "Runs the solver against the challenge until it finishes or the budget runs out",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment.
			if err := viper.BindPFlag("challenge.url", cmd.Flags().Lookup("url")); err != nil {
				return err
			}
			if err := viper.BindPFlag("challenge.time_budget", cmd.Flags().Lookup("budget")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("report.output", cmd.Flags().Lookup("output")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			session, err := browser.NewSession(ctx, cfg.Browser, logger)
			if err != nil {
				return fmt.Errorf("failed to start browser: %w", err)
			}
			defer session.Close()

			orch, collector, err := buildRun(cfg, session, logger)
			if err != nil {
				return err
			}

			summary, runErr := orch.Run(ctx)
			summary.Render(os.Stdout)

			if cfg.Report.Output != "" {
				if err := summary.WriteJSON(cfg.Report.Output); err != nil {
					logger.Error("Failed to write JSON report", zap.Error(err))
				} else {
					logger.Info("JSON report written",
						zap.String("path", cfg.Report.Output),
						zap.String("run_id", collector.RunID()))
				}
			}

			if runErr != nil {
				if errors.Is(runErr, orchestrator.ErrBudgetExhausted) {
					logger.Warn("Run stopped at the time budget", zap.Error(runErr))
				}
				return runErr
			}
			return nil
		},
	}

	solveCmd.Flags().String("url", "", "Challenge base URL. (Overrides config/env)")
	solveCmd.Flags().Duration("budget", 0, "Wall-clock budget for the whole run. (Overrides config/env)")
	solveCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	solveCmd.Flags().StringP("output", "o", "", "Output file path for the JSON report. If unset, no report file is written.")

	return solveCmd
}

// buildRun wires the solver stack over one browser session.
func buildRun(cfg *config.Config, session *browser.Session, logger *zap.Logger) (*orchestrator.Orchestrator, *metrics.Collector, error) {
	classifiers := []dispatch.Classifier{dispatch.NewPatternClassifier(logger)}

	// Remote tiers only exist when a key is configured; the pattern tier
	// alone still solves the deterministic steps.
	if cfg.LLM.APIKey != "" {
		client, err := llmclient.NewGeminiClient(cfg.LLM, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize model client: %w", err)
		}
		classifiers = append(classifiers,
			dispatch.NewFastClassifier(client, cfg.LLM, logger),
			dispatch.NewVisionClassifier(client, cfg.LLM, logger),
		)
	} else {
		logger.Warn("No API key configured; running with the pattern tier only")
	}

	cascade := dispatch.NewCascade(logger, classifiers...)
	cleaner := browser.NewCleaner(cfg.Challenge.OverlayZIndex, logger)
	observer := perception.NewObserver(logger)
	exec := executor.New(session, logger)
	pipeline := extract.NewDefaultPipeline(cfg.Challenge.SessionKey, cfg.Challenge.CryptoKey, logger)
	collector := metrics.NewCollector(cfg.Challenge.TotalSteps, logger)

	stepSolver := solver.New(cfg.Challenge, session, cleaner, observer, cascade, exec, pipeline, collector, logger)
	orch := orchestrator.New(cfg.Challenge, session, stepSolver, collector, logger)
	return orch, collector, nil
}

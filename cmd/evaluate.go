// File: cmd/evaluate.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shopscope/internal/browser"
	"github.com/xkilldash9x/shopscope/internal/config"
	"github.com/xkilldash9x/shopscope/internal/evaluator"
	"github.com/xkilldash9x/shopscope/internal/framework"
	"github.com/xkilldash9x/shopscope/internal/llmclient"
	"github.com/xkilldash9x/shopscope/internal/observability"
	"github.com/xkilldash9x/shopscope/internal/terminal"
)

// newEvaluateCmd creates the `evaluate` command, the interactive session.
func newEvaluateCmd(state *appState) *cobra.Command {
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Starts an interactive evaluation session",
		Long: `Opens a browser and a conversation with the vision model. Type requests
such as "Evaluate the checkout of https://example.com"; the model navigates,
clicks and records scores into the framework spreadsheet. Type exit to finish.
Scores are written to the output file when the session ends.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyEvaluateFlags(cmd, state.cfg); err != nil {
				return err
			}
			initial, err := cmd.Flags().GetString("prompt")
			if err != nil {
				return err
			}
			return runEvaluation(cmd.Context(), state.cfg, initial, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	evaluateCmd.Flags().String("framework", "", "Scoring framework spreadsheet (.xlsx or .csv). (Overrides config/env)")
	evaluateCmd.Flags().String("sheet", "", "Worksheet holding the framework. (Overrides config/env)")
	evaluateCmd.Flags().StringP("output", "o", "", "Where the scored framework is written. (Overrides config/env)")
	evaluateCmd.Flags().String("evidence-dir", "", "Directory for evidence screenshots. (Overrides config/env)")
	evaluateCmd.Flags().Bool("headless", false, "Run the browser without a window. (Overrides config/env)")
	evaluateCmd.Flags().String("provider", "", "Model provider: openai or gemini. (Overrides config/env)")
	evaluateCmd.Flags().String("model", "", "Model name for the active provider. (Overrides config/env)")
	evaluateCmd.Flags().String("system-prompt", "", "File with a custom base system prompt. (Overrides config/env)")
	evaluateCmd.Flags().String("prompt", "", "First user message; skips the initial read from the terminal.")

	return evaluateCmd
}

// applyEvaluateFlags copies explicitly set flags over the loaded config and
// validates the result.
func applyEvaluateFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration was not loaded")
	}
	flags := cmd.Flags()

	stringFlags := map[string]func(string){
		"framework":     cfg.SetEvaluationFrameworkPath,
		"sheet":         cfg.SetEvaluationSheet,
		"output":        cfg.SetEvaluationOutputPath,
		"evidence-dir":  cfg.SetEvaluationEvidenceDir,
		"provider":      func(p string) { cfg.SetLLMProvider(config.LLMProvider(strings.ToLower(p))) },
		"system-prompt": func(p string) { cfg.EvaluationCfg.SystemPromptFile = p },
	}
	// provider must land before model, which is keyed by provider.
	for _, name := range []string{"framework", "sheet", "output", "evidence-dir", "provider", "system-prompt"} {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			if err != nil {
				return err
			}
			stringFlags[name](v)
		}
	}
	if flags.Changed("model") {
		v, err := flags.GetString("model")
		if err != nil {
			return err
		}
		cfg.SetLLMModel(v)
	}
	if flags.Changed("headless") {
		v, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(v)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// runEvaluation wires the components and runs one session. Startup order
// puts the cheap failures (framework file, API credentials) before Chrome is
// launched.
func runEvaluation(ctx context.Context, cfg *config.Config, initial string, in io.Reader, out io.Writer, logger *zap.Logger) error {
	var metrics *observability.Metrics
	if mc := cfg.Metrics(); mc.Enabled {
		metrics = observability.NewMetrics()
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, mc.Listen, logger); err != nil {
				logger.Warn("Metrics endpoint stopped.", zap.Error(err))
			}
		}()
	}

	store := framework.NewStore(cfg.Evaluation(), logger)
	table, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load scoring framework: %w", err)
	}

	llm, err := llmclient.NewClient(ctx, cfg.Agent().LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Error closing LLM client", zap.Error(err))
		}
	}()

	model, err := cfg.Agent().LLM.ActiveModel()
	if err != nil {
		return err
	}
	tokens := llmclient.NewTokenCounter(model.Model, logger)

	mgr, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	shutdownBrowser := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown", zap.Error(err))
		}
	}
	defer shutdownBrowser()

	tab, err := mgr.NewSession(ctx)
	if err != nil {
		return err
	}
	// Closing the only tab takes the browser process with it.
	tab.SetOnClose(shutdownBrowser)

	sess, err := evaluator.NewSession(cfg, evaluator.Dependencies{
		LLM:     llm,
		Browser: tab,
		Table:   table,
		Store:   store,
		IO:      terminal.NewConsole(in, out, logger),
		Tokens:  tokens,
		Metrics: metrics,
	}, logger)
	if err != nil {
		// Save is never reached, so the tab is closed here.
		_ = tab.Close(context.WithoutCancel(ctx))
		return err
	}

	logger.Info("Evaluation ready.",
		zap.String("session_id", sess.ID()),
		zap.String("provider", string(cfg.Agent().LLM.Provider)),
		zap.String("model", model.Model),
		zap.String("output", cfg.Evaluation().OutputPath))

	if err := sess.Run(ctx, initial); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nScores saved to %s\n", cfg.Evaluation().OutputPath)
	return nil
}

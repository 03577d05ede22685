package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	plog "github.com/sawpanic/pairsrun/internal/log"
)

var backtestSteps = []string{"connect", "load_pairs", "backtest", "persist"}

func newBacktestCmd(state *cliState) *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Backtest every selected pair and aggregate the portfolio",
		Long: `Loads the pair list and price histories, backtests the selected pairs in
parallel, averages their equity curves and writes the artifacts
(results.jsonl, ledgers/, portfolio.csv, report.md, summary.json).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("persist") {
				state.config.Output.Persist = persist
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBacktest(ctx, state, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&persist, "persist", false, "store the run in Postgres (needs database.enabled)")
	return cmd
}

func runBacktest(ctx context.Context, state *cliState, out io.Writer) error {
	cfg := state.config
	if cfg.Output.Persist && !cfg.Database.Enabled {
		return fmt.Errorf("--persist needs database.enabled")
	}

	steps := plog.NewStepLogger("backtest", backtestSteps)

	steps.StartStep("connect")
	svc, err := openServices(ctx, cfg)
	if err != nil {
		steps.Fail(err.Error())
		return err
	}
	defer svc.Close()

	steps.StartStep("load_pairs")
	all, selected, err := loadPairs(cfg)
	if err != nil {
		steps.Fail(err.Error())
		return err
	}
	log.Info().Int("listed", len(all)).Int("selected", len(selected)).Msg("Pair list loaded")

	steps.StartStep("backtest")
	progressConfig := plog.DefaultProgressConfig()
	if zerolog.GlobalLevel() > zerolog.InfoLevel {
		progressConfig = plog.QuietProgressConfig()
	}
	progress := plog.NewProgressIndicator("pairs", len(selected), progressConfig)
	runner := pairtrade.NewRunner(cfg.RunnerConfig(), svc.feed)
	runner.SetObserver(svc.registry)
	runner.SetProgress(progress)

	timer := svc.registry.StartStepTimer("backtest")
	svc.registry.RunStarted()
	result, err := runner.Run(ctx, selected)
	svc.registry.RunFinished()
	if err != nil {
		timer.Stop("error")
		progress.Fail(err.Error())
		steps.Fail(err.Error())
		return err
	}
	timer.Stop("success")
	progress.Finish(fmt.Sprintf("%d pairs backtested", len(result.Pairs)))

	if cfg.Output.Persist {
		steps.StartStep("persist")
		if err := persistRun(ctx, svc, result); err != nil {
			steps.Fail(err.Error())
			return err
		}
	}
	steps.Finish()

	printRunSummary(out, result)

	var broken []string
	for _, f := range result.Failures {
		if f.Kind == "ledger_invariant" {
			broken = append(broken, f.Pair.ID)
		}
	}
	if len(broken) > 0 {
		return &ledgerInvariantError{pairs: broken}
	}
	return nil
}

func persistRun(ctx context.Context, svc *services, result *pairtrade.RunResult) error {
	repos := svc.database.Repository()
	if repos == nil {
		return fmt.Errorf("database persistence is disabled")
	}

	run, records, err := pairtrade.Records(result)
	if err != nil {
		return err
	}
	if err := repos.Runs.Insert(ctx, run, records); err != nil {
		return fmt.Errorf("failed to persist run %s: %w", result.RunID, err)
	}

	log.Info().Str("run_id", result.RunID).Int("pairs", len(records)).Msg("Run persisted")
	return nil
}

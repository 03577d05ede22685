package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/config"
)

const (
	appName = "pairsrun"
	version = "v0.4.0"
)

// exitLedgerInvariant is the process status when a ledger invariant broke
const exitLedgerInvariant = 3

// cliState is shared by every subcommand once flags are parsed
type cliState struct {
	configPath string
	logLevel   string
	engine     config.EngineFlags
	config     *config.AppConfig
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Kalman-filter pairs trading backtester",
		Version: version,
		Long: `pairsrun backtests a mean-reversion strategy over co-integrated stock pairs.

Each pair's hedge ratio is tracked with a Kalman filter, positions open when the
spread's z-score crosses the entry threshold and close at the exit threshold, and
the per-pair equity curves are averaged into one portfolio.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.setup()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&state.configPath, "config", "config/pairsrun.yaml", "configuration file (missing file means defaults)")
	flags.StringVar(&state.logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	state.engine.Register(flags)

	pairsCmd := &cobra.Command{
		Use:   "pairs",
		Short: "Pair list commands",
	}
	pairsCmd.AddCommand(newPairsListCmd(state))

	rootCmd.AddCommand(
		newBacktestCmd(state),
		newPairCmd(state),
		pairsCmd,
		newServeCmd(state),
	)

	return rootCmd
}

// setup applies the log level and loads the configuration
func (s *cliState) setup() error {
	level, err := zerolog.ParseLevel(s.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", s.logLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := config.LoadAppConfig(s.configPath)
	if err != nil {
		return err
	}
	s.engine.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	s.config = cfg

	log.Debug().
		Str("config", s.configPath).
		Str("source", cfg.Data.Source).
		Int("workers", cfg.Run.Workers).
		Bool("db_enabled", cfg.Database.Enabled).
		Bool("cache_enabled", cfg.Cache.Enabled()).
		Msg("Configuration loaded")
	return nil
}

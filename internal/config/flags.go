package config

import (
	"github.com/spf13/pflag"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
)

// EngineFlags exposes the engine constants on a command line. Only flags the
// user actually set override the loaded configuration.
type EngineFlags struct {
	tradingYear    int
	lookback       int
	periodsPerYear float64
	delta          float64
	regressionObs  float64
	levelProcess   float64
	levelObs       float64
	entry          float64
	exit           float64
	workers        int
	outputDir      string
	set            *pflag.FlagSet
}

// Register adds the engine flags to fs with the package defaults as values
func (f *EngineFlags) Register(fs *pflag.FlagSet) {
	defaults := pairtrade.DefaultConfig()
	f.set = fs

	fs.IntVar(&f.tradingYear, "trading-year", defaults.TradingYear, "trading days per re-estimation segment")
	fs.IntVar(&f.lookback, "lookback", defaults.Lookback, "days of history the z-score and half-life look back")
	fs.Float64Var(&f.periodsPerYear, "periods-per-year", defaults.PeriodsPerYear, "annualisation factor for Sharpe and volatility")
	fs.Float64Var(&f.delta, "delta", defaults.Regression.Delta, "hedge-ratio filter state drift")
	fs.Float64Var(&f.regressionObs, "regression-obs-var", defaults.Regression.ObservationVariance, "hedge-ratio filter observation variance")
	fs.Float64Var(&f.levelProcess, "level-process-var", defaults.Level.ProcessVariance, "price smoother process variance")
	fs.Float64Var(&f.levelObs, "level-obs-var", defaults.Level.ObservationVariance, "price smoother observation variance")
	fs.Float64Var(&f.entry, "entry-z", defaults.Thresholds.Entry, "z-score magnitude that opens a position")
	fs.Float64Var(&f.exit, "exit-z", defaults.Thresholds.Exit, "z-score level that closes a position")
	fs.IntVar(&f.workers, "workers", 0, "pairs backtested concurrently (0 keeps the configured value)")
	fs.StringVar(&f.outputDir, "output-dir", "", "artifact directory (empty keeps the configured value)")
}

// Apply copies every flag the user changed onto config
func (f *EngineFlags) Apply(config *AppConfig) {
	if f.set == nil {
		return
	}
	changed := f.set.Changed
	engine := &config.Engine

	if changed("trading-year") {
		engine.TradingYear = f.tradingYear
	}
	if changed("lookback") {
		engine.Lookback = f.lookback
	}
	if changed("periods-per-year") {
		engine.PeriodsPerYear = f.periodsPerYear
	}
	if changed("delta") {
		engine.Regression.Delta = f.delta
	}
	if changed("regression-obs-var") {
		engine.Regression.ObservationVariance = f.regressionObs
	}
	if changed("level-process-var") {
		engine.Level.ProcessVariance = f.levelProcess
	}
	if changed("level-obs-var") {
		engine.Level.ObservationVariance = f.levelObs
	}
	if changed("entry-z") {
		engine.Thresholds.Entry = f.entry
	}
	if changed("exit-z") {
		engine.Thresholds.Exit = f.exit
	}
	if changed("workers") && f.workers > 0 {
		config.Run.Workers = f.workers
	}
	if changed("output-dir") && f.outputDir != "" {
		config.Output.Dir = f.outputDir
	}
}

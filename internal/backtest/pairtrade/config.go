package pairtrade

import (
	"fmt"

	"github.com/sawpanic/pairsrun/internal/kalman"
	"github.com/sawpanic/pairsrun/internal/quant"
	"github.com/sawpanic/pairsrun/internal/signal"
)

// Config holds the engine parameters shared by every pair of a run
type Config struct {
	TradingYear    int                     `yaml:"trading_year" json:"trading_year"`         // Days per segment and warm-up length (default 240)
	Lookback       int                     `yaml:"lookback" json:"lookback"`                 // Days before d in each estimation window (default 240)
	PeriodsPerYear float64                 `yaml:"periods_per_year" json:"periods_per_year"` // Sharpe annualisation (default 252)
	Level          kalman.LevelFilter      `yaml:"level_filter" json:"level_filter"`
	Regression     kalman.HedgeRatioFilter `yaml:"hedge_ratio_filter" json:"hedge_ratio_filter"`
	Thresholds     signal.Thresholds       `yaml:"thresholds" json:"thresholds"`
}

// DefaultConfig returns the engine configuration of the reference strategy
func DefaultConfig() Config {
	return Config{
		TradingYear:    240,
		Lookback:       240,
		PeriodsPerYear: quant.TradingDaysPerYear,
		Level:          kalman.DefaultLevelFilter(),
		Regression:     kalman.DefaultHedgeRatioFilter(),
		Thresholds:     signal.DefaultThresholds(),
	}
}

// Validate checks the configuration before any pair is run
func (c Config) Validate() error {
	if c.TradingYear <= 0 {
		return fmt.Errorf("trading_year must be positive, got %d", c.TradingYear)
	}
	if c.Lookback < 1 {
		return fmt.Errorf("lookback must be at least 1, got %d", c.Lookback)
	}
	// windows may not reach back before the warm-up start
	if c.Lookback > c.TradingYear {
		return fmt.Errorf("lookback %d exceeds trading_year %d", c.Lookback, c.TradingYear)
	}
	if !(c.PeriodsPerYear > 0) {
		return fmt.Errorf("periods_per_year must be positive, got %v", c.PeriodsPerYear)
	}
	if err := c.Level.Validate(); err != nil {
		return err
	}
	if err := c.Regression.Validate(); err != nil {
		return err
	}
	return c.Thresholds.Validate()
}

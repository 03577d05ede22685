package pairtrade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/pairsrun/internal/pairs"
	"github.com/sawpanic/pairsrun/internal/portfolio"
	"github.com/sawpanic/pairsrun/internal/prices"
)

// ErrAllPairsFailed is returned when no selected pair could be backtested
var ErrAllPairsFailed = errors.New("pairtrade: every pair failed")

// RunnerConfig represents a multi-pair backtest run
type RunnerConfig struct {
	Engine    Config // Strategy parameters shared by every pair
	Workers   int    // Pairs backtested concurrently (default GOMAXPROCS)
	OutputDir string // Artifact root; empty disables artifacts
}

// DefaultRunnerConfig returns the default run configuration
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Engine:    DefaultConfig(),
		Workers:   runtime.GOMAXPROCS(0),
		OutputDir: "./artifacts/pairsrun",
	}
}

// Observer receives per-pair and portfolio outcomes, typically for Prometheus
type Observer interface {
	ObservePair(status string, duration time.Duration, trades int)
	ObservePortfolio(totalReturn, volatility, sharpe float64, pairs int)
}

// Progress is advanced once per finished pair
type Progress interface {
	Advance(message string)
}

// Clock interface for time operations (injectable for testing)
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using real time
type RealClock struct{}

func (r *RealClock) Now() time.Time {
	return time.Now()
}

// Runner loads prices, backtests every pair on a bounded worker pool and
// combines the results into one portfolio
type Runner struct {
	config     *RunnerConfig
	feed       prices.Feed
	backtester *Backtester
	metrics    *Metrics
	writer     *Writer
	observer   Observer
	progress   Progress
	clock      Clock
}

// NewRunner creates a runner reading prices from feed
func NewRunner(config *RunnerConfig, feed prices.Feed) *Runner {
	if config == nil {
		config = DefaultRunnerConfig()
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}

	var writer *Writer
	if config.OutputDir != "" {
		writer = NewWriter(config.OutputDir)
	}

	return &Runner{
		config:     config,
		feed:       feed,
		backtester: NewBacktester(config.Engine),
		metrics:    NewMetrics(),
		writer:     writer,
		clock:      &RealClock{},
	}
}

// SetClock sets the clock implementation (for testing)
func (r *Runner) SetClock(clock Clock) {
	r.clock = clock
}

// SetObserver attaches an outcome observer
func (r *Runner) SetObserver(observer Observer) {
	r.observer = observer
}

// SetProgress attaches a progress reporter
func (r *Runner) SetProgress(progress Progress) {
	r.progress = progress
}

// Writer returns the artifact writer, nil when artifacts are disabled
func (r *Runner) Writer() *Writer {
	return r.writer
}

// Run backtests list. A pair that fails is logged, counted and left out of the
// portfolio; the run itself fails only when every pair fails or ctx ends.
func (r *Runner) Run(ctx context.Context, list []pairs.Pair) (*RunResult, error) {
	if err := r.config.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("no pairs to backtest")
	}

	result := &RunResult{
		RunID:      uuid.NewString(),
		Config:     r.config.Engine,
		StartedAt:  r.clock.Now(),
		PairsTotal: len(list),
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("pairs", len(list)).
		Int("workers", r.config.Workers).
		Msg("Starting pairs backtest")

	series, loadErrs, err := r.loadSeries(ctx, pairs.Symbols(list))
	if err != nil {
		return nil, err
	}

	// each pair trades on its own legs' dates; the run calendar only lines the
	// value curves up for the portfolio
	loaded := make([]prices.Series, 0, len(series))
	for _, symbol := range pairs.Symbols(list) {
		if s, ok := series[symbol]; ok {
			loaded = append(loaded, s)
		}
	}
	calendar, err := prices.Calendar(loaded...)
	if err != nil {
		return nil, fmt.Errorf("failed to align price histories: %w", err)
	}
	result.Calendar = calendar

	outcomes := make([]*PairResult, len(list))
	failures := make([]error, len(list))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, pair := range list {
		i, pair := i, pair
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			res, pairCalendar, err := r.runPair(gctx, pair, series, loadErrs)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failures[i] = err
				r.recordFailure(pair, err)
				return nil
			}

			res.Values = alignValues(res.Values, pairCalendar, calendar)
			outcomes[i] = res
			r.recordPair(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	curves := make([]portfolio.Curve, 0, len(list))
	for i, pair := range list {
		if failures[i] != nil {
			result.Failures = append(result.Failures, PairFailure{Pair: pair, Kind: ErrorKind(failures[i]), Error: failures[i].Error()})
			continue
		}
		res := outcomes[i]
		result.Pairs = append(result.Pairs, res)
		if res.Traded() {
			result.PairsTraded++
		}
		curves = append(curves, portfolio.Curve{Name: pair.ID, Values: res.Values})
	}

	if len(result.Pairs) == 0 {
		return nil, fmt.Errorf("%w: %d of %d", ErrAllPairsFailed, len(result.Failures), len(list))
	}

	book, err := portfolio.Aggregate(curves)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate portfolio: %w", err)
	}
	result.Portfolio = book
	if r.observer != nil {
		r.observer.ObservePortfolio(book.TotalReturn, book.Volatility, book.Sharpe, len(curves))
	}

	result.FinishedAt = r.clock.Now()
	result.Metrics = r.metrics.GetSummary()

	log.Info().
		Str("run_id", result.RunID).
		Int("traded", result.PairsTraded).
		Int("failed", len(result.Failures)).
		Float64("total_return", book.TotalReturn).
		Float64("sharpe", book.Sharpe).
		Float64("volatility", book.Volatility).
		Msg("Pairs backtest complete")

	if r.writer != nil {
		result.OutputDir = r.writer.GetOutputDir(result.RunID)
		if err := r.writer.WriteAll(result); err != nil {
			return nil, fmt.Errorf("failed to write artifacts: %w", err)
		}
	}

	return result, nil
}

// RunPair backtests a single pair straight from the feed
func (r *Runner) RunPair(ctx context.Context, pair pairs.Pair) (*PairResult, []time.Time, error) {
	if err := r.config.Engine.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid engine config: %w", err)
	}

	series, loadErrs, err := r.loadSeries(ctx, []string{pair.X, pair.Y})
	if err != nil {
		return nil, nil, err
	}
	for _, symbol := range []string{pair.X, pair.Y} {
		if err := loadErrs[symbol]; err != nil {
			return nil, nil, err
		}
	}

	return r.runPair(ctx, pair, series, loadErrs)
}

// runPair backtests pair on the union of its two legs' dates and returns that
// calendar. Days after either leg's last price are not traded and stay NaN in
// the value curve.
func (r *Runner) runPair(ctx context.Context, pair pairs.Pair, series map[string]prices.Series,
	loadErrs map[string]error) (*PairResult, []time.Time, error) {
	for _, symbol := range []string{pair.X, pair.Y} {
		if err := loadErrs[symbol]; err != nil {
			return nil, nil, fmt.Errorf("%s: %w", pair.ID, err)
		}
	}

	calendar, err := prices.Calendar(series[pair.X], series[pair.Y])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %v", pair.ID, ErrLengthMismatch, err)
	}

	x := series[pair.X].Reindex(calendar)
	y := series[pair.Y].Reindex(calendar)
	n := len(x)
	if len(y) != n {
		return nil, nil, fmt.Errorf("%w: %s has %d prices, %s has %d", ErrLengthMismatch, pair.X, n, pair.Y, len(y))
	}

	end := tradableEnd(x, y)
	if end < n {
		log.Debug().
			Str("pair", pair.ID).
			Int("last_day", end-1).
			Int("days", n).
			Msg("Leg stopped trading, pair ends early")
	}

	res, err := r.backtester.Run(ctx, pair, x[:end], y[:end])
	if err != nil {
		return nil, nil, err
	}
	if end < n {
		res.Values = append(res.Values, nanSeries(n-end)...)
	}

	if calendar != nil {
		for i := range res.Rows {
			res.Rows[i].Date = calendar[res.Rows[i].Index]
		}
		for i := range res.Segments {
			res.Segments[i].StartDate = calendar[res.Segments[i].Start]
		}
	}
	return res, calendar, nil
}

// tradableEnd is one past the last day on which both legs have a price
func tradableEnd(x, y []float64) int {
	for i := len(x) - 1; i >= 0; i-- {
		if !math.IsNaN(x[i]) && !math.IsNaN(y[i]) {
			return i + 1
		}
	}
	return len(x)
}

// alignValues moves a value curve from the pair's calendar onto the run
// calendar, NaN on dates the pair never saw. Positional curves pass through.
func alignValues(values []float64, from, to []time.Time) []float64 {
	return prices.Series{Dates: from, Close: values}.Reindex(to)
}

// loadSeries fetches every symbol concurrently. A symbol that fails to load is
// reported in the error map; only context errors abort the load.
func (r *Runner) loadSeries(ctx context.Context, symbols []string) (map[string]prices.Series, map[string]error, error) {
	var mu sync.Mutex
	series := make(map[string]prices.Series, len(symbols))
	loadErrs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			s, err := r.feed.Load(gctx, symbol)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load prices")
				loadErrs[symbol] = err
				return nil
			}
			series[symbol] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if len(loadErrs) > 0 {
		missing := make([]string, 0, len(loadErrs))
		for symbol := range loadErrs {
			missing = append(missing, symbol)
		}
		sort.Strings(missing)
		log.Warn().Strs("symbols", missing).Msg("Some price histories are unavailable")
	}

	return series, loadErrs, nil
}

func (r *Runner) recordPair(res *PairResult) {
	r.metrics.RecordPair(res)

	status := "traded"
	if !res.Traded() {
		status = "idle"
	}
	if r.observer != nil {
		r.observer.ObservePair(status, res.Duration, res.Trades)
	}
	if r.progress != nil {
		r.progress.Advance(res.Pair.ID)
	}

	log.Info().
		Str("pair", res.Pair.ID).
		Str("x", res.Pair.X).
		Str("y", res.Pair.Y).
		Int("segments", len(res.Segments)).
		Int("trades", res.Trades).
		Float64("total_return", res.TotalReturn).
		Float64("sharpe", res.Sharpe).
		Dur("duration", res.Duration).
		Msg("Pair backtest complete")
}

func (r *Runner) recordFailure(pair pairs.Pair, err error) {
	r.metrics.RecordError(err)

	if r.observer != nil {
		r.observer.ObservePair("failed", 0, 0)
	}
	if r.progress != nil {
		r.progress.Advance(pair.ID + " failed")
	}

	log.Error().
		Err(err).
		Str("pair", pair.ID).
		Str("kind", ErrorKind(err)).
		Msg("Pair backtest failed")
}

// Package pairtrade backtests Kalman-filter pairs strategies year by year and
// runs many pairs into an equally weighted portfolio.
package pairtrade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/kalman"
	"github.com/sawpanic/pairsrun/internal/ledger"
	"github.com/sawpanic/pairsrun/internal/pairs"
	"github.com/sawpanic/pairsrun/internal/prices"
	"github.com/sawpanic/pairsrun/internal/quant"
	"github.com/sawpanic/pairsrun/internal/signal"
)

var (
	// ErrLengthMismatch is returned when the two legs are not on one calendar
	ErrLengthMismatch = errors.New("pairtrade: leg length mismatch")

	// ErrMissingPrice is returned when an estimation window contains a gap
	ErrMissingPrice = errors.New("pairtrade: missing price inside estimation window")
)

// Span is a half-open range [Start, End) of day indices
type Span struct {
	Start int
	End   int
}

// Len is the number of days in the span
func (s Span) Len() int {
	return s.End - s.Start
}

// Segments cuts [start, n) into consecutive spans of length days. The last span
// ends at n and may be shorter.
func Segments(start, n, length int) []Span {
	if length <= 0 || start < 0 || start >= n {
		return nil
	}

	spans := make([]Span, 0, (n-start+length-1)/length)
	for s := start; s < n; s += length {
		end := s + length
		if end > n {
			end = n
		}
		spans = append(spans, Span{Start: s, End: end})
	}
	return spans
}

// Estimate is what the filters conclude about the last day of a window
type Estimate struct {
	HedgeRatio float64
	Spread     float64
	HalfLife   int
	ZScore     float64
}

// Backtester runs the strategy on a single pair
type Backtester struct {
	config Config
}

// NewBacktester creates a backtester; the config is expected to be validated
func NewBacktester(config Config) *Backtester {
	return &Backtester{config: config}
}

// Config returns the engine configuration
func (b *Backtester) Config() Config {
	return b.config
}

// Run backtests pair on x and y, which must share one calendar. Leading NaN
// prices are allowed; trading starts one trading year after both legs have a
// price, and every later segment uses only data up to each day.
func (b *Backtester) Run(ctx context.Context, pair pairs.Pair, x, y []float64) (*PairResult, error) {
	started := time.Now()

	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %s has %d prices, %s has %d", ErrLengthMismatch, pair.X, len(x), pair.Y, len(y))
	}
	n := len(x)

	result := &PairResult{
		Pair:   pair,
		Start:  n,
		Values: nanSeries(n),
	}

	firstX, okX := prices.FirstValidIndex(x)
	firstY, okY := prices.FirstValidIndex(y)
	if !okX || !okY {
		log.Debug().Str("pair", pair.ID).Msg("Pair has a leg without prices, nothing to trade")
		result.Duration = time.Since(started)
		return result, nil
	}

	start := max(firstX, firstY) + b.config.TradingYear
	spans := Segments(start, n, b.config.TradingYear)
	if len(spans) > 0 {
		result.Start = start
	}

	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		segment, rows, err := b.runSegment(span, x, y)
		if err != nil {
			return nil, fmt.Errorf("%s segment %d: %w", pair.ID, i, err)
		}

		for _, row := range rows {
			result.Returns = append(result.Returns, row.Ledger.Return)
		}
		result.Rows = append(result.Rows, rows...)
		result.Segments = append(result.Segments, segment)
		result.Trades += segment.Entries

		log.Debug().
			Str("pair", pair.ID).
			Int("segment", i).
			Int("start", span.Start).
			Int("days", span.Len()).
			Float64("return", segment.TotalReturn).
			Float64("sharpe", segment.Sharpe).
			Msg("Segment complete")
	}

	// segments compound into one curve across the whole range
	values := quant.CumulativeValue(result.Returns)
	for i, row := range result.Rows {
		result.Values[row.Index] = values[i]
	}

	if result.Traded() && len(values) > 0 {
		result.TotalReturn = values[len(values)-1] - 1
		result.Sharpe = quant.Sharpe(result.Returns, b.config.PeriodsPerYear)
	}
	result.Duration = time.Since(started)

	return result, nil
}

// runSegment trades one span with a fresh signal engine and ledger
func (b *Backtester) runSegment(span Span, x, y []float64) (SegmentResult, []Row, error) {
	engine := signal.NewEngine(b.config.Thresholds)
	book := ledger.New()

	rows := make([]Row, 0, span.Len())
	returns := make([]float64, 0, span.Len())

	for d := span.Start; d < span.End; d++ {
		lo := d - b.config.Lookback
		est, err := b.Estimate(x[lo:d+1], y[lo:d+1])
		if err != nil {
			return SegmentResult{}, nil, fmt.Errorf("day %d: %w", d, err)
		}

		step := engine.Step(est.ZScore)
		units := step.State.NumUnits()

		rec, err := book.Step(ledger.Input{
			X:          x[d],
			Y:          y[d],
			HedgeRatio: est.HedgeRatio,
			Spread:     est.Spread,
			NumUnits:   units,
		})
		if err != nil {
			return SegmentResult{}, nil, fmt.Errorf("day %d: %w", d, err)
		}

		rows = append(rows, Row{
			Index:      d,
			X:          x[d],
			Y:          y[d],
			Spread:     est.Spread,
			HedgeRatio: est.HedgeRatio,
			HalfLife:   est.HalfLife,
			ZScore:     est.ZScore,
			Events:     step.Events,
			State:      step.State,
			NumUnits:   units,
			Ledger:     rec,
		})
		returns = append(returns, rec.Return)
	}

	entries, exits := book.Trades()
	return SegmentResult{
		Start:       span.Start,
		End:         span.End,
		TotalReturn: book.Value() - 1,
		Sharpe:      quant.Sharpe(returns, b.config.PeriodsPerYear),
		Entries:     entries,
		Exits:       exits,
	}, rows, nil
}

// Estimate runs the filters over one window and reports the hedge ratio,
// spread, half-life and z-score of its last day. The spread is built from raw
// prices with the hedge ratio estimated on the smoothed ones.
func (b *Backtester) Estimate(x, y []float64) (Estimate, error) {
	if len(x) != len(y) {
		return Estimate{}, fmt.Errorf("%w: window x=%d y=%d", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) == 0 {
		return Estimate{}, fmt.Errorf("%w: empty window", ErrMissingPrice)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			return Estimate{}, fmt.Errorf("%w at window offset %d", ErrMissingPrice, i)
		}
	}

	smoothX := b.config.Level.Filter(x)
	smoothY := b.config.Level.Filter(y)

	estimates, err := b.config.Regression.Filter(smoothX, smoothY)
	if err != nil {
		return Estimate{}, err
	}
	ratios := kalman.HedgeRatios(estimates)

	spread := make([]float64, len(x))
	for i := range x {
		spread[i] = y[i] + ratios[i]*x[i]
	}

	halfLife := quant.HalfLife(spread)
	last := len(spread) - 1

	return Estimate{
		HedgeRatio: ratios[last],
		Spread:     spread[last],
		HalfLife:   halfLife,
		ZScore:     quant.ZScore(spread, halfLife),
	}, nil
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

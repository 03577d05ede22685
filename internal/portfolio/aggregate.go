// Package portfolio combines per-pair value curves into one equally weighted book.
package portfolio

import (
	"errors"
	"fmt"
	"math"

	"github.com/sawpanic/pairsrun/internal/quant"
)

var (
	// ErrNoCurves is returned when there is nothing to aggregate
	ErrNoCurves = errors.New("portfolio: no curves to aggregate")

	// ErrLengthMismatch is returned when curves are not on the same calendar
	ErrLengthMismatch = errors.New("portfolio: curve length mismatch")
)

// Curve is one pair's value series on the shared calendar; NaN marks days
// before the pair started trading.
type Curve struct {
	Name   string
	Values []float64
}

// Result is the aggregate book and its summary statistics
type Result struct {
	Values      []float64 `json:"-"`
	Active      []int     `json:"-"`
	TotalReturn float64   `json:"total_return"`
	Volatility  float64   `json:"annualized_volatility"`
	Sharpe      float64   `json:"annualized_sharpe"`
	Pairs       int       `json:"pairs"`
}

// Aggregate averages, day by day, the curves that have a value that day. A day
// with no active curve is NaN.
func Aggregate(curves []Curve) (*Result, error) {
	if len(curves) == 0 {
		return nil, ErrNoCurves
	}

	n := len(curves[0].Values)
	for _, c := range curves[1:] {
		if len(c.Values) != n {
			return nil, fmt.Errorf("%w: %s has %d values, %s has %d",
				ErrLengthMismatch, c.Name, len(c.Values), curves[0].Name, n)
		}
	}

	values := make([]float64, n)
	active := make([]int, n)
	for t := 0; t < n; t++ {
		sum := 0.0
		for _, c := range curves {
			if v := c.Values[t]; !math.IsNaN(v) {
				sum += v
				active[t]++
			}
		}

		if active[t] == 0 {
			values[t] = math.NaN()
			continue
		}
		values[t] = sum * (1 / float64(active[t]))
	}

	returns := quant.SimpleReturns(values)

	return &Result{
		Values:      values,
		Active:      active,
		TotalReturn: quant.TotalReturn(values),
		Volatility:  quant.AnnualizedVolatility(returns, quant.TradingDaysPerYear),
		Sharpe:      quant.Sharpe(returns, quant.TradingDaysPerYear),
		Pairs:       len(curves),
	}, nil
}

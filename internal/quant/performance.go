package quant

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear annualises daily ratios
const TradingDaysPerYear = 252

// Sharpe is the annualised ratio of mean to sample standard deviation of daily
// returns. NaN entries are ignored. A zero or undefined deviation yields 0.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	mean, std, ok := moments(returns)
	if !ok {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// AnnualizedVolatility is the sample standard deviation of daily returns scaled
// to a year. A zero or undefined deviation yields 0.
func AnnualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	_, std, ok := moments(returns)
	if !ok {
		return 0
	}
	return std * math.Sqrt(periodsPerYear)
}

// moments reports mean and sample deviation of the finite values, and whether
// the deviation is usable as a denominator.
func moments(values []float64) (float64, float64, bool) {
	finite := Finite(values)
	if len(finite) < 2 {
		return 0, 0, false
	}

	mean, std := stat.MeanStdDev(finite, nil)
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) || math.IsNaN(mean) {
		return 0, 0, false
	}
	return mean, std, true
}

// SimpleReturns returns v[t]/v[t-1]-1 for every consecutive pair of present values.
// Steps touching a missing value are skipped.
func SimpleReturns(values []float64) []float64 {
	returns := make([]float64, 0, len(values))
	for t := 1; t < len(values); t++ {
		prev, cur := values[t-1], values[t]
		if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	return returns
}

// CumulativeValue compounds returns into a value curve starting from 1
func CumulativeValue(returns []float64) []float64 {
	values := make([]float64, len(returns))
	value := 1.0
	for i, r := range returns {
		value *= 1 + r
		values[i] = value
	}
	return values
}

// TotalReturn is the last present value minus one, or 0 when nothing is present
func TotalReturn(values []float64) float64 {
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			return values[i] - 1
		}
	}
	return 0
}

// Finite drops NaN and infinite values
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Package quant holds the closed-form statistics used by the pairs backtester:
// mean-reversion half-life, rolling z-scores and annualised performance ratios.
package quant

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// HalfLife estimates how many steps the spread needs to close half of its gap to
// the mean. It regresses the one-step change on the lagged level (OLS with an
// intercept) and returns round(-ln2/slope). Estimates that are not a finite
// positive number, including inputs shorter than two points, clamp to 1.
func HalfLife(spread []float64) int {
	n := len(spread)
	if n < 2 {
		return 1
	}

	lagged := make([]float64, n)
	delta := make([]float64, n)

	// the first row repeats the second so the regression keeps n observations
	lagged[0] = spread[0]
	for i := 1; i < n; i++ {
		lagged[i] = spread[i-1]
		delta[i] = spread[i] - spread[i-1]
	}
	delta[0] = delta[1]

	_, slope := stat.LinearRegression(lagged, delta, nil, false)

	halflife := math.RoundToEven(-math.Ln2 / slope)
	if math.IsNaN(halflife) || math.IsInf(halflife, 0) || halflife <= 0 {
		return 1
	}
	if halflife > math.MaxInt32 {
		return math.MaxInt32
	}

	return int(halflife)
}

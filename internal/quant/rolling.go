package quant

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ZScore returns how many sample standard deviations the last element of series
// sits from the mean of the trailing window ending at it. It is NaN when the
// window is shorter than two points, longer than the series, or has no spread.
func ZScore(series []float64, window int) float64 {
	if window < 2 || window > len(series) {
		return math.NaN()
	}

	tail := series[len(series)-window:]
	mean, std := stat.MeanStdDev(tail, nil)
	if std == 0 || math.IsNaN(std) {
		return math.NaN()
	}

	return (series[len(series)-1] - mean) / std
}

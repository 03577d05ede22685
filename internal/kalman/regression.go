package kalman

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrLengthMismatch is returned when the regressor and response differ in length
var ErrLengthMismatch = errors.New("kalman: input length mismatch")

// HedgeRatioFilter estimates y_t = slope_t*x_t + intercept_t online. The state
// (slope, intercept) follows a random walk so the estimate can track a drifting
// co-integration relationship.
type HedgeRatioFilter struct {
	Delta               float64 `yaml:"delta" json:"delta"`
	ObservationVariance float64 `yaml:"observation_variance" json:"observation_variance"`
	InitialSlope        float64 `yaml:"initial_slope" json:"initial_slope"`
	InitialIntercept    float64 `yaml:"initial_intercept" json:"initial_intercept"`

	// InitialCovariance is row-major over (slope, intercept); nil means a 2x2 of ones.
	InitialCovariance []float64 `yaml:"-" json:"-"`
}

// DefaultHedgeRatioFilter returns the regression filter used by the backtester
func DefaultHedgeRatioFilter() HedgeRatioFilter {
	return HedgeRatioFilter{
		Delta:               1e-3,
		ObservationVariance: 2,
	}
}

// Estimate is the filtered regression state after one observation
type Estimate struct {
	Slope      float64
	Intercept  float64
	Covariance [2][2]float64
}

// HedgeRatio is the multiplier applied to x so that y + hr*x is the spread
func (e Estimate) HedgeRatio() float64 {
	return -e.Slope
}

// ProcessVariance is the per-step variance of the random walk, delta/(1-delta)
func (f HedgeRatioFilter) ProcessVariance() float64 {
	return f.Delta / (1 - f.Delta)
}

// Filter returns one estimate per step; estimate t uses only x[:t+1], y[:t+1]
func (f HedgeRatioFilter) Filter(x, y []float64) ([]Estimate, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: x=%d y=%d", ErrLengthMismatch, len(x), len(y))
	}

	q := f.ProcessVariance()
	noise := mat.NewDiagDense(2, []float64{q, q})
	mean := mat.NewVecDense(2, []float64{f.InitialSlope, f.InitialIntercept})
	cov := mat.NewDense(2, 2, f.initialCovariance())

	obs := mat.NewVecDense(2, nil)
	gain := mat.NewVecDense(2, nil)
	var correction mat.Dense

	estimates := make([]Estimate, len(x))
	for t := range x {
		if t > 0 {
			cov.Add(cov, noise)
		}

		obs.SetVec(0, x[t])
		obs.SetVec(1, 1)

		// gain holds P*h until it is scaled by the innovation variance
		gain.MulVec(cov, obs)
		innovationVariance := mat.Dot(obs, gain) + f.ObservationVariance
		residual := y[t] - mat.Dot(obs, mean)

		mean.AddScaledVec(mean, residual/innovationVariance, gain)
		correction.Outer(1/innovationVariance, gain, gain)
		cov.Sub(cov, &correction)

		estimates[t] = Estimate{
			Slope:     mean.AtVec(0),
			Intercept: mean.AtVec(1),
			Covariance: [2][2]float64{
				{cov.At(0, 0), cov.At(0, 1)},
				{cov.At(1, 0), cov.At(1, 1)},
			},
		}
	}

	return estimates, nil
}

// HedgeRatios is a convenience returning -slope for every estimate
func HedgeRatios(estimates []Estimate) []float64 {
	ratios := make([]float64, len(estimates))
	for i, e := range estimates {
		ratios[i] = e.HedgeRatio()
	}
	return ratios
}

func (f HedgeRatioFilter) initialCovariance() []float64 {
	if len(f.InitialCovariance) == 4 {
		return append([]float64(nil), f.InitialCovariance...)
	}
	return []float64{1, 1, 1, 1}
}

// Validate reports whether the filter parameters describe a proper filter
func (f HedgeRatioFilter) Validate() error {
	if f.Delta <= 0 || f.Delta >= 1 || math.IsNaN(f.Delta) {
		return errInvalidParameter("regression delta", f.Delta)
	}
	if f.ObservationVariance <= 0 || math.IsNaN(f.ObservationVariance) {
		return errInvalidParameter("regression observation variance", f.ObservationVariance)
	}
	if f.InitialCovariance != nil && len(f.InitialCovariance) != 4 {
		return fmt.Errorf("kalman: initial covariance needs 4 values, got %d", len(f.InitialCovariance))
	}
	return nil
}

func errInvalidParameter(name string, value float64) error {
	return fmt.Errorf("kalman: invalid %s: %v", name, value)
}

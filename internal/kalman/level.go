// Package kalman implements the online state-space filters used to smooth prices
// and to estimate a time-varying hedge ratio between two legs of a pair.
package kalman

import "math"

// LevelFilter is a scalar random-walk Kalman filter producing a denoised
// estimate of a price level.
type LevelFilter struct {
	ProcessVariance     float64 `yaml:"process_variance" json:"process_variance"`
	ObservationVariance float64 `yaml:"observation_variance" json:"observation_variance"`
	InitialMean         float64 `yaml:"initial_mean" json:"initial_mean"`
	InitialVariance     float64 `yaml:"initial_variance" json:"initial_variance"`
}

// DefaultLevelFilter returns the smoothing filter used by the backtester
func DefaultLevelFilter() LevelFilter {
	return LevelFilter{
		ProcessVariance:     0.01,
		ObservationVariance: 1,
		InitialMean:         0,
		InitialVariance:     1,
	}
}

// LevelState is the filtered (mean, variance) after an observation.
type LevelState struct {
	Mean     float64
	Variance float64
}

// Filter runs the filter over values and returns the filtered mean at every step.
// Each output depends only on the current and earlier inputs. Callers must strip
// NaN values first; a NaN poisons every later estimate.
func (f LevelFilter) Filter(values []float64) []float64 {
	means := make([]float64, len(values))

	state := LevelState{Mean: f.InitialMean, Variance: f.InitialVariance}
	for t, obs := range values {
		if t > 0 {
			state.Variance += f.ProcessVariance
		}
		state = f.update(state, obs)
		means[t] = state.Mean
	}

	return means
}

// update fuses one observation into the predicted state
func (f LevelFilter) update(predicted LevelState, obs float64) LevelState {
	innovationVariance := predicted.Variance + f.ObservationVariance
	if innovationVariance == 0 {
		return predicted
	}

	gain := predicted.Variance / innovationVariance
	return LevelState{
		Mean:     predicted.Mean + gain*(obs-predicted.Mean),
		Variance: (1 - gain) * predicted.Variance,
	}
}

// Validate reports whether the filter parameters describe a proper filter
func (f LevelFilter) Validate() error {
	if f.ProcessVariance < 0 || math.IsNaN(f.ProcessVariance) {
		return errInvalidParameter("level process variance", f.ProcessVariance)
	}
	if f.ObservationVariance <= 0 || math.IsNaN(f.ObservationVariance) {
		return errInvalidParameter("level observation variance", f.ObservationVariance)
	}
	if f.InitialVariance < 0 || math.IsNaN(f.InitialVariance) {
		return errInvalidParameter("level initial variance", f.InitialVariance)
	}
	return nil
}

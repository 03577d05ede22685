// Package signal turns a z-score stream into long/short spread positions.
package signal

import (
	"fmt"
	"math"
)

// Position is the spread position held after a step
type Position int

const (
	Flat Position = iota
	Long
	Short
)

func (p Position) String() string {
	switch p {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Thresholds are expressed in z-score units
type Thresholds struct {
	Entry float64 `yaml:"entry_z" json:"entry_z"`
	Exit  float64 `yaml:"exit_z" json:"exit_z"`
}

// DefaultThresholds enters at one deviation and exits at the mean
func DefaultThresholds() Thresholds {
	return Thresholds{Entry: 1.0, Exit: 0.0}
}

// Validate keeps long and short signals mutually exclusive for any single z-score
func (t Thresholds) Validate() error {
	if !(t.Entry > 0) || math.IsInf(t.Entry, 0) {
		return fmt.Errorf("signal: entry threshold must be positive, got %v", t.Entry)
	}
	if !(t.Exit >= 0) || t.Exit >= t.Entry {
		return fmt.Errorf("signal: exit threshold must be in [0, %v), got %v", t.Entry, t.Exit)
	}
	return nil
}

// PositionState is the per-leg unit count; NumUnits is their sum
type PositionState struct {
	Long  int `json:"num_units_long"`
	Short int `json:"num_units_short"`
}

// NumUnits is 1 for a long spread, -1 for a short spread and 0 when flat
func (s PositionState) NumUnits() int {
	return s.Long + s.Short
}

// Events are the threshold crossings detected on one step
type Events struct {
	LongEntry  bool `json:"long_entry"`
	LongExit   bool `json:"long_exit"`
	ShortEntry bool `json:"short_entry"`
	ShortExit  bool `json:"short_exit"`
}

// Any reports whether any crossing fired
func (e Events) Any() bool {
	return e.LongEntry || e.LongExit || e.ShortEntry || e.ShortExit
}

// Step is the outcome of feeding one z-score to the engine
type Step struct {
	ZScore   float64
	Events   Events
	Position Position
	State    PositionState
}

// Engine is the crossing state machine. Positions change only when a threshold
// is crossed between consecutive z-scores; otherwise the previous state carries.
type Engine struct {
	thresholds Thresholds
	position   Position
	prevZ      float64
	hasPrev    bool
}

// NewEngine returns a flat engine with no z-score history
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{thresholds: thresholds}
}

// Step consumes the next z-score. NaN z-scores never trigger a crossing, either
// as the current value or as the previous one.
func (e *Engine) Step(z float64) Step {
	var events Events
	if e.hasPrev {
		events = e.crossings(e.prevZ, z)
	}
	e.prevZ = z
	e.hasPrev = true

	switch e.position {
	case Long:
		// an upper entry lies above the exit level, so it implies the exit
		if events.LongExit || events.ShortEntry {
			e.position = Flat
		}
	case Short:
		if events.ShortExit || events.LongEntry {
			e.position = Flat
		}
	}

	if e.position == Flat {
		switch {
		case events.LongEntry:
			e.position = Long
		case events.ShortEntry:
			e.position = Short
		}
	}

	return Step{
		ZScore:   z,
		Events:   events,
		Position: e.position,
		State:    stateOf(e.position),
	}
}

func (e *Engine) crossings(prev, cur float64) Events {
	if math.IsNaN(prev) || math.IsNaN(cur) {
		return Events{}
	}

	entry, exit := e.thresholds.Entry, e.thresholds.Exit
	return Events{
		LongEntry:  prev >= -entry && cur < -entry,
		LongExit:   prev <= -exit && cur > -exit,
		ShortEntry: prev <= entry && cur > entry,
		ShortExit:  prev >= exit && cur < exit,
	}
}

func stateOf(p Position) PositionState {
	switch p {
	case Long:
		return PositionState{Long: 1}
	case Short:
		return PositionState{Short: -1}
	default:
		return PositionState{}
	}
}

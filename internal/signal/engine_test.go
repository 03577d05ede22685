package signal

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(e *Engine, zs ...float64) []Step {
	steps := make([]Step, len(zs))
	for i, z := range zs {
		steps[i] = e.Step(z)
	}
	return steps
}

func positions(steps []Step) []Position {
	out := make([]Position, len(steps))
	for i, s := range steps {
		out[i] = s.Position
	}
	return out
}

func TestEngine_LongRoundTrip(t *testing.T) {
	steps := run(NewEngine(DefaultThresholds()), -0.5, -1.2, -1.5, -0.3, 0.2, 0.4)

	assert.Equal(t, []Position{Flat, Long, Long, Long, Flat, Flat}, positions(steps))
	assert.True(t, steps[1].Events.LongEntry)
	assert.True(t, steps[4].Events.LongExit)
	assert.Equal(t, 1, steps[2].State.NumUnits())
	assert.Equal(t, 0, steps[5].State.NumUnits())
}

func TestEngine_ShortRoundTrip(t *testing.T) {
	steps := run(NewEngine(DefaultThresholds()), 0.5, 1.1, 0.8, -0.1, -0.6)

	assert.Equal(t, []Position{Flat, Short, Short, Flat, Flat}, positions(steps))
	assert.True(t, steps[1].Events.ShortEntry)
	assert.True(t, steps[3].Events.ShortExit)
	assert.Equal(t, PositionState{Short: -1}, steps[2].State)
}

func TestEngine_RequiresCrossingNotLevel(t *testing.T) {
	// starts beyond the entry level: no crossing, so no entry
	steps := run(NewEngine(DefaultThresholds()), -2, -2.5, -3)
	assert.Equal(t, []Position{Flat, Flat, Flat}, positions(steps))
}

func TestEngine_FirstStepNeverTrades(t *testing.T) {
	e := NewEngine(DefaultThresholds())
	step := e.Step(-5)
	assert.False(t, step.Events.Any())
	assert.Equal(t, Flat, step.Position)
}

func TestEngine_EntryBoundaryIsInclusiveOnPrevious(t *testing.T) {
	steps := run(NewEngine(DefaultThresholds()), -1, -1.01)
	assert.True(t, steps[1].Events.LongEntry)
	assert.Equal(t, Long, steps[1].Position)
}

func TestEngine_NaNNeverCrosses(t *testing.T) {
	nan := math.NaN()
	steps := run(NewEngine(DefaultThresholds()), 0, nan, -2, nan, 3)

	for _, s := range steps {
		assert.False(t, s.Events.Any())
		assert.Equal(t, Flat, s.Position)
	}
}

func TestEngine_HoldsThroughNaN(t *testing.T) {
	nan := math.NaN()
	steps := run(NewEngine(DefaultThresholds()), 0, -1.5, nan, 0.5, 2)

	// the exit crossing was masked by NaN, but the later short entry implies it
	assert.Equal(t, []Position{Flat, Long, Long, Long, Short}, positions(steps))
}

func TestEngine_FlipOnLargeJump(t *testing.T) {
	steps := run(NewEngine(DefaultThresholds()), 0, -1.5, 2)

	assert.True(t, steps[2].Events.LongExit)
	assert.True(t, steps[2].Events.ShortEntry)
	assert.Equal(t, Short, steps[2].Position)
	assert.Equal(t, PositionState{Short: -1}, steps[2].State)
}

func TestEngine_ZeroTouchDoesNotStrandLong(t *testing.T) {
	// touching the exit level exactly and then leaving it still exits
	steps := run(NewEngine(DefaultThresholds()), 0, -1.5, 0, 2)
	assert.Equal(t, []Position{Flat, Long, Long, Short}, positions(steps))
	assert.True(t, steps[3].Events.LongExit)
}

func TestEngine_ExitLevelInclusiveOnPrevious(t *testing.T) {
	long := run(NewEngine(DefaultThresholds()), 0, -1.5, 0, 0.3)
	assert.Equal(t, []Position{Flat, Long, Long, Flat}, positions(long))
	assert.False(t, long[2].Events.LongExit, "landing on the exit level is not a crossing")
	assert.True(t, long[3].Events.LongExit)

	short := run(NewEngine(DefaultThresholds()), 0, 1.5, 0, -0.3)
	assert.Equal(t, []Position{Flat, Short, Short, Flat}, positions(short))
	assert.True(t, short[3].Events.ShortExit)
}

func TestEngine_UnitsChangeOnlyOnEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	e := NewEngine(DefaultThresholds())

	prevUnits := 0
	for i := 0; i < 5000; i++ {
		z := rng.NormFloat64() * 1.5
		if i%97 == 0 {
			z = math.NaN()
		}
		step := e.Step(z)

		units := step.State.NumUnits()
		require.Contains(t, []int{-1, 0, 1}, units)
		require.False(t, step.State.Long == 1 && step.State.Short == -1, "both legs active at step %d", i)
		if units != prevUnits {
			require.True(t, step.Events.Any(), "units changed without an event at step %d", i)
		}
		prevUnits = units
	}
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Entry: 0, Exit: 0}.Validate())
	assert.Error(t, Thresholds{Entry: 1, Exit: 1}.Validate())
	assert.Error(t, Thresholds{Entry: 1, Exit: -0.5}.Validate())
	assert.Error(t, Thresholds{Entry: math.NaN(), Exit: 0}.Validate())
}

func TestPosition_String(t *testing.T) {
	assert.Equal(t, "flat", Flat.String())
	assert.Equal(t, "long", Long.String())
	assert.Equal(t, "short", Short.String())
}

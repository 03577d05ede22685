package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(t *testing.T, l *Ledger, inputs ...Input) []Record {
	t.Helper()
	records := make([]Record, len(inputs))
	for i, in := range inputs {
		rec, err := l.Step(in)
		require.NoError(t, err, "step %d", i)
		records[i] = rec
	}
	return records
}

func TestLedger_LongRoundTrip(t *testing.T) {
	l := New()
	recs := book(t, l,
		Input{X: 10, Y: 24, HedgeRatio: -2, Spread: 4, NumUnits: 0},
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: 1},
		Input{X: 11, Y: 26, HedgeRatio: -2.1, Spread: 2.9, NumUnits: 1},
		Input{X: 10, Y: 27, HedgeRatio: -2.0, Spread: 7, NumUnits: 0},
		Input{X: 10, Y: 27, HedgeRatio: -2.0, Spread: 7, NumUnits: 0},
	)

	assert.Equal(t, Record{Value: 1}, recs[0])

	// entry: capital for |hr| units of x plus one unit of y
	assert.InDelta(t, 45.0, recs[1].Investment, 1e-12)
	assert.InDelta(t, 5.0, recs[1].ActualSpread, 1e-12)
	assert.Equal(t, 0.0, recs[1].Return)

	// hold: spread is valued with yesterday's hedge, capital absorbs the rebalance
	assert.InDelta(t, 4.0, recs[2].ActualSpread, 1e-12)
	assert.InDelta(t, -1.0/45, recs[2].Return, 1e-12)
	assert.InDelta(t, 45+0.1*11, recs[2].Investment, 1e-12)

	// exit: last return still uses yesterday's hedge and investment
	assert.InDelta(t, 6.0, recs[3].ActualSpread, 1e-12)
	assert.InDelta(t, 2.0/46.1, recs[3].Return, 1e-12)
	assert.InDelta(t, 46.1, recs[3].Investment, 1e-12)

	assert.Equal(t, Record{Value: recs[3].Value}, recs[4])

	entries, exits := l.Trades()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, exits)
}

func TestLedger_ShortPositionInvertsReturn(t *testing.T) {
	l := New()
	recs := book(t, l,
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: 0},
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: -1},
		Input{X: 10, Y: 24, HedgeRatio: -2, Spread: 4, NumUnits: -1},
	)

	assert.InDelta(t, 1.0/45, recs[2].Return, 1e-12)
}

func TestLedger_FlipKeepsInvestment(t *testing.T) {
	l := New()
	recs := book(t, l,
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: 0},
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: 1},
		Input{X: 10, Y: 27, HedgeRatio: -2, Spread: 7, NumUnits: -1},
	)

	assert.InDelta(t, 2.0/45, recs[2].Return, 1e-12)
	assert.InDelta(t, 45.0, recs[2].Investment, 1e-12)
}

func TestLedger_ValueIsRunningProduct(t *testing.T) {
	l := New()
	recs := book(t, l,
		Input{X: 10, Y: 25, HedgeRatio: -2, NumUnits: 0},
		Input{X: 10, Y: 25, HedgeRatio: -2, Spread: 5, NumUnits: 1},
		Input{X: 10, Y: 26, HedgeRatio: -2, NumUnits: 1},
		Input{X: 10, Y: 24, HedgeRatio: -2, NumUnits: 1},
		Input{X: 10, Y: 25, HedgeRatio: -2, NumUnits: 0},
	)

	product := 1.0
	for i, rec := range recs {
		product *= 1 + rec.Return
		assert.InDelta(t, product, rec.Value, 1e-12)
		if i > 0 {
			assert.InDelta(t, rec.Return, rec.Value/recs[i-1].Value-1, 1e-12)
		}
		assert.GreaterOrEqual(t, rec.Value, 0.0)
	}
	assert.InDelta(t, product, l.Value(), 1e-12)
}

func TestLedger_ZeroInvestmentIsFatal(t *testing.T) {
	l := New()
	_, err := l.Step(Input{X: 0, Y: 0, HedgeRatio: -1, NumUnits: 1})
	require.NoError(t, err)

	_, err = l.Step(Input{X: 1, Y: 1, HedgeRatio: -1, NumUnits: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrZeroInvestment)
}

func TestLedger_FirstStepCanEnter(t *testing.T) {
	l := New()
	rec, err := l.Step(Input{X: 4, Y: 6, HedgeRatio: 0.5, Spread: 8, NumUnits: -1})
	require.NoError(t, err)

	assert.InDelta(t, 8.0, rec.Investment, 1e-12)
	assert.InDelta(t, 8.0, rec.ActualSpread, 1e-12)
}

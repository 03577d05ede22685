// Package ledger accounts for the capital tied up in a hedged spread position
// while the hedge ratio drifts underneath it.
package ledger

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroInvestment means a return was requested against no invested capital.
// It can only happen if the open-position invariant was broken upstream.
var ErrZeroInvestment = errors.New("ledger: zero investment while position open")

// Input is everything the ledger needs to know about one step
type Input struct {
	X          float64
	Y          float64
	HedgeRatio float64
	Spread     float64
	NumUnits   int
}

// Record is the ledger line written for one step
type Record struct {
	Investment   float64 `json:"investment"`
	ActualSpread float64 `json:"actual_spread"`
	Return       float64 `json:"actual_port_ret"`
	Value        float64 `json:"cumulative_value"`
}

// Ledger keeps the previous step so that returns are measured against the hedge
// that was actually held overnight. Investment is set on entry and afterwards
// only adjusted by the cost of rebalancing the x leg.
type Ledger struct {
	prev    Input
	prevRec Record
	started bool
	value   float64
	entries int
	exits   int
}

// New returns an empty ledger with a cumulative value of 1
func New() *Ledger {
	return &Ledger{value: 1}
}

// Step books one step and returns its record
func (l *Ledger) Step(in Input) (Record, error) {
	prevUnits := 0
	if l.started {
		prevUnits = l.prev.NumUnits
	}

	var rec Record
	switch {
	case in.NumUnits != 0 && prevUnits == 0:
		rec.Investment = math.Abs(in.HedgeRatio)*in.X + in.Y
		rec.ActualSpread = in.Spread
		l.entries++

	case prevUnits != 0:
		rec.ActualSpread = l.prev.HedgeRatio*in.X + in.Y
		ret, err := l.periodReturn(prevUnits, rec.ActualSpread)
		if err != nil {
			return Record{}, err
		}
		rec.Return = ret

		rec.Investment = l.prevRec.Investment
		if in.NumUnits != 0 {
			rec.Investment += (math.Abs(in.HedgeRatio) - math.Abs(l.prev.HedgeRatio)) * in.X
		} else {
			l.exits++
		}
	}

	l.value *= 1 + rec.Return
	rec.Value = l.value

	l.prev = in
	l.prevRec = rec
	l.started = true

	return rec, nil
}

func (l *Ledger) periodReturn(prevUnits int, actualSpread float64) (float64, error) {
	invested := l.prevRec.Investment
	if invested == 0 || math.IsNaN(invested) || math.IsInf(invested, 0) {
		return 0, fmt.Errorf("%w: investment=%v", ErrZeroInvestment, invested)
	}
	return float64(prevUnits) * (actualSpread - l.prevRec.ActualSpread) / invested, nil
}

// Value is the compounded value of one unit of capital so far
func (l *Ledger) Value() float64 {
	return l.value
}

// Trades returns the number of entries and exits booked so far
func (l *Ledger) Trades() (entries, exits int) {
	return l.entries, l.exits
}

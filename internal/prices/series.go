// Package prices loads daily closing prices for tickers and puts them on a
// shared calendar for the backtester.
package prices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrSymbolNotFound is returned by feeds that have no history for a ticker
var ErrSymbolNotFound = errors.New("prices: symbol not found")

// Feed supplies the full closing-price history of a ticker
type Feed interface {
	Load(ctx context.Context, symbol string) (Series, error)
}

// Series is one ticker's closing prices, oldest first. Close is NaN where the
// ticker had no price, typically for a leading run before it was listed. Dates
// may be nil for positional data.
type Series struct {
	Symbol string
	Dates  []time.Time
	Close  []float64
}

// Len is the number of observations
func (s Series) Len() int {
	return len(s.Close)
}

// Validate checks that dates, when present, match the prices and increase
func (s Series) Validate() error {
	if s.Dates == nil {
		return nil
	}
	if len(s.Dates) != len(s.Close) {
		return fmt.Errorf("%s: %d dates for %d prices", s.Symbol, len(s.Dates), len(s.Close))
	}
	for i := 1; i < len(s.Dates); i++ {
		if !s.Dates[i].After(s.Dates[i-1]) {
			return fmt.Errorf("%s: dates not strictly increasing at %s", s.Symbol, s.Dates[i].Format("2006-01-02"))
		}
	}
	return nil
}

// FirstValidIndex returns the index of the first present price
func FirstValidIndex(values []float64) (int, bool) {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i, true
		}
	}
	return 0, false
}

// Calendar is the sorted union of the dates of every series. It returns nil
// when any series is positional, in which case all series must share a length.
func Calendar(series ...Series) ([]time.Time, error) {
	if len(series) == 0 {
		return nil, nil
	}

	positional := false
	for _, s := range series {
		if s.Dates == nil {
			positional = true
		}
	}

	if positional {
		for _, s := range series[1:] {
			if s.Len() != series[0].Len() {
				return nil, fmt.Errorf("positional series %s and %s differ in length (%d vs %d)",
					series[0].Symbol, s.Symbol, series[0].Len(), s.Len())
			}
		}
		return nil, nil
	}

	seen := make(map[int64]time.Time)
	for _, s := range series {
		for _, d := range s.Dates {
			seen[d.Unix()] = d
		}
	}

	calendar := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		calendar = append(calendar, d)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })

	return calendar, nil
}

// Reindex places the prices on calendar, NaN where the series has no date. A nil
// calendar returns the prices unchanged.
func (s Series) Reindex(calendar []time.Time) []float64 {
	if calendar == nil || s.Dates == nil {
		return append([]float64(nil), s.Close...)
	}

	byDate := make(map[int64]float64, len(s.Dates))
	for i, d := range s.Dates {
		byDate[d.Unix()] = s.Close[i]
	}

	out := make([]float64, len(calendar))
	for i, d := range calendar {
		if v, ok := byDate[d.Unix()]; ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

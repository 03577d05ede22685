package pairtrade

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/sawpanic/pairsrun/internal/persistence"
)

// Records converts a run into the rows stored by the runs repository. Failed
// pairs are kept with their error so a stored run accounts for every pair.
func Records(result *RunResult) (persistence.RunRecord, []persistence.PairRecord, error) {
	config, err := json.Marshal(result.Config)
	if err != nil {
		return persistence.RunRecord{}, nil, fmt.Errorf("failed to marshal run config: %w", err)
	}

	run := persistence.RunRecord{
		ID:          result.RunID,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		PairsTotal:  result.PairsTotal,
		PairsTraded: result.PairsTraded,
		PairsFailed: len(result.Failures),
		Config:      config,
	}
	if result.Portfolio != nil {
		run.TotalReturn = finiteOrZero(result.Portfolio.TotalReturn)
		run.Volatility = finiteOrZero(result.Portfolio.Volatility)
		run.Sharpe = finiteOrZero(result.Portfolio.Sharpe)
	}

	records := make([]persistence.PairRecord, 0, len(result.Pairs)+len(result.Failures))
	for _, p := range result.Pairs {
		records = append(records, persistence.PairRecord{
			RunID:       result.RunID,
			PairID:      p.Pair.ID,
			TickerX:     p.Pair.X,
			TickerY:     p.Pair.Y,
			Segments:    len(p.Segments),
			Trades:      p.Trades,
			TotalReturn: finiteOrZero(p.TotalReturn),
			Sharpe:      finiteOrZero(p.Sharpe),
		})
	}
	for _, f := range result.Failures {
		reason := f.Error
		records = append(records, persistence.PairRecord{
			RunID:   result.RunID,
			PairID:  f.Pair.ID,
			TickerX: f.Pair.X,
			TickerY: f.Pair.Y,
			Error:   &reason,
		})
	}

	return run, records, nil
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

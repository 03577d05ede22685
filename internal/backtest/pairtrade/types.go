package pairtrade

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sawpanic/pairsrun/internal/ledger"
	"github.com/sawpanic/pairsrun/internal/pairs"
	"github.com/sawpanic/pairsrun/internal/portfolio"
	"github.com/sawpanic/pairsrun/internal/signal"
)

// Row is the ledger line for one trading day of a pair
type Row struct {
	Index      int                  `json:"index"`
	Date       time.Time            `json:"date"`
	X          float64              `json:"x"`
	Y          float64              `json:"y"`
	Spread     float64              `json:"spread"`
	HedgeRatio float64              `json:"hr"`
	HalfLife   int                  `json:"half_life"`
	ZScore     float64              `json:"z_score"`
	Events     signal.Events        `json:"events"`
	State      signal.PositionState `json:"state"`
	NumUnits   int                  `json:"num_units"`
	Ledger     ledger.Record        `json:"ledger"`
}

// MarshalJSON writes an undefined z-score as null
func (r Row) MarshalJSON() ([]byte, error) {
	type plain Row
	return json.Marshal(struct {
		plain
		ZScore *float64 `json:"z_score"`
	}{
		plain:  plain(r),
		ZScore: finiteOrNil(r.ZScore),
	})
}

// SegmentResult summarises one trading year of a pair
type SegmentResult struct {
	Start       int       `json:"start"`
	End         int       `json:"end"`
	StartDate   time.Time `json:"start_date"`
	TotalReturn float64   `json:"total_return"`
	Sharpe      float64   `json:"sharpe"`
	Entries     int       `json:"entries"`
	Exits       int       `json:"exits"`
}

// PairResult is the full backtest of one pair
type PairResult struct {
	Pair        pairs.Pair      `json:"pair"`
	Start       int             `json:"start"` // Index on the pair's own calendar
	Rows        []Row           `json:"-"`
	Segments    []SegmentResult `json:"segments"`
	Returns     []float64       `json:"-"`
	Values      []float64       `json:"-"` // Run calendar in a run; NaN where not trading
	TotalReturn float64         `json:"total_return"`
	Sharpe      float64         `json:"sharpe"`
	Trades      int             `json:"trades"`
	Duration    time.Duration   `json:"duration_ns"`
}

// Traded reports whether the pair had at least one segment
func (p *PairResult) Traded() bool {
	return len(p.Segments) > 0
}

// PairFailure records why a pair was left out of the portfolio
type PairFailure struct {
	Pair  pairs.Pair `json:"pair"`
	Kind  string     `json:"kind"`
	Error string     `json:"error"`
}

// RunResult is the outcome of backtesting a list of pairs
type RunResult struct {
	RunID       string            `json:"run_id"`
	Config      Config            `json:"config"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Calendar    []time.Time       `json:"-"`
	Pairs       []*PairResult     `json:"pairs"`
	Failures    []PairFailure     `json:"failures"`
	Portfolio   *portfolio.Result `json:"portfolio"`
	Metrics     *MetricsSummary   `json:"metrics"`
	OutputDir   string            `json:"output_dir,omitempty"`
	PairsTotal  int               `json:"pairs_total"`
	PairsTraded int               `json:"pairs_traded"`
}

// Date returns the calendar date of day i, or the zero time for positional data
func (r *RunResult) Date(i int) time.Time {
	if i < 0 || i >= len(r.Calendar) {
		return time.Time{}
	}
	return r.Calendar[i]
}

// MetricsSummary is the run-level statistics snapshot
type MetricsSummary struct {
	PairsCompleted int            `json:"pairs_completed"`
	PairsFailed    int            `json:"pairs_failed"`
	PairsIdle      int            `json:"pairs_idle"`
	Segments       int            `json:"segments"`
	Entries        int            `json:"entries"`
	Exits          int            `json:"exits"`
	BestPair       string         `json:"best_pair,omitempty"`
	BestReturn     float64        `json:"best_return"`
	WorstPair      string         `json:"worst_pair,omitempty"`
	WorstReturn    float64        `json:"worst_return"`
	AvgDuration    time.Duration  `json:"avg_duration_ns"`
	ErrorCount     int            `json:"error_count"`
	ErrorKinds     map[string]int `json:"error_kinds"`
	Errors         []string       `json:"errors"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

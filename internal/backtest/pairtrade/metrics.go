package pairtrade

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/pairsrun/internal/ledger"
	"github.com/sawpanic/pairsrun/internal/prices"
)

// Metrics collects run statistics while pairs complete concurrently
type Metrics struct {
	mu sync.RWMutex

	completed int
	failed    int
	idle      int
	segments  int
	entries   int
	exits     int

	bestPair    string
	bestReturn  float64
	worstPair   string
	worstReturn float64

	durations  []time.Duration
	errors     []string
	errorKinds map[string]int
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		errors:     make([]string, 0),
		errorKinds: make(map[string]int),
	}
}

// RecordPair records a finished pair backtest
func (m *Metrics) RecordPair(result *PairResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = append(m.durations, result.Duration)

	if !result.Traded() {
		m.idle++
		return
	}

	m.completed++
	m.segments += len(result.Segments)
	for _, segment := range result.Segments {
		m.entries += segment.Entries
		m.exits += segment.Exits
	}

	if m.bestPair == "" || result.TotalReturn > m.bestReturn {
		m.bestPair = result.Pair.ID
		m.bestReturn = result.TotalReturn
	}
	if m.worstPair == "" || result.TotalReturn < m.worstReturn {
		m.worstPair = result.Pair.ID
		m.worstReturn = result.TotalReturn
	}
}

// RecordError records a pair that could not be backtested
func (m *Metrics) RecordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed++
	m.errors = append(m.errors, err.Error())
	m.errorKinds[ErrorKind(err)]++
}

// GetSummary returns a snapshot of the collected statistics
func (m *Metrics) GetSummary() *MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avg time.Duration
	if len(m.durations) > 0 {
		var total time.Duration
		for _, d := range m.durations {
			total += d
		}
		avg = total / time.Duration(len(m.durations))
	}

	kinds := make(map[string]int, len(m.errorKinds))
	for k, v := range m.errorKinds {
		kinds[k] = v
	}

	return &MetricsSummary{
		PairsCompleted: m.completed,
		PairsFailed:    m.failed,
		PairsIdle:      m.idle,
		Segments:       m.segments,
		Entries:        m.entries,
		Exits:          m.exits,
		BestPair:       m.bestPair,
		BestReturn:     m.bestReturn,
		WorstPair:      m.worstPair,
		WorstReturn:    m.worstReturn,
		AvgDuration:    avg,
		ErrorCount:     len(m.errors),
		ErrorKinds:     kinds,
		Errors:         m.getTopErrors(10),
	}
}

// getTopErrors returns the most frequent error messages
func (m *Metrics) getTopErrors(limit int) []string {
	counts := make(map[string]int)
	for _, e := range m.errors {
		counts[e]++
	}

	unique := make([]string, 0, len(counts))
	for e := range counts {
		unique = append(unique, e)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return unique[i] < unique[j]
	})

	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// ErrorKind classifies a pair failure for metrics labels
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ledger.ErrZeroInvestment):
		return "ledger_invariant"
	case errors.Is(err, ErrMissingPrice):
		return "missing_price"
	case errors.Is(err, ErrLengthMismatch):
		return "length_mismatch"
	case errors.Is(err, prices.ErrSymbolNotFound):
		return "symbol_not_found"
	default:
		return "other"
	}
}

package pairtrade

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/pairs"
	"github.com/sawpanic/pairsrun/internal/prices"
)

type mapFeed struct {
	mu     sync.Mutex
	series map[string]prices.Series
	loads  map[string]int
}

func newMapFeed() *mapFeed {
	return &mapFeed{series: make(map[string]prices.Series), loads: make(map[string]int)}
}

func (f *mapFeed) add(symbol string, start time.Time, close []float64) {
	dates := make([]time.Time, len(close))
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	f.series[symbol] = prices.Series{Symbol: symbol, Dates: dates, Close: close}
}

func (f *mapFeed) addDates(symbol string, dates []time.Time, close []float64) {
	f.series[symbol] = prices.Series{Symbol: symbol, Dates: dates, Close: close}
}

func (f *mapFeed) Load(ctx context.Context, symbol string) (prices.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads[symbol]++

	s, ok := f.series[symbol]
	if !ok {
		return prices.Series{}, fmt.Errorf("%w: %s", prices.ErrSymbolNotFound, symbol)
	}
	return s, nil
}

type recordingObserver struct {
	mu        sync.Mutex
	statuses  map[string]int
	portfolio int
}

func (o *recordingObserver) ObservePair(status string, duration time.Duration, trades int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[status]++
}

func (o *recordingObserver) ObservePortfolio(totalReturn, volatility, sharpe float64, pairs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.portfolio = pairs
}

// MockClock for deterministic testing
type MockClock struct {
	fixedTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.fixedTime
}

var day0 = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

func testFeed() *mapFeed {
	feed := newMapFeed()

	x, y := cointegrated(600)
	feed.add("AAA", day0, x)
	feed.add("BBB", day0, y)

	// listed 100 days later, so it only joins the book after its own warm-up
	x2, y2 := cointegrated(500)
	feed.add("CCC", day0.AddDate(0, 0, 100), x2)
	feed.add("DDD", day0.AddDate(0, 0, 100), y2)

	feed.add("FLAT1", day0, constantSeries(600, 10))
	feed.add("FLAT2", day0, constantSeries(600, 20))
	return feed
}

func testPairs() []pairs.Pair {
	return []pairs.Pair{
		{ID: "Pair 0", X: "AAA", Y: "BBB"},
		{ID: "Pair 1", X: "CCC", Y: "DDD"},
		{ID: "Pair 2", X: "FLAT1", Y: "FLAT2"},
		{ID: "Pair 3", X: "AAA", Y: "MISSING"},
	}
}

func TestDefaultRunnerConfig(t *testing.T) {
	config := DefaultRunnerConfig()

	assert.Equal(t, 240, config.Engine.TradingYear)
	assert.Equal(t, 240, config.Engine.Lookback)
	assert.Equal(t, 252.0, config.Engine.PeriodsPerYear)
	assert.Positive(t, config.Workers)
	assert.NotEmpty(t, config.OutputDir)
}

func TestRunner_Run(t *testing.T) {
	outputDir := t.TempDir()
	feed := testFeed()
	observer := &recordingObserver{statuses: make(map[string]int)}

	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig(), Workers: 2, OutputDir: outputDir}, feed)
	mockTime := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	runner.SetClock(&MockClock{fixedTime: mockTime})
	runner.SetObserver(observer)

	result, err := runner.Run(context.Background(), testPairs())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, mockTime, result.StartedAt)
	assert.Equal(t, 4, result.PairsTotal)
	require.Len(t, result.Pairs, 3)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "Pair 3", result.Failures[0].Pair.ID)
	assert.Equal(t, "symbol_not_found", result.Failures[0].Kind)
	assert.Equal(t, 3, result.PairsTraded)

	// union calendar: AAA starts on day 0, CCC ends on day 599
	require.Len(t, result.Calendar, 600)
	assert.True(t, result.Calendar[0].Equal(day0))

	// each symbol is loaded once even when shared by pairs
	assert.Equal(t, 1, feed.loads["AAA"])

	// CCC and DDD trade on their own calendar, which begins at their listing
	p1 := result.Pairs[1]
	assert.Equal(t, 240, p1.Start)
	require.Len(t, p1.Values, 600)
	assert.True(t, math.IsNaN(p1.Values[339]))
	assert.False(t, math.IsNaN(p1.Values[340]))
	assert.True(t, p1.Rows[0].Date.Equal(day0.AddDate(0, 0, 340)))
	assert.True(t, p1.Segments[0].StartDate.Equal(day0.AddDate(0, 0, 340)))

	book := result.Portfolio
	require.NotNil(t, book)
	assert.True(t, math.IsNaN(book.Values[239]))
	assert.Equal(t, 2, book.Active[240])
	assert.Equal(t, 3, book.Active[340])

	assert.Equal(t, 1, result.Metrics.PairsFailed)
	assert.Equal(t, 1, result.Metrics.ErrorKinds["symbol_not_found"])
	assert.Equal(t, 3, observer.statuses["traded"])
	assert.Equal(t, 1, observer.statuses["failed"])
	assert.Equal(t, 3, observer.portfolio)

	paths := runner.Writer().GetArtifactPaths(result.RunID)
	for _, path := range []string{paths.ResultsJSONL, paths.ReportMD, paths.SummaryJSON, paths.PortfolioCSV} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
	_, err = os.Stat(filepath.Join(paths.LedgerDir, LedgerFileName(result.Pairs[0])))
	assert.NoError(t, err)

	summary, err := runner.Writer().ReadSummary(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, summary.RunID)
	assert.Len(t, summary.PerPair, 3)
	assert.Equal(t, 1, summary.Failed)

	latest, err := runner.Writer().ReadSummary(LatestRun)
	require.NoError(t, err)
	assert.Equal(t, result.RunID, latest.RunID)
}

func TestRunner_AllPairsFail(t *testing.T) {
	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig(), Workers: 1}, newMapFeed())

	_, err := runner.Run(context.Background(), []pairs.Pair{{ID: "Pair 0", X: "A", Y: "B"}})
	assert.ErrorIs(t, err, ErrAllPairsFailed)
}

func TestRunner_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds.Entry = 0
	runner := NewRunner(&RunnerConfig{Engine: cfg}, testFeed())

	_, err := runner.Run(context.Background(), testPairs())
	assert.Error(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig(), Workers: 1}, testFeed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, testPairs())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_RunPair(t *testing.T) {
	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig()}, testFeed())

	res, calendar, err := runner.RunPair(context.Background(), pairs.Pair{ID: "Pair 0", X: "AAA", Y: "BBB"})
	require.NoError(t, err)
	assert.Len(t, calendar, 600)
	assert.True(t, res.Traded())

	_, _, err = runner.RunPair(context.Background(), pairs.Pair{ID: "Pair 9", X: "AAA", Y: "NOPE"})
	assert.ErrorIs(t, err, prices.ErrSymbolNotFound)
}

func TestRunner_PairsOnDifferentCalendars(t *testing.T) {
	feed := newMapFeed()
	x, y := cointegrated(600)
	feed.add("AAA", day0, x)
	feed.add("BBB", day0, y)

	var weekdays []time.Time
	for d := day0; len(weekdays) < 500; d = d.AddDate(0, 0, 1) {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			weekdays = append(weekdays, d)
		}
	}
	x2, y2 := cointegrated(500)
	feed.addDates("CCC", weekdays, x2)
	feed.addDates("DDD", weekdays, y2)

	// one stray date on an unrelated ticker
	extra := day0.AddDate(0, 0, 300).Add(12 * time.Hour)
	feed.addDates("EEE", []time.Time{day0, extra}, []float64{1, 2})
	feed.addDates("FFF", []time.Time{day0, extra}, []float64{2, 4})

	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig(), Workers: 2}, feed)
	result, err := runner.Run(context.Background(), []pairs.Pair{
		{ID: "Pair 0", X: "AAA", Y: "BBB"},
		{ID: "Pair 1", X: "CCC", Y: "DDD"},
		{ID: "Pair 2", X: "EEE", Y: "FFF"},
	})
	require.NoError(t, err)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Pairs, 3)
	assert.True(t, result.Pairs[0].Traded())
	assert.True(t, result.Pairs[1].Traded())
	assert.False(t, result.Pairs[2].Traded())

	require.NotNil(t, result.Portfolio)
	for _, pair := range result.Pairs {
		assert.Len(t, pair.Values, len(result.Calendar), pair.Pair.ID)
	}
	assert.Len(t, result.Portfolio.Values, len(result.Calendar))

	weekdayPair := result.Pairs[1]
	for i, v := range weekdayPair.Values {
		if math.IsNaN(v) {
			continue
		}
		wd := result.Calendar[i].Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}

	last := weekdayPair.Rows[len(weekdayPair.Rows)-1]
	for i, d := range result.Calendar {
		if d.Equal(last.Date) {
			assert.InDelta(t, 1+weekdayPair.TotalReturn, weekdayPair.Values[i], 1e-12)
		}
	}
}

func TestRunner_LegStopsTradingEarly(t *testing.T) {
	feed := newMapFeed()
	x, y := cointegrated(600)
	feed.add("AAA", day0, x)
	feed.add("BBB", day0, y[:550])

	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig()}, feed)
	res, calendar, err := runner.RunPair(context.Background(), pairs.Pair{ID: "Pair 0", X: "AAA", Y: "BBB"})
	require.NoError(t, err)

	assert.Len(t, calendar, 600)
	assert.Len(t, res.Rows, 550-240)
	require.Len(t, res.Values, 600)
	assert.False(t, math.IsNaN(res.Values[549]))
	for _, v := range res.Values[550:] {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRunner_MisalignedLegsFailOnlyThatPair(t *testing.T) {
	feed := testFeed()
	x, y := cointegrated(600)
	gapped := prices.Series{Symbol: "GAP"}
	for i := range y {
		if i == 450 {
			continue
		}
		gapped.Dates = append(gapped.Dates, day0.AddDate(0, 0, i))
		gapped.Close = append(gapped.Close, y[i])
	}
	feed.series["GAP"] = gapped
	feed.add("XAA", day0, x)

	runner := NewRunner(&RunnerConfig{Engine: DefaultConfig(), Workers: 2}, feed)
	result, err := runner.Run(context.Background(), []pairs.Pair{
		{ID: "Pair 0", X: "AAA", Y: "BBB"},
		{ID: "Pair 1", X: "XAA", Y: "GAP"},
	})
	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, "Pair 0", result.Pairs[0].Pair.ID)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "missing_price", result.Failures[0].Kind)
}

func TestWriteLedger(t *testing.T) {
	x, y := cointegrated(300)
	res, err := NewBacktester(DefaultConfig()).Run(context.Background(), testPair, x, y)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ledger.csv")
	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteLedger(file, res.Rows))
	require.NoError(t, file.Close())

	file, err = os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(res.Rows)+1)
	assert.Equal(t, ledgerHeader, records[0])
	assert.Equal(t, "240", records[1][0])
}

func TestWriter_ReadSummaryRejectsPaths(t *testing.T) {
	writer := NewWriter(t.TempDir())

	for _, id := range []string{"", "../etc", "a/b", "missing"} {
		_, err := writer.ReadSummary(id)
		assert.ErrorIs(t, err, ErrRunNotFound, id)
	}
}

func TestRow_MarshalJSONHandlesUndefinedZScore(t *testing.T) {
	data, err := Row{Index: 3, ZScore: math.NaN()}.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"z_score":null`)

	data, err = Row{Index: 3, ZScore: 1.5}.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"z_score":1.5`)
}

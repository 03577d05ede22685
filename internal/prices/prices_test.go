package prices

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/jmoiron/sqlx"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func TestFirstValidIndex(t *testing.T) {
	nan := math.NaN()

	idx, ok := FirstValidIndex([]float64{nan, nan, 3, nan, 4})
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok = FirstValidIndex([]float64{1})
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = FirstValidIndex([]float64{nan, nan})
	assert.False(t, ok)

	_, ok = FirstValidIndex(nil)
	assert.False(t, ok)
}

func TestCalendarAndReindex(t *testing.T) {
	a := Series{Symbol: "A", Dates: []time.Time{day(0), day(1), day(3)}, Close: []float64{1, 2, 4}}
	b := Series{Symbol: "B", Dates: []time.Time{day(2), day(3)}, Close: []float64{30, 40}}

	calendar, err := Calendar(a, b)
	require.NoError(t, err)
	require.Len(t, calendar, 4)
	assert.True(t, calendar[0].Equal(day(0)))
	assert.True(t, calendar[3].Equal(day(3)))

	ra := a.Reindex(calendar)
	assert.Equal(t, 1.0, ra[0])
	assert.Equal(t, 2.0, ra[1])
	assert.True(t, math.IsNaN(ra[2]))
	assert.Equal(t, 4.0, ra[3])

	rb := b.Reindex(calendar)
	assert.True(t, math.IsNaN(rb[0]))
	assert.True(t, math.IsNaN(rb[1]))
	assert.Equal(t, []float64{30, 40}, rb[2:])
}

func TestCalendar_Positional(t *testing.T) {
	a := Series{Symbol: "A", Close: []float64{1, 2}}
	b := Series{Symbol: "B", Close: []float64{3, 4}}

	calendar, err := Calendar(a, b)
	require.NoError(t, err)
	assert.Nil(t, calendar)
	assert.Equal(t, []float64{1, 2}, a.Reindex(calendar))

	_, err = Calendar(a, Series{Symbol: "C", Close: []float64{1}})
	assert.Error(t, err)
}

func TestSeries_Validate(t *testing.T) {
	assert.NoError(t, Series{Close: []float64{1}}.Validate())
	assert.Error(t, Series{Dates: []time.Time{day(0)}, Close: []float64{1, 2}}.Validate())
	assert.Error(t, Series{Dates: []time.Time{day(1), day(0)}, Close: []float64{1, 2}}.Validate())
}

func TestCSVFeed_Load(t *testing.T) {
	dir := t.TempDir()
	content := "Date,Open,Close\n" +
		"2020-01-01,,\n" +
		"2020-01-02,1,\n" +
		"not-a-date,1,1\n" +
		"2020-01-03,1,10.5\n" +
		"2020-01-06,1,11\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "KO.csv"), []byte(content), 0644))

	feed := NewCSVFeed(dir)
	series, err := feed.Load(context.Background(), "KO")
	require.NoError(t, err)

	assert.Equal(t, "KO", series.Symbol)
	require.Equal(t, 4, series.Len())
	require.Len(t, series.Dates, 4)
	assert.True(t, math.IsNaN(series.Close[0]))
	assert.True(t, math.IsNaN(series.Close[1]))
	assert.Equal(t, []float64{10.5, 11}, series.Close[2:])
	assert.True(t, series.Dates[3].Equal(time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC)))

	idx, ok := FirstValidIndex(series.Close)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestCSVFeed_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD.csv"), []byte("date,open\n2020-01-01,1\n"), 0644))

	feed := NewCSVFeed(dir)

	_, err := feed.Load(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = feed.Load(context.Background(), "BAD")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = feed.Load(ctx, "BAD")
	assert.ErrorIs(t, err, context.Canceled)
}

func newMockFeed(t *testing.T, config PostgresConfig) (*PostgresFeed, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewPostgresFeed(sqlx.NewDb(mockDB, "postgres"), config), mock
}

func TestPostgresFeed_Load(t *testing.T) {
	feed, mock := newMockFeed(t, PostgresConfig{RequestsPerSec: 1000})

	rows := sqlmock.NewRows([]string{"ts", "close"}).
		AddRow(day(0), nil).
		AddRow(day(1), 41.5).
		AddRow(day(2), 42.0)
	mock.ExpectQuery(`SELECT ts, close\s+FROM daily_prices\s+WHERE symbol = \$1`).
		WithArgs("KO").
		WillReturnRows(rows)

	series, err := feed.Load(context.Background(), "KO")
	require.NoError(t, err)

	require.Equal(t, 3, series.Len())
	assert.True(t, math.IsNaN(series.Close[0]))
	assert.Equal(t, []float64{41.5, 42.0}, series.Close[1:])
	assert.True(t, series.Dates[2].Equal(day(2)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeed_UnknownSymbol(t *testing.T) {
	feed, mock := newMockFeed(t, PostgresConfig{RequestsPerSec: 1000})

	mock.ExpectQuery(`SELECT ts, close`).
		WithArgs("NOPE").
		WillReturnRows(sqlmock.NewRows([]string{"ts", "close"}))

	_, err := feed.Load(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeed_BreakerOpensAfterFailures(t *testing.T) {
	feed, mock := newMockFeed(t, PostgresConfig{
		RequestsPerSec:   1000,
		BreakerFailures:  2,
		BreakerOpenDelay: time.Minute,
	})

	dbErr := errors.New("connection reset")
	mock.ExpectQuery(`SELECT ts, close`).WithArgs("KO").WillReturnError(dbErr)
	mock.ExpectQuery(`SELECT ts, close`).WithArgs("KO").WillReturnError(dbErr)

	for i := 0; i < 2; i++ {
		_, err := feed.Load(context.Background(), "KO")
		require.Error(t, err)
	}
	assert.Equal(t, "open", feed.BreakerState())

	_, err := feed.Load(context.Background(), "KO")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubFeed struct {
	series Series
	err    error
	calls  int
}

func (s *stubFeed) Load(ctx context.Context, symbol string) (Series, error) {
	s.calls++
	return s.series, s.err
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) RecordCacheHit(string)  { o.hits++ }
func (o *countingObserver) RecordCacheMiss(string) { o.misses++ }

func TestRedisCache_MissLoadsAndStores(t *testing.T) {
	client, mock := redismock.NewClientMock()
	series := Series{Symbol: "KO", Dates: []time.Time{day(0), day(1)}, Close: []float64{math.NaN(), 42}}
	next := &stubFeed{series: series}
	observer := &countingObserver{}
	cache := NewRedisCache(client, next, time.Hour).WithObserver(observer)

	payload, err := encodeSeries(series)
	require.NoError(t, err)

	mock.ExpectGet(cache.Key("KO")).RedisNil()
	mock.ExpectSet(cache.Key("KO"), payload, time.Hour).SetVal("OK")

	got, err := cache.Load(context.Background(), "KO")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, observer.misses)
	assert.True(t, math.IsNaN(got.Close[0]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_HitSkipsFeed(t *testing.T) {
	client, mock := redismock.NewClientMock()
	series := Series{Symbol: "PEP", Dates: []time.Time{day(0), day(1)}, Close: []float64{math.NaN(), 99.5}}
	payload, err := encodeSeries(series)
	require.NoError(t, err)

	next := &stubFeed{}
	observer := &countingObserver{}
	cache := NewRedisCache(client, next, time.Hour).WithObserver(observer)

	mock.ExpectGet(cache.Key("PEP")).SetVal(string(payload))

	got, err := cache.Load(context.Background(), "PEP")
	require.NoError(t, err)

	assert.Equal(t, 0, next.calls)
	assert.Equal(t, 1, observer.hits)
	assert.Equal(t, "PEP", got.Symbol)
	assert.True(t, math.IsNaN(got.Close[0]))
	assert.Equal(t, 99.5, got.Close[1])
	assert.True(t, got.Dates[1].Equal(day(1)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_ReadFailureFallsBack(t *testing.T) {
	client, mock := redismock.NewClientMock()
	series := Series{Symbol: "KO", Close: []float64{1, 2}}
	next := &stubFeed{series: series}
	cache := NewRedisCache(client, next, time.Minute)

	payload, err := encodeSeries(series)
	require.NoError(t, err)

	mock.ExpectGet(cache.Key("KO")).SetErr(errors.New("redis down"))
	mock.ExpectSet(cache.Key("KO"), payload, time.Minute).SetErr(errors.New("redis down"))

	got, err := cache.Load(context.Background(), "KO")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got.Close)
	assert.Equal(t, 1, next.calls)
}

func TestRedisCache_FeedErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	next := &stubFeed{err: ErrSymbolNotFound}
	cache := NewRedisCache(client, next, time.Minute)

	mock.ExpectGet(cache.Key("X")).RedisNil()

	_, err := cache.Load(context.Background(), "X")
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

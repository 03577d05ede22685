package prices

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// PostgresConfig tunes the database-backed feed
type PostgresConfig struct {
	Table            string        `yaml:"table"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	RequestsPerSec   float64       `yaml:"requests_per_sec"`
	Burst            int           `yaml:"burst"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenDelay time.Duration `yaml:"breaker_open_delay"`
}

// DefaultPostgresConfig returns conservative settings for a shared database
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:            "daily_prices",
		QueryTimeout:     30 * time.Second,
		RequestsPerSec:   20,
		Burst:            5,
		BreakerFailures:  5,
		BreakerOpenDelay: 30 * time.Second,
	}
}

// PostgresFeed reads closing prices from a (symbol, ts, close) table. Queries
// are rate limited and go through a circuit breaker so that a struggling
// database fails the run quickly instead of timing out pair by pair.
type PostgresFeed struct {
	db      *sqlx.DB
	config  PostgresConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

type priceRow struct {
	Timestamp time.Time       `db:"ts"`
	Close     sql.NullFloat64 `db:"close"`
}

// NewPostgresFeed creates a feed over an open connection
func NewPostgresFeed(db *sqlx.DB, config PostgresConfig) *PostgresFeed {
	defaults := DefaultPostgresConfig()
	if config.Table == "" {
		config.Table = defaults.Table
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = defaults.QueryTimeout
	}
	if config.RequestsPerSec == 0 {
		config.RequestsPerSec = defaults.RequestsPerSec
	}
	if config.Burst == 0 {
		config.Burst = defaults.Burst
	}
	if config.BreakerFailures == 0 {
		config.BreakerFailures = defaults.BreakerFailures
	}
	if config.BreakerOpenDelay == 0 {
		config.BreakerOpenDelay = defaults.BreakerOpenDelay
	}

	failures := config.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "postgres-prices",
		Timeout: config.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Price feed circuit breaker changed state")
		},
	})

	return &PostgresFeed{
		db:      db,
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSec), config.Burst),
		breaker: breaker,
	}
}

// Load fetches the full history of symbol ordered by date
func (f *PostgresFeed) Load(ctx context.Context, symbol string) (Series, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Series{}, fmt.Errorf("price feed rate limit: %w", err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.query(ctx, symbol)
	})
	if err != nil {
		return Series{}, fmt.Errorf("failed to load %s from postgres: %w", symbol, err)
	}

	rows := result.([]priceRow)
	if len(rows) == 0 {
		return Series{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	series := Series{
		Symbol: symbol,
		Dates:  make([]time.Time, len(rows)),
		Close:  make([]float64, len(rows)),
	}
	for i, row := range rows {
		series.Dates[i] = row.Timestamp
		series.Close[i] = math.NaN()
		if row.Close.Valid {
			series.Close[i] = row.Close.Float64
		}
	}

	if err := series.Validate(); err != nil {
		return Series{}, err
	}
	return series, nil
}

func (f *PostgresFeed) query(ctx context.Context, symbol string) ([]priceRow, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT ts, close
		FROM %s
		WHERE symbol = $1
		ORDER BY ts ASC`, f.config.Table)

	var rows []priceRow
	if err := f.db.SelectContext(ctx, &rows, query, symbol); err != nil {
		return nil, err
	}
	return rows, nil
}

// BreakerState exposes the breaker state for health reporting
func (f *PostgresFeed) BreakerState() string {
	return f.breaker.State().String()
}

package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run does not exist
var ErrNotFound = errors.New("persistence: not found")

// RunRecord is one completed multi-pair backtest
type RunRecord struct {
	ID          string    `json:"id" db:"id"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	FinishedAt  time.Time `json:"finished_at" db:"finished_at"`
	PairsTotal  int       `json:"pairs_total" db:"pairs_total"`
	PairsTraded int       `json:"pairs_traded" db:"pairs_traded"`
	PairsFailed int       `json:"pairs_failed" db:"pairs_failed"`
	TotalReturn float64   `json:"total_return" db:"total_return"`
	Volatility  float64   `json:"annualized_volatility" db:"volatility"`
	Sharpe      float64   `json:"annualized_sharpe" db:"sharpe"`
	Config      []byte    `json:"config" db:"config"` // JSONB engine configuration
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PairRecord is one pair's outcome within a run
type PairRecord struct {
	RunID       string  `json:"run_id" db:"run_id"`
	PairID      string  `json:"pair_id" db:"pair_id"`
	TickerX     string  `json:"ticker_x" db:"ticker_x"`
	TickerY     string  `json:"ticker_y" db:"ticker_y"`
	Segments    int     `json:"segments" db:"segments"`
	Trades      int     `json:"trades" db:"trades"`
	TotalReturn float64 `json:"total_return" db:"total_return"`
	Sharpe      float64 `json:"sharpe" db:"sharpe"`
	Error       *string `json:"error,omitempty" db:"error"`
}

// RunsRepo stores backtest runs and their per-pair outcomes
type RunsRepo interface {
	// Insert writes a run and all of its pairs atomically
	Insert(ctx context.Context, run RunRecord, pairs []PairRecord) error

	// Get returns a single run
	Get(ctx context.Context, id string) (*RunRecord, error)

	// ListRecent returns the latest runs, newest first
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)

	// Pairs returns the pair outcomes of a run ordered by pair ID
	Pairs(ctx context.Context, runID string) ([]PairRecord, error)
}

// Repository aggregates all persistence interfaces
type Repository struct {
	Runs RunsRepo
}

// HealthCheck represents repository health status
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for persistence layer
type RepositoryHealth interface {
	// Health returns current repository health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity
	Ping(ctx context.Context) error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/pairsrun/internal/persistence"
)

// ErrDuplicateRun is returned when a run ID is already stored
var ErrDuplicateRun = errors.New("duplicate run")

// Schema creates the tables used by the runs repository
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ NOT NULL,
	pairs_total   INTEGER NOT NULL,
	pairs_traded  INTEGER NOT NULL,
	pairs_failed  INTEGER NOT NULL,
	total_return  DOUBLE PRECISION NOT NULL,
	volatility    DOUBLE PRECISION NOT NULL,
	sharpe        DOUBLE PRECISION NOT NULL,
	config        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS backtest_pairs (
	run_id        TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
	pair_id       TEXT NOT NULL,
	ticker_x      TEXT NOT NULL,
	ticker_y      TEXT NOT NULL,
	segments      INTEGER NOT NULL,
	trades        INTEGER NOT NULL,
	total_return  DOUBLE PRECISION NOT NULL,
	sharpe        DOUBLE PRECISION NOT NULL,
	error         TEXT,
	PRIMARY KEY (run_id, pair_id)
);`

// EnsureSchema creates the runs tables if they are missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create runs schema: %w", err)
	}
	return nil
}

// runsRepo implements RunsRepo interface for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a new PostgreSQL runs repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert writes the run row and every pair row in one transaction
func (r *runsRepo) Insert(ctx context.Context, run persistence.RunRecord, pairs []persistence.PairRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(pairs)/100+1))
	defer cancel()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	config := run.Config
	if len(config) == 0 {
		config = []byte("{}")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO backtest_runs
		(id, started_at, finished_at, pairs_total, pairs_traded, pairs_failed,
		 total_return, volatility, sharpe, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.StartedAt, run.FinishedAt, run.PairsTotal, run.PairsTraded,
		run.PairsFailed, run.TotalReturn, run.Volatility, run.Sharpe, config)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, run.ID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(pairs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtest_pairs
			(run_id, pair_id, ticker_x, ticker_y, segments, trades, total_return, sharpe, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, pair := range pairs {
			_, err = stmt.ExecContext(ctx, run.ID, pair.PairID, pair.TickerX, pair.TickerY,
				pair.Segments, pair.Trades, pair.TotalReturn, pair.Sharpe, pair.Error)
			if err != nil {
				return fmt.Errorf("failed to insert pair %s: %w", pair.PairID, err)
			}
		}
	}

	return tx.Commit()
}

// Get returns a single run by ID
func (r *runsRepo) Get(ctx context.Context, id string) (*persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run persistence.RunRecord
	err := r.db.GetContext(ctx, &run, `
		SELECT id, started_at, finished_at, pairs_total, pairs_traded, pairs_failed,
		       total_return, volatility, sharpe, config, created_at
		FROM backtest_runs
		WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: run %s", persistence.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRecent returns the newest runs first
func (r *runsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var runs []persistence.RunRecord
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, finished_at, pairs_total, pairs_traded, pairs_failed,
		       total_return, volatility, sharpe, config, created_at
		FROM backtest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Pairs returns the pair outcomes of a run
func (r *runsRepo) Pairs(ctx context.Context, runID string) ([]persistence.PairRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var pairs []persistence.PairRecord
	err := r.db.SelectContext(ctx, &pairs, `
		SELECT run_id, pair_id, ticker_x, ticker_y, segments, trades, total_return, sharpe, error
		FROM backtest_pairs
		WHERE run_id = $1
		ORDER BY pair_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}

	return pairs, nil
}

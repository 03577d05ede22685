package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/config"
	"github.com/sawpanic/pairsrun/internal/infrastructure/db"
	"github.com/sawpanic/pairsrun/internal/metrics"
	"github.com/sawpanic/pairsrun/internal/pairs"
	"github.com/sawpanic/pairsrun/internal/prices"
)

// ledgerInvariantError marks a run aborted by a broken ledger invariant
type ledgerInvariantError struct {
	pairs []string
}

func (e *ledgerInvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violated in %v", e.pairs)
}

func exitCode(err error) int {
	var invariant *ledgerInvariantError
	if errors.As(err, &invariant) {
		return exitLedgerInvariant
	}
	return 1
}

// services are the long-lived dependencies a command needs
type services struct {
	config   *config.AppConfig
	database *db.Manager
	redis    *redis.Client
	feed     prices.Feed
	breaker  *prices.PostgresFeed
	registry *metrics.Registry
}

// openServices connects the database and cache the configuration asks for and
// builds the price feed on top of them
func openServices(ctx context.Context, cfg *config.AppConfig) (*services, error) {
	svc := &services{config: cfg, registry: metrics.NewRegistry()}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	svc.database = manager

	switch cfg.Data.Source {
	case config.SourcePostgres:
		pg := prices.NewPostgresFeed(manager.DB(), cfg.Data.Postgres)
		svc.breaker = pg
		svc.feed = pg
	default:
		svc.feed = prices.NewCSVFeed(cfg.Data.PricesDir)
	}

	if cfg.Cache.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			DB:       cfg.Cache.Redis.DB,
			Password: cfg.Cache.Redis.Password,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.Redis.Addr).Msg("Redis unavailable, loading prices uncached")
			client.Close()
		} else {
			svc.redis = client
			svc.feed = prices.NewRedisCache(client, svc.feed, cfg.Cache.Redis.TTL).WithObserver(svc.registry)
			log.Info().Str("addr", cfg.Cache.Redis.Addr).Dur("ttl", cfg.Cache.Redis.TTL).Msg("Price cache enabled")
		}
	}

	return svc, nil
}

// Close releases the cache and database connections
func (s *services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// loadPairs reads the pair list and applies the configured selection
func loadPairs(cfg *config.AppConfig) (all, selected []pairs.Pair, err error) {
	all, err = pairs.LoadCSV(cfg.Data.PairsFile)
	if err != nil {
		return nil, nil, err
	}

	selected, err = pairs.Select(all, cfg.Data.Chosen)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid pair selection: %w", err)
	}
	return all, selected, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/pairsrun/internal/backtest/pairtrade"
	httpapi "github.com/sawpanic/pairsrun/internal/interfaces/http"
)

func newServeCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run summaries, health and metrics over HTTP",
		Long: `Starts a read-only HTTP server:
  GET /health            database and price feed status
  GET /metrics           Prometheus metrics
  GET /runs              stored runs (needs the database)
  GET /runs/{id}         summary.json of a run, "latest" for the newest
  GET /runs/{id}/pairs   stored pair outcomes (needs the database)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, state)
		},
	}
	return cmd
}

func runServe(ctx context.Context, state *cliState) error {
	cfg := state.config
	svc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	deps := httpapi.Dependencies{
		Summaries: pairtrade.NewWriter(cfg.Output.Dir),
		Metrics:   svc.registry.Handler(),
		Version:   version,
	}
	if svc.database.IsEnabled() {
		deps.Database = svc.database.Health()
		deps.Runs = svc.database.Repository().Runs
	}
	if svc.breaker != nil {
		deps.Breaker = svc.breaker
	}

	serverConfig := httpapi.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout

	server, err := httpapi.NewServer(serverConfig, deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
		return err
	}
	return nil
}

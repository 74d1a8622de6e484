// TubePulse - Creator Video Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tubepulse

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/tubepulse/internal/analytics"
	"github.com/tomtom215/tubepulse/internal/api"
	"github.com/tomtom215/tubepulse/internal/catalog"
	"github.com/tomtom215/tubepulse/internal/clock"
	"github.com/tomtom215/tubepulse/internal/config"
	"github.com/tomtom215/tubepulse/internal/database"
	"github.com/tomtom215/tubepulse/internal/logging"
	"github.com/tomtom215/tubepulse/internal/memstore"
	"github.com/tomtom215/tubepulse/internal/provider"
	"github.com/tomtom215/tubepulse/internal/queue"
	"github.com/tomtom215/tubepulse/internal/scheduler"
	"github.com/tomtom215/tubepulse/internal/scoring"
	"github.com/tomtom215/tubepulse/internal/store"
	"github.com/tomtom215/tubepulse/internal/supervisor"
	"github.com/tomtom215/tubepulse/internal/supervisor/services"
	"github.com/tomtom215/tubepulse/internal/sweeper"
	"github.com/tomtom215/tubepulse/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend", cfg.Database.Backend).
		Str("provider", cfg.Provider.BaseURL).
		Int("workers", cfg.Workers.Count).
		Msg("Starting TubePulse with supervisor tree")

	st, err := openStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	if err := run(cfg, st); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		// os.Exit skips defers; close explicitly.
		if closeErr := st.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing store")
		}
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Backend {
	case "memory":
		logging.Warn().Msg("Using in-memory store: catalog and queue are lost on restart")
		return memstore.New(), nil
	default:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		logging.Info().Str("path", cfg.Database.Path).Msg("DuckDB initialized successfully")
		return db, nil
	}
}

func run(cfg *config.Config, st store.Store) error {
	clk := clock.Real{}

	cat := catalog.New(st.Videos(), scoring.NewScorer(cfg.Scoring), clk)
	cache := analytics.New(st.Analytics(), cfg.Cache, clk)
	q := queue.New(st.Queue(), cfg.Queue, clk)

	// One Guarded instance: every worker and discovery share its rate
	// limiter and breaker.
	prov := provider.NewGuarded(provider.NewHTTPClient(cfg.Provider), cfg.Provider)
	creds := provider.NewStaticCredentials(cfg.Provider)

	sched := scheduler.New(cat, cache, q, prov, creds, cfg.Scheduler, clk)
	pool := worker.NewPool(q, cat, cache, prov, creds, cfg.Workers)
	sweep := sweeper.New(cache, q)

	schedulerSchedule, err := config.ParseSchedule(cfg.Scheduler.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler schedule: %w", err)
	}
	sweeperSchedule, err := config.ParseSchedule(cfg.Sweeper.Schedule)
	if err != nil {
		return fmt.Errorf("sweeper schedule: %w", err)
	}

	handler := api.NewHandler(cat, cache, q, st, clk)
	router := api.NewRouter(handler, cfg.Server)
	server := api.NewServer(cfg.Server, router.Setup())

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfigFrom(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	tree.AddDataService(services.NewPeriodicService("sweeper", sweeperSchedule, sweep.Run))
	tree.AddSyncService(services.NewPeriodicService("scheduler", schedulerSchedule, sched.Run))
	tree.AddSyncService(services.NewWorkerPoolService(pool))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.Timeout))

	logging.Info().
		Str("addr", api.Addr(cfg.Server)).
		Str("scheduler", cfg.Scheduler.Schedule).
		Str("sweeper", cfg.Sweeper.Schedule).
		Msg("Services registered with supervisor tree")

	watchConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	return runErr
}

// watchConfig applies log level changes from CONFIG_PATH without a restart.
// Everything else needs a restart.
func watchConfig() {
	path := os.Getenv(config.ConfigPathEnvVar)
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		next, err := config.Load()
		if err != nil {
			logging.Warn().Err(err).Msg("Ignoring invalid configuration change")
			return
		}
		logging.SetLevelString(next.Logging.Level)
		logging.Info().Str("level", next.Logging.Level).Msg("Configuration reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watching disabled")
	}
}

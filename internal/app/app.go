// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roadsim/odotelem/internal/config"
	"github.com/roadsim/odotelem/internal/eventstore"
	"github.com/roadsim/odotelem/internal/fleet"
	"github.com/roadsim/odotelem/internal/httpserver"
	"github.com/roadsim/odotelem/internal/sim"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	scenario, err := sim.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	appLogger.Info("loaded scenario",
		"name", scenario.Meta.Name,
		"vehicles", len(scenario.Vehicles),
		"route_segments", len(scenario.Route),
	)

	var store *eventstore.Store
	if cfg.DatabasePath != "" {
		store, err = eventstore.Open(cfg.DatabasePath, baseLogger)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				appLogger.Warn("event store close", "err", err)
			}
		}()
		appLogger.Info("event store opened", "path", cfg.DatabasePath)
	} else {
		appLogger.Info("event store disabled")
	}

	runnerCfg := sim.RunnerConfig{
		PublishHz:    cfg.PublishHz,
		DistanceUnit: cfg.DistanceUnit,
		Logger:       baseLogger,
	}
	if store != nil {
		runnerCfg.Sink = store
	}

	runner, err := sim.NewRunner(scenario, runnerCfg)
	if err != nil {
		return fmt.Errorf("init simulation runner: %w", err)
	}

	vehicles := fleet.FromScenario(scenario)

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	defer runnerCancel()

	runnerErrCh := make(chan error, 1)
	go func() {
		runnerErrCh <- runner.Run(runnerCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), vehicles, runner, store)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			runnerCancel()
			if err != nil {
				return err
			}
			if runnerErrCh != nil {
				if runnerErr := <-runnerErrCh; runnerErr != nil && !errors.Is(runnerErr, context.Canceled) {
					return runnerErr
				}
			}
			return nil
		case err := <-runnerErrCh:
			runnerErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			runnerCancel()
			if runnerErrCh != nil {
				if runnerErr := <-runnerErrCh; runnerErr != nil && !errors.Is(runnerErr, context.Canceled) {
					return runnerErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}

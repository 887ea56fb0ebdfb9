// Package app assembles the racewatch worker: storage, task reservations,
// connectors, reconcilers, and the per-connector schedulers under one
// supervisor.
package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/racewatch/racewatch/internal/config"
	"github.com/racewatch/racewatch/internal/lock"
	"github.com/racewatch/racewatch/internal/repository"
	"github.com/racewatch/racewatch/internal/supervisor"
)

// WorkerApp is the assembled worker process.
type WorkerApp struct {
	config     *config.Config
	store      *repository.Store
	locks      *lock.Service
	supervisor *supervisor.Supervisor

	// Owned connections, nil when injected or unused.
	pool          *pgxpool.Pool
	redisStore    *lock.RedisStore
	meterProvider *sdkmetric.MeterProvider
}

// Store exposes the repository store, primarily for tests.
func (a *WorkerApp) Store() *repository.Store {
	return a.store
}

// Run starts all units and blocks until shutdown completes.
func (a *WorkerApp) Run(ctx context.Context) error {
	return a.supervisor.Run(ctx)
}

// Shutdown drives the two-phase stop without waiting for a signal.
func (a *WorkerApp) Shutdown() {
	if a.supervisor != nil {
		a.supervisor.Shutdown()
	}
}

// Close releases owned connections and flushes pending telemetry. Call
// after Run returns.
func (a *WorkerApp) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redisStore != nil {
		a.redisStore.Close()
	}
	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(context.Background()); err != nil {
			slog.Warn("Failed to shut down meter provider", "error", err)
		}
	}
}

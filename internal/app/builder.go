package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/racewatch/racewatch/internal/announce"
	"github.com/racewatch/racewatch/internal/config"
	"github.com/racewatch/racewatch/internal/destinations"
	"github.com/racewatch/racewatch/internal/destinations/telegram"
	"github.com/racewatch/racewatch/internal/httpclient"
	"github.com/racewatch/racewatch/internal/lock"
	"github.com/racewatch/racewatch/internal/repository"
	"github.com/racewatch/racewatch/internal/repository/inmemory"
	"github.com/racewatch/racewatch/internal/repository/postgres"
	"github.com/racewatch/racewatch/internal/scheduler"
	"github.com/racewatch/racewatch/internal/sources"
	"github.com/racewatch/racewatch/internal/sources/racetime"
	"github.com/racewatch/racewatch/internal/supervisor"
	racesync "github.com/racewatch/racewatch/internal/sync"
	"github.com/racewatch/racewatch/internal/telemetry"
	"github.com/racewatch/racewatch/internal/versions"
)

const (
	taskGameCatalog = "game-catalog"
	taskRaceSync    = "race-sync"
	taskAnnounce    = "announce"

	defaultHTTPTimeout  = 30 * time.Second
	defaultDrainTimeout = 30 * time.Second
)

// WorkerAppOptions is a function that configures the worker app builder
type WorkerAppOptions func(*workerAppConfig) error

// workerAppConfig holds the configuration for building a WorkerApp.
// It supports dependency injection for testing while providing sensible
// defaults for production.
type workerAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	store       *repository.Store
	lockStore   lock.Store
	sourceFn    func(cfg config.SourceConfig) (sources.Connector, error)
	destFn      func(cfg config.SourceConfig) (destinations.Connector, error)
	httpTimeout time.Duration

	drainTimeout time.Duration

	// Telemetry components
	meterProvider metric.MeterProvider
}

func baseConfig(opts ...WorkerAppOptions) (*workerAppConfig, error) {
	cfg := &workerAppConfig{
		httpTimeout:  defaultHTTPTimeout,
		drainTimeout: defaultDrainTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithStore allows injecting a custom repository store (for testing)
func WithStore(store *repository.Store) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.store = store
		return nil
	}
}

// WithLockStore allows injecting a custom lock store (for testing)
func WithLockStore(store lock.Store) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.lockStore = store
		return nil
	}
}

// WithSourceFactory allows injecting a custom source connector factory (for testing)
func WithSourceFactory(fn func(cfg config.SourceConfig) (sources.Connector, error)) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.sourceFn = fn
		return nil
	}
}

// WithDestinationFactory allows injecting a custom destination connector factory (for testing)
func WithDestinationFactory(fn func(cfg config.SourceConfig) (destinations.Connector, error)) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.destFn = fn
		return nil
	}
}

// WithDrainTimeout bounds how long shutdown waits for in-flight passes
func WithDrainTimeout(d time.Duration) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive")
		}
		cfg.drainTimeout = d
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for pass metrics
func WithMeterProvider(mp metric.MeterProvider) WorkerAppOptions {
	return func(cfg *workerAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// NewWorkerApp builds the worker application from configuration.
func NewWorkerApp(ctx context.Context, opts ...WorkerAppOptions) (*WorkerApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	app := &WorkerApp{
		config: cfg.config,
	}

	// Ensure partially built resources are released on error.
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			app.Close()
		}
	}()

	if err := buildStorage(ctx, cfg, app); err != nil {
		return nil, err
	}
	if err := buildLockService(ctx, cfg, app); err != nil {
		return nil, err
	}
	if err := buildTelemetry(ctx, cfg, app); err != nil {
		return nil, err
	}

	units, err := buildUnits(cfg, app)
	if err != nil {
		return nil, err
	}
	app.supervisor = supervisor.New(units, supervisor.WithDrainTimeout(cfg.drainTimeout))

	cleanupNeeded = false
	return app, nil
}

// buildStorage resolves the repository store: injected, Postgres when
// configured, and in-memory otherwise.
func buildStorage(ctx context.Context, cfg *workerAppConfig, app *WorkerApp) error {
	if cfg.store != nil {
		app.store = cfg.store
		return nil
	}

	if cfg.config.Database != nil {
		pool, err := postgres.NewPool(ctx, cfg.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		app.pool = pool
		app.store = postgres.NewStore(pool)
		slog.Info("Using PostgreSQL storage",
			"host", cfg.config.Database.Host,
			"database", cfg.config.Database.Database)
		return nil
	}

	// Without a database nothing survives a restart; acceptable for
	// development only.
	app.store = inmemory.NewStore()
	slog.Warn("No database configured, using volatile in-memory storage")
	return nil
}

// buildLockService resolves the task reservation store: injected, Redis when
// configured, and process-local otherwise.
func buildLockService(ctx context.Context, cfg *workerAppConfig, app *WorkerApp) error {
	instance := cfg.config.GetInstanceName()
	// The owner identity must be unique per process. Instances may share a
	// configured name (or hostname), and a colliding owner would let an
	// expired holder's compare-and-delete free a live reservation.
	ownerID := instance + "-" + uuid.NewString()

	if cfg.lockStore != nil {
		app.locks = lock.NewService(cfg.lockStore, ownerID)
		return nil
	}

	if cfg.config.Redis != nil {
		store, err := lock.NewRedisStore(ctx, cfg.config.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.redisStore = store
		app.locks = lock.NewService(store, ownerID)
		slog.Info("Using Redis task reservations",
			"addr", cfg.config.Redis.Addr,
			"instance", instance)
		return nil
	}

	// Process-local reservations still serialize tasks within this
	// instance, but provide no fleet coordination.
	app.locks = lock.NewService(lock.NewMemoryStore(), ownerID)
	slog.Warn("No redis configured, task reservations are process-local")
	return nil
}

// buildTelemetry bootstraps the OTLP meter provider from configuration. An
// injected provider wins; without one and without a telemetry block the
// instruments stay disabled.
func buildTelemetry(ctx context.Context, cfg *workerAppConfig, app *WorkerApp) error {
	if cfg.meterProvider != nil || cfg.config.Telemetry == nil {
		return nil
	}

	provider, err := telemetry.NewMeterProvider(ctx, cfg.config.Telemetry, versions.GetVersionInfo().Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	app.meterProvider = provider
	cfg.meterProvider = provider
	return nil
}

// buildUnits creates the execution units: one per (task, connector) pair, so
// cadences never share a scheduler and one connector's slow pass cannot delay
// another task.
func buildUnits(cfg *workerAppConfig, app *WorkerApp) ([]supervisor.Unit, error) {
	syncMetrics, err := telemetry.NewSyncMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	announceMetrics, err := telemetry.NewAnnounceMetrics(cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create announce metrics: %w", err)
	}

	var units []supervisor.Unit
	for _, srcCfg := range cfg.config.Sources {
		connectorUnits, err := buildConnectorUnits(cfg, app, srcCfg, syncMetrics, announceMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to build units for connector %s: %w", srcCfg.Connector, err)
		}
		units = append(units, connectorUnits...)
	}
	return units, nil
}

func buildConnectorUnits(
	cfg *workerAppConfig,
	app *WorkerApp,
	srcCfg config.SourceConfig,
	syncMetrics *telemetry.SyncMetrics,
	announceMetrics *telemetry.AnnounceMetrics,
) ([]supervisor.Unit, error) {
	source, err := buildSource(cfg, srcCfg)
	if err != nil {
		return nil, err
	}

	schedule := cfg.config.Schedule
	syncReconciler := racesync.New(
		source,
		app.store,
		schedule.RaceRecency.Std(),
		schedule.RaceLookback.Std(),
		racesync.WithMetrics(syncMetrics),
	)

	cadences := []scheduler.Cadence{
		{
			Name:      taskGameCatalog,
			Connector: srcCfg.Connector,
			Spec:      schedule.GameCatalogSpec,
			Task:      syncReconciler.SyncGames,
			LockTTL:   schedule.LockTTL.Std(),
		},
		{
			Name:         taskRaceSync,
			Connector:    srcCfg.Connector,
			Spec:         schedule.RaceSyncSpec,
			Task:         syncReconciler.SyncRaces,
			LockTTL:      schedule.LockTTL.Std(),
			ReleaseGrace: schedule.ReleaseGrace.Std(),
		},
	}

	dest, err := buildDestination(cfg, srcCfg)
	if err != nil {
		return nil, err
	}
	if dest != nil {
		announceReconciler := announce.New(
			srcCfg.Connector,
			dest,
			app.store,
			schedule.AnnounceWindow.Std(),
			schedule.MaxFailedUpdates,
			schedule.MaxNewAnnounceChanges,
			announce.WithMetrics(announceMetrics),
		)
		cadences = append(cadences, scheduler.Cadence{
			Name:         taskAnnounce,
			Connector:    srcCfg.Connector,
			Spec:         schedule.AnnounceSpec,
			Task:         announceReconciler.UpdateAnnouncements,
			LockTTL:      schedule.LockTTL.Std(),
			ReleaseGrace: schedule.ReleaseGrace.Std(),
		})
	} else {
		slog.Warn("No destination configured, connector syncs without announcing",
			"connector", srcCfg.Connector)
	}

	units := make([]supervisor.Unit, 0, len(cadences))
	for _, cadence := range cadences {
		unitName := cadence.Name + ":" + cadence.Connector
		// The supervisor field is assigned before Run starts any cadence,
		// so the handler never observes it nil.
		sched := scheduler.New(app.locks, scheduler.WithFailureHandler(func(err error) {
			app.supervisor.MarkUnhealthy(unitName, err)
		}))
		if err := sched.Add(context.Background(), cadence); err != nil {
			return nil, err
		}
		units = append(units, &schedulerUnit{name: unitName, sched: sched})
	}
	return units, nil
}

func buildSource(cfg *workerAppConfig, srcCfg config.SourceConfig) (sources.Connector, error) {
	if cfg.sourceFn != nil {
		return cfg.sourceFn(srcCfg)
	}
	client := httpclient.NewDefaultClient(cfg.httpTimeout)
	return racetime.New(srcCfg.Connector, srcCfg.BaseURL, client), nil
}

func buildDestination(cfg *workerAppConfig, srcCfg config.SourceConfig) (destinations.Connector, error) {
	if cfg.destFn != nil {
		return cfg.destFn(srcCfg)
	}
	if srcCfg.TelegramTokenFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Clean(srcCfg.TelegramTokenFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram token from file %s: %w", srcCfg.TelegramTokenFile, err)
	}
	return telegram.New("telegram", strings.TrimSpace(string(data)))
}

// schedulerUnit adapts one cadence's scheduler to the supervisor unit
// contract.
type schedulerUnit struct {
	name  string
	sched *scheduler.Scheduler
}

func (u *schedulerUnit) Name() string { return u.name }

func (u *schedulerUnit) Start() { u.sched.Start() }

func (u *schedulerUnit) Stop() context.Context { return u.sched.Stop() }

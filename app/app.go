/*
app.go - Process wiring shared by the server and the CLI

PURPOSE:
  Builds the store, lock, metrics, generator, batch runner, scheduler and
  HTTP handler from a loaded Config. Both cmd/server and cmd/feegen start
  from here so they run the same engine.

WIRING:
  store      sqlite (file or :memory:) or postgres, migrated on open
  locker     redis when redis.url is set, otherwise in-process
  versions   LRU cache in front of the store's version chains
  metrics    private prometheus registry, served on /metrics

SEE ALSO:
  - config/config.go: Settings
  - cmd/server/main.go: HTTP entry point
  - cmd/feegen/main.go: Seeding and one-shot runs
*/
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/fees"
	"github.com/warp/fee-engine/generic"
	"github.com/warp/fee-engine/lock"
	"github.com/warp/fee-engine/store/postgres"
	"github.com/warp/fee-engine/store/sqlite"
	"github.com/warp/fee-engine/store/sqlstore"
)

// App holds every long-lived component of the process.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     *sqlstore.Store
	Registry  *prometheus.Registry
	Metrics   *fees.Metrics
	Versions  *fees.CachingVersionStore
	Generator *fees.Generator
	Runner    *fees.BatchRunner
	Scheduler *api.GenerationScheduler
	Handler   *api.Handler

	closers []io.Closer
}

// New opens the store and builds the engine. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store)

	var locker fees.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		r, err := lock.NewRedis(ctx, cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = r
		a.closers = append(a.closers, r)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(store.DB().DB, cfg.DBDriver),
	)
	a.Metrics = fees.NewMetrics(a.Registry)

	a.Versions = fees.NewCachingVersionStore(store, cfg.CacheSize, cfg.CacheTTL, a.Metrics)
	a.Generator = fees.NewGenerator(store, a.Versions, fees.NewCalculator(cfg.Strategy()), log)
	a.Generator.DueDay = cfg.DueDay
	a.Generator.Metrics = a.Metrics

	a.Runner = fees.NewBatchRunner(store, a.Generator, locker, log)
	a.Runner.BatchSize = cfg.BatchSize
	a.Runner.Parallelism = cfg.Parallelism
	a.Runner.BatchPause = cfg.BatchPause
	a.Runner.Metrics = a.Metrics

	schools := make([]generic.SchoolID, 0, len(cfg.Schools))
	for _, s := range cfg.Schools {
		schools = append(schools, generic.SchoolID(s))
	}
	a.Scheduler = api.NewGenerationScheduler(a.Runner, store, cfg.Schedule, schools, log)
	a.Handler = api.NewHandler(store, a.Versions, a.Generator, a.Scheduler, log)

	log.WithFields(logrus.Fields{
		"component": "app",
		"driver":    cfg.DBDriver,
		"strategy":  cfg.CalculationStrategy,
		"redis":     cfg.RedisURL != "",
		"schools":   len(schools),
	}).Info("engine initialized")
	return a, nil
}

// RouterOptions returns the router settings for this process.
func (a *App) RouterOptions() api.RouterOptions {
	return api.RouterOptions{
		AllowedOrigins: a.Config.AllowedOrigins,
		Gatherer:       a.Registry,
		Ping:           a.Store.DB().PingContext,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return sqlite.New(cfg.DBDSN)
	case "postgres":
		return postgres.New(ctx, cfg.DBDSN)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.DBDriver)
	}
}

// Package main provides the pipewatch server entry point. The server
// hosts the HTTP API and runs the discovery, health, and alert jobs in
// one process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/pipewatch/pipewatch/pkg/alerts"
	"github.com/pipewatch/pipewatch/pkg/api"
	"github.com/pipewatch/pipewatch/pkg/cache"
	"github.com/pipewatch/pipewatch/pkg/config"
	"github.com/pipewatch/pipewatch/pkg/db"
	"github.com/pipewatch/pipewatch/pkg/discovery"
	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/registry"
	"github.com/pipewatch/pipewatch/pkg/scheduler"
)

const (
	jobDiscovery = "discovery"
	jobHealth    = "health"
	jobAlerts    = "alerts"
)

func main() {
	var (
		configPath  string
		listenAddr  string
		databaseDSN string
	)

	flag.StringVar(&configPath, "config", "", "Path to pipewatch config file")
	flag.StringVar(&listenAddr, "listen", "", "Address to listen on (overrides config)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string (overrides config)")
	flag.Parse()

	_ = flag.Set("logtostderr", "true")

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		glog.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if databaseDSN != "" {
		cfg.Database.DSN = databaseDSN
	}

	logger.Info("starting pipewatch server",
		"listen", cfg.Server.Listen,
		"driver", cfg.Database.Driver,
		"definitions", cfg.Definitions.Path,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	gormDB, err := db.Connect(ctx, cfg.Database.Driver, cfg.Database.DSN, db.Options{})
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	assets := registry.NewMetadataStore(gormDB)
	execs := executions.NewExecutionStore(gormDB)
	verdicts := health.NewVerdictStore(gormDB)
	manager := alerts.NewManager(gormDB, logger)
	for _, migrate := range []func() error{
		assets.AutoMigrate, execs.AutoMigrate, verdicts.AutoMigrate, manager.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			glog.Fatalf("Failed to migrate database: %v", err)
		}
	}

	source := discovery.NewYAMLSource(cfg.Definitions.Path)
	engine := discovery.NewEngine(assets, source, discovery.Config{
		StaleAfterMisses:  cfg.Discovery.StaleAfterMisses,
		RetireAfterMisses: cfg.Discovery.RetireAfterMisses,
	}, logger)

	monitor := health.NewMonitor(assets, execs, verdicts, health.Config{
		LookbackRuns:        cfg.Health.LookbackRuns,
		LookbackWindow:      cfg.Health.LookbackWindow,
		MissedRunMultiplier: cfg.Health.MissedRunMultiplier,
		OverdueCriticalMult: cfg.Health.OverdueCriticalMult,
		VolumeRatio:         cfg.Health.VolumeRatio,
		TimingRatio:         cfg.Health.TimingRatio,
		MinSamples:          cfg.Health.MinSamples,
	}, logger)

	sched, err := scheduler.New(
		scheduler.Config{MaxBackoffFactor: cfg.Jobs.MaxBackoffFactor},
		logger,
		scheduler.Job{
			Name:     jobDiscovery,
			Interval: cfg.Jobs.DiscoveryInterval,
			Timeout:  cfg.Jobs.Timeout,
			Run:      discoveryRun(engine, logger),
		},
		scheduler.Job{
			Name:     jobHealth,
			Interval: cfg.Jobs.HealthInterval,
			Timeout:  cfg.Jobs.Timeout,
			Run: func(ctx context.Context) error {
				_, err := monitor.EvaluateAll(ctx)
				return err
			},
		},
		scheduler.Job{
			Name:     jobAlerts,
			Interval: cfg.Jobs.AlertsInterval,
			Timeout:  cfg.Jobs.Timeout,
			Run: func(ctx context.Context) error {
				latest, err := verdicts.LatestAll()
				if err != nil {
					return err
				}
				_, err = manager.ProcessAll(latest)
				return err
			},
		},
	)
	if err != nil {
		glog.Fatalf("Failed to create scheduler: %v", err)
	}

	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	if cfg.Definitions.Watch {
		go func() {
			err := discovery.Watch(ctx, cfg.Definitions.Path, logger, func() {
				if err := sched.TriggerNow(ctx, jobDiscovery); err != nil {
					logger.Warn("definitions changed but discovery could not run", "error", err)
				}
			})
			if err != nil {
				logger.Error("definitions watcher stopped", "error", err)
			}
		}()
	}

	var responseCache *cache.ResponseCache
	if cfg.Server.CacheTTL > 0 {
		responseCache = cache.New(256, cfg.Server.CacheTTL)
	}

	router := api.Router(&api.Services{
		Assets:     assets,
		Executions: execs,
		Verdicts:   verdicts,
		Monitor:    monitor,
		Alerts:     manager,
		Discovery:  engine,
		Jobs:       sched,
		Cache:      responseCache,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}

	go func() {
		logger.Info("pipewatch server ready", "listen", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Error("scheduler did not stop before shutdown deadline")
	}

	logger.Info("pipewatch server stopped")
}

// discoveryRun adapts a discovery pass to the scheduler: a pass that
// finds another one in flight is a skip, not a failure.
func discoveryRun(engine *discovery.Engine, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		report, err := engine.RunPass(ctx)
		if err != nil {
			if errors.Is(err, discovery.ErrAlreadyRunning) {
				return scheduler.ErrSkipped
			}
			return err
		}
		logger.Info("discovery pass finished",
			"added", report.Added,
			"updated", report.Updated,
			"unchanged", report.Unchanged,
			"missing", report.Missing,
			"invalid", report.Invalid,
		)
		return nil
	}
}

// Package main is the entrypoint for the eventsync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/eventsync/internal/api"
	"github.com/kiranshivaraju/eventsync/internal/api/handler"
	mw "github.com/kiranshivaraju/eventsync/internal/api/middleware"
	"github.com/kiranshivaraju/eventsync/internal/api/response"
	"github.com/kiranshivaraju/eventsync/internal/cache"
	"github.com/kiranshivaraju/eventsync/internal/cohort"
	"github.com/kiranshivaraju/eventsync/internal/config"
	"github.com/kiranshivaraju/eventsync/internal/metrics"
	"github.com/kiranshivaraju/eventsync/internal/reconcile"
	"github.com/kiranshivaraju/eventsync/internal/scheduler"
	"github.com/kiranshivaraju/eventsync/internal/slack"
	"github.com/kiranshivaraju/eventsync/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

const shutdownTimeout = 30 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := run(level); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(level *slog.LevelVar) error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(cfg.LogLevel())
	logger := slog.Default()
	logger.Info("config loaded",
		"env", cfg.Server.Env,
		"sync_interval", cfg.Sync.Interval,
		"sync_concurrency", cfg.Sync.Concurrency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Cohort definitions, hot reloaded
	cohorts, err := cohort.NewWatcher(cfg.Sync.CohortsFile, logger)
	if err != nil {
		return fmt.Errorf("load cohorts: %w", err)
	}
	go func() {
		if err := cohorts.Run(ctx); err != nil {
			logger.Error("cohort watcher stopped", "error", err)
		}
	}()
	logger.Info("cohorts loaded", "count", len(cohorts.Definitions()))

	// 6. Metrics and the Slack client factory
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	syncMetrics := metrics.NewSyncMetrics(reg)

	limiter := slack.NewLimiter(cfg.Slack.RequestsPerSecond, cfg.Slack.Burst)
	clients := slack.NewFactory(cfg.Slack, limiter, syncMetrics.ObserveSlackCall)

	// 7. Reconciler and scheduler
	pgStore := store.NewPostgresStore(pool)

	rec := reconcile.New(pgStore, clients, cohorts, reconcile.Options{
		ChannelPrefix:  cfg.Slack.ChannelPrefix,
		ChannelRemoval: cfg.Slack.ChannelRemoval,
	}, logger)

	runner := scheduler.NewRunner(pgStore, rec, redisCache, syncMetrics, scheduler.Options{
		Concurrency: cfg.Sync.Concurrency,
		LockTTL:     cfg.Sync.LockTTL,
		SuspendTTL:  cfg.Sync.SuspendTTL,
	}, logger)

	sched := scheduler.New(runner, cfg.Sync.Interval, cfg.Sync.RunOnStart, logger)
	sched.Start()
	defer sched.Stop()

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Logger:    logger,
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimit),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),

		TriggerSyncHandler: handler.NewTriggerSyncHandler(sched),
		SyncStatusHandler:  handler.NewSyncStatusHandler(sched),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore, bcrypt.DefaultCost),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

// Pinger is anything whose connectivity the health endpoint reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

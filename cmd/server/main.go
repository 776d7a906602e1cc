// Package main is the entrypoint for the Lockbox API server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiranshivaraju/lockbox/internal/api"
	"github.com/kiranshivaraju/lockbox/internal/api/handler"
	mw "github.com/kiranshivaraju/lockbox/internal/api/middleware"
	"github.com/kiranshivaraju/lockbox/internal/api/response"
	"github.com/kiranshivaraju/lockbox/internal/audit"
	"github.com/kiranshivaraju/lockbox/internal/auth"
	"github.com/kiranshivaraju/lockbox/internal/cache"
	"github.com/kiranshivaraju/lockbox/internal/config"
	"github.com/kiranshivaraju/lockbox/internal/device"
	"github.com/kiranshivaraju/lockbox/internal/exposure"
	"github.com/kiranshivaraju/lockbox/internal/safego"
	"github.com/kiranshivaraju/lockbox/internal/store"
	"github.com/kiranshivaraju/lockbox/internal/telemetry"
	"github.com/kiranshivaraju/lockbox/internal/vault"
)

const (
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
	dbStatsInterval = 15 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)

	// 4. Vault and credentials
	cipher, err := vault.NewCipher(cfg.Vault.MasterKey)
	if err != nil {
		return fmt.Errorf("create vault cipher: %w", err)
	}
	secrets := vault.New(pgStore, cipher)
	authority := auth.NewAuthority(pgStore)

	seeded, err := authority.SeedInitToken(ctx, cfg.Vault.MasterToken)
	if err != nil {
		return fmt.Errorf("seed master token: %w", err)
	}
	if seeded {
		slog.Info("initial master token seeded", "token", auth.MaskToken(cfg.Vault.MasterToken))
	}

	// 5. Redis
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 6. Audit pipeline
	recorder := audit.NewRecorder(pgStore, exposure.NewGuard(secrets, pgStore), audit.Options{
		Workers:      cfg.Audit.Workers,
		QueueSize:    cfg.Audit.QueueSize,
		FallbackFile: cfg.Audit.FallbackFile,
		Deduper:      redisCache,
	})
	safego.Go(func() { audit.RunCleanup(ctx, pgStore, cfg.Audit.Retention, cleanupInterval) })

	// 7. Metrics side server
	telemetry.StartDBStatsCollector(ctx, pool, dbStatsInterval)
	metricsSrv := startMetricsServer(cfg.Metrics.Port)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:          mw.NewAuth(authority),
		RateLimit:     mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		Audit:         mw.NewAudit(recorder, api.HealthPath),
		HealthHandler: healthHandler(pgStore, redisCache),
		Projects:      handler.NewProjects(pgStore),
		Secrets:       handler.NewSecrets(pgStore, secrets),
		Devices:       handler.NewDevices(pgStore, device.NewRegistry(pgStore)),
		Tokens:        handler.NewTokens(pgStore, authority),
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

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}

	// In-flight handlers have returned; flush their audit events.
	if err := recorder.Close(shutdownCtx); err != nil {
		slog.Warn("audit queue not fully drained", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// startMetricsServer serves Prometheus metrics on a dedicated port so they are
// not reachable through the public API listener.
func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	safego.Go(func() {
		slog.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
	return srv
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c pinger) http.HandlerFunc {
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

		if checks["database"] != "ok" || checks["cache"] != "ok" {
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

// Package main is the entrypoint for the Herald API server.
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

	"github.com/heraldhq/herald/internal/ai"
	"github.com/heraldhq/herald/internal/api"
	"github.com/heraldhq/herald/internal/api/handler"
	mw "github.com/heraldhq/herald/internal/api/middleware"
	"github.com/heraldhq/herald/internal/cache"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/feeds"
	"github.com/heraldhq/herald/internal/jobs"
	"github.com/heraldhq/herald/internal/runner"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/pkg/models"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

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

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	// 6. Create store and job core
	pgStore := store.NewPostgresStore(pool)
	manager := jobs.NewManager(pgStore, redisCache, cfg.Jobs.StatusCacheTTL, cfg.Jobs.StaleAfter)
	stream := jobs.NewStream(manager)

	// 7. Register the built-in runners
	feedClient := feeds.NewHTTPClient(cfg.Feeds.UserAgent, cfg.Feeds.Timeout)
	registry := jobs.NewRegistry()
	registry.Register(models.JobTypeCuration, runner.NewCuration(feedClient))
	registry.Register(models.JobTypeGeneration, runner.NewGeneration(aiProvider, cfg.AI.InferenceTimeout))
	registry.Register(models.JobTypeSearch, runner.NewSearch(feedClient))
	slog.Info("runners registered", "types", registry.Types())

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache),
		StreamHandler:    handler.NewStreamHandler(stream, registry),
		ListJobsHandler:  handler.NewListJobsHandler(manager),
		GetJobHandler:    handler.NewGetJobHandler(manager),
		CancelJobHandler: handler.NewCancelJobHandler(manager),
		SweepJobsHandler: handler.NewSweepJobsHandler(manager, cfg.Jobs.RetentionDays),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Background sweeper for stale jobs
	go sweepStaleJobs(ctx, manager, cfg.Jobs.SweepInterval)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: progress streams stay open for the whole job.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
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
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// sweepStaleJobs periodically fails running jobs whose heartbeat expired.
// Catches jobs orphaned by a crashed or killed server process.
func sweepStaleJobs(ctx context.Context, mgr *jobs.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := mgr.FailStale(sweepCtx); err != nil {
				slog.Error("stale job sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// Package main is the entrypoint for the book translation API server.
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

	"github.com/joho/godotenv"

	"github.com/kiranshivaraju/booktranslator/internal/ai"
	"github.com/kiranshivaraju/booktranslator/internal/ai/providers"
	"github.com/kiranshivaraju/booktranslator/internal/api"
	"github.com/kiranshivaraju/booktranslator/internal/api/handler"
	mw "github.com/kiranshivaraju/booktranslator/internal/api/middleware"
	"github.com/kiranshivaraju/booktranslator/internal/api/response"
	"github.com/kiranshivaraju/booktranslator/internal/cache"
	"github.com/kiranshivaraju/booktranslator/internal/config"
	"github.com/kiranshivaraju/booktranslator/internal/events"
	"github.com/kiranshivaraju/booktranslator/internal/extract"
	"github.com/kiranshivaraju/booktranslator/internal/feed"
	"github.com/kiranshivaraju/booktranslator/internal/objectstore"
	"github.com/kiranshivaraju/booktranslator/internal/queue"
	"github.com/kiranshivaraju/booktranslator/internal/render"
	"github.com/kiranshivaraju/booktranslator/internal/store"
	"github.com/kiranshivaraju/booktranslator/internal/translate"
)

const (
	shutdownTimeout = 30 * time.Second
	// jobDrainTimeout is how long running jobs may finish before they are interrupted.
	jobDrainTimeout = 60 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"storage_backend", cfg.Storage.Backend,
		"max_concurrent_jobs", cfg.Job.MaxConcurrent,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database, "booktranslator-server")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
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

	// 5. Create AI provider and the translation pipeline
	aiProvider, err := providers.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	svc := ai.NewTranslationService(aiProvider, cfg.AI.InferenceTimeout, ai.RetryPolicy{
		MaxAttempts:    cfg.Translate.MaxAttempts,
		InitialBackoff: cfg.Translate.InitialBackoff,
		MaxBackoff:     cfg.Translate.MaxBackoff,
	})
	orchestrator := translate.NewOrchestrator(svc, translate.Options{
		MaxChunkChars: cfg.Translate.MaxChunkChars,
		Budget:        cfg.Job.Timeout,
		Pricing: translate.Pricing{
			InputPerMTok:  cfg.Pricing.InputPerMTok,
			OutputPerMTok: cfg.Pricing.OutputPerMTok,
		},
	})

	// 6. Create object store
	objects, err := objectstore.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object store: %w", err)
	}
	slog.Info("object store initialized", "backend", cfg.Storage.Backend)

	// 7. Create store, event hub and queue
	pgStore := store.NewPostgresStore(pool)

	hub := events.NewHub()
	go hub.Run(ctx)

	runner := queue.NewRunner(queue.RunnerDeps{
		Store:      pgStore,
		Objects:    objects,
		Extractor:  extract.New(),
		Translator: orchestrator,
		Renderer:   render.New(),
		Events:     hub,
		Progress:   redisCache,
	}, cfg.Job.MaxConcurrent, cfg.Job.Timeout)

	manager := queue.NewManager(pgStore, objects, runner, queue.Config{
		MaxUploadBytes: cfg.Job.MaxUploadBytes,
		StaleAfter:     cfg.Job.StaleAfter,
		TargetLanguage: cfg.Job.TargetLanguage,
	})

	requeued, err := manager.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile queue: %w", err)
	}
	resumed, err := manager.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume queue: %w", err)
	}
	slog.Info("queue reconciled", "requeued", requeued, "resumed", resumed)

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Scheduler.Enabled {
		go queue.NewScheduler(manager, cfg.Scheduler.Interval).Run(schedCtx)
	}

	// URL admissions share the feed importer's bounded download.
	importer := feed.NewImporter(manager, nil, cfg.Job.MaxUploadBytes)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		RateLimit:      mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		TrustedProxies: cfg.Server.TrustedProxies,

		HealthHandler:   healthHandler(pgStore, redisCache),
		UploadHandler:   handler.NewUploadHandler(manager, cfg.Job.MaxUploadBytes),
		AdmitURLHandler: handler.NewAdmitURLHandler(importer),
		ListHandler:     handler.NewListHandler(manager),
		GetHandler:      handler.NewGetHandler(manager),
		UpdateHandler:   handler.NewUpdateHandler(manager),
		TriggerHandler:  handler.NewTriggerHandler(manager),
		DeleteHandler:   handler.NewDeleteHandler(manager),
		ResetHandler:    handler.NewResetHandler(manager),
		CancelHandler:   handler.NewCancelHandler(manager),
		RecordHandler:   handler.NewRecordHandler(manager, redisCache),
		EventsHandler:   hub,
		Files:           filesHandler(cfg.Storage),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// Uploads can be large, so the read timeout is generous.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
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

	stopScheduler()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), jobDrainTimeout)
	defer cancelDrain()
	runner.Shutdown(drainCtx)

	slog.Info("server stopped gracefully")
	return nil
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

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

// filesHandler serves the local storage directory; other backends publish
// their own URLs, so nothing is mounted for them.
func filesHandler(cfg config.StorageConfig) http.Handler {
	if cfg.Backend != "local" {
		return nil
	}
	return http.FileServer(http.Dir(cfg.Local.Dir))
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/plumeworks/plume/internal/app"
	"github.com/plumeworks/plume/internal/observability"
	"github.com/plumeworks/plume/internal/platform/cache"
	"github.com/plumeworks/plume/internal/platform/db"
	"github.com/plumeworks/plume/internal/rbac"
	"github.com/plumeworks/plume/internal/shared"
	"github.com/plumeworks/plume/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("ensure schema", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.SeedOnStart {
		if err := rbac.Seed(ctx, pool); err != nil {
			logger.Error("seed catalog", slog.Any("error", err))
			os.Exit(1)
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL)

	roleRepo := rbac.NewRoleRepository(pool)
	permissionRepo := rbac.NewPermissionRepository(pool)
	grantRepo := rbac.NewRolePermissionRepository(pool)
	assignmentRepo := rbac.NewUserRoleRepository(pool)

	service := rbac.NewService(roleRepo, permissionRepo, grantRepo, assignmentRepo)
	resolver := rbac.NewResolver(assignmentRepo, permissionRepo, roleRepo)

	var checker rbac.AccessChecker = resolver
	var invalidator rbac.CacheInvalidator
	if redisClient != nil && cfg.AuthzCacheTTL > 0 {
		cached := rbac.NewCachedResolver(resolver, redisClient, cfg.AuthzCacheTTL)
		checker = cached
		invalidator = cached
	}

	metrics := observability.NewMetrics()
	guard := rbac.Middleware{Checker: checker, Logger: logger, Metrics: metrics}
	handler := rbac.NewHandler(logger, service, checker, invalidator, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		RBACHandler:    handler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

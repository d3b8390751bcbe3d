package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/msomdec/chatgate/internal/bootstrap"
	"github.com/msomdec/chatgate/internal/config"
	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/handler"
	"github.com/msomdec/chatgate/internal/repository/postgres"
	"github.com/msomdec/chatgate/internal/repository/redis"
	"github.com/msomdec/chatgate/internal/repository/sqlite"
	"github.com/msomdec/chatgate/internal/service"
	"github.com/msomdec/chatgate/internal/telemetry"
)

func main() {
	logOpts := &slog.HandlerOptions{Level: slog.LevelInfo}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "chatgate", cfg.OTelEndpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}()

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open profile store", "store", cfg.ProfileStore, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("profile store ready", "store", cfg.ProfileStore)

	limiter := service.NewMintLimiter(cfg.MintRate, cfg.MintBurst)
	identityService, err := service.NewIdentityService(cfg.SessionSecret, cfg.DeviceTokenTTL, limiter)
	if err != nil {
		slog.Error("failed to create identity service", "error", err)
		os.Exit(1)
	}
	profileService := service.NewProfileService(store)
	reconciler := service.NewProfileReconciler(store, cfg.DefaultLanguage)

	sessions := bootstrap.NewRegistry(cfg.SessionIdleTTL)
	orchestrator := bootstrap.NewOrchestrator(identityService, reconciler, bootstrap.Config{
		IdentityTimeout: cfg.IdentityTimeout,
		StoreTimeout:    cfg.StoreTimeout,
	})

	go sessions.Run(ctx)
	go limiter.Run(ctx)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Orchestrator:   orchestrator,
		Sessions:       sessions,
		Identity:       identityService,
		Profiles:       profileService,
		CookieSecure:   cfg.CookieSecure,
		DeviceTokenTTL: cfg.DeviceTokenTTL,
		CORSOrigins:    cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// openStore connects the configured profile store backend.
func openStore(ctx context.Context, cfg config.Config) (domain.Database, domain.ProfileStore, error) {
	switch cfg.ProfileStore {
	case config.StoreSQLite:
		db, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Profiles(), nil
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Profiles(), nil
	case config.StoreRedis:
		db, err := redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return db, db.Profiles(), nil
	}
	return nil, nil, fmt.Errorf("unknown profile store %q", cfg.ProfileStore)
}

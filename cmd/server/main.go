// Package main is the entry point for the rollcall sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/domain/auth"
	v1 "rollcall/internal/infrastructure/http/v1"
	"rollcall/internal/infrastructure/metrics"
	"rollcall/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting rollcall sync server", "storage", cfg.Storage.Driver, "env", cfg.Env)

	// --- Storage ---
	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer storage.Close()

	// --- Metrics and reconcile service ---
	m := metrics.New()
	service := storage.NewService(cfg, m)

	// In-memory storage is pruned in process.
	if cfg.Storage.Driver == config.DriverMemory {
		retention := storage.NewRetention(cfg)
		retention.OnPruned = m.Pruned
		go retention.Run(ctx)
	}

	// --- JWT Service ---
	jwtService := auth.NewJWTService(auth.JWTConfig{
		Secret:         cfg.Auth.JWTSecret,
		Issuer:         cfg.Auth.Issuer,
		AccessTokenTTL: cfg.Auth.TokenTTL,
	})

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger:        log,
		JWTValidator:  jwtService,
		Reconciler:    service,
		Storage:       storage.Pinger,
		StorageDriver: storage.Driver,
		PoolStats:     storage.PoolStats(),
		Metrics:       m,
		MaxBodyBytes:  cfg.Sync.MaxBodyBytes,
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	if storage.Pool != nil {
		go logPoolStats(ctx, storage)
	}

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func logPoolStats(ctx context.Context, storage *app.Storage) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			storage.Pool.LogStats(ctx)
		}
	}
}

// Package main is the entry point for the rollcall background worker.
// It prunes the idempotency ledger of a postgres deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		fmt.Printf("worker requires the %s storage driver; the server prunes in-memory storage itself\n", config.DriverPostgres)
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

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log.WithComponent("worker")))
	defer cancel()

	log.Infow("starting rollcall worker",
		"retention", cfg.Sync.LedgerRetention,
		"interval", cfg.Sync.PruneInterval,
	)

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to open storage", "error", err)
	}
	defer storage.Close()

	retention := storage.NewRetention(cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		retention.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

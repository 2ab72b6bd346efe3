// Package app assembles the storage driver and the reconcile service from
// configuration. It is shared by every binary under cmd/.
package app

import (
	"context"
	"fmt"

	"rollcall/internal/config"
	"rollcall/internal/core/tx"
	"rollcall/internal/domain/reconcile"
	"rollcall/internal/infrastructure/http/v1/handlers"
	"rollcall/internal/infrastructure/storage/memory"
	"rollcall/internal/infrastructure/storage/postgres"
	"rollcall/internal/infrastructure/storage/postgres/sync_repo"
	"rollcall/pkg/logger"
)

// Ledger claims operations and prunes old claims.
type Ledger interface {
	reconcile.Ledger
	reconcile.LedgerPruner
}

// Recorder writes and prunes the batch audit log.
type Recorder interface {
	reconcile.BatchRecorder
	reconcile.BatchPruner
}

// Storage is one opened storage driver.
type Storage struct {
	Driver    string
	TxManager tx.Manager
	Pinger    tx.Pinger
	Ledger    Ledger
	Writer    reconcile.EntityWriter
	Rows      reconcile.RowSource
	Recorder  Recorder

	// Pool and BatchLog are nil for the memory driver.
	Pool     *postgres.Pool
	BatchLog *postgres.BatchLog

	closers []func()
}

// Close releases the driver's resources in reverse order of acquisition.
func (s *Storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// PoolStats reports pool figures for /health/info, or nil for the memory driver.
func (s *Storage) PoolStats() handlers.PoolStatsFunc {
	if s.Pool == nil {
		return nil
	}
	return func() map[string]any {
		st := s.Pool.Stats()
		return map[string]any{
			"total_conns":    st.TotalConns,
			"acquired_conns": st.AcquiredConns,
			"idle_conns":     st.IdleConns,
			"max_conns":      st.MaxConns,
		}
	}
}

// OpenStorage opens the driver named by cfg.Storage.Driver.
func OpenStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn(ctx, "using in-memory storage; state is lost on restart")
		store := memory.New()
		return &Storage{
			Driver:    config.DriverMemory,
			TxManager: store,
			Pinger:    store,
			Ledger:    store,
			Writer:    store,
			Rows:      store,
			Recorder:  store,
		}, nil

	case config.DriverPostgres:
		return openPostgres(ctx, cfg)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenPool opens only the connection pool, for tooling that needs no more.
func OpenPool(ctx context.Context, cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Storage.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("storage driver %q has no database", cfg.Storage.Driver)
	}
	poolCfg := postgres.DefaultPoolConfig(cfg.Storage.DSN)
	poolCfg.MaxConns = cfg.Storage.MaxConns
	poolCfg.MinConns = cfg.Storage.MinConns
	return postgres.NewPool(ctx, poolCfg)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*Storage, error) {
	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Storage{Driver: config.DriverPostgres, Pool: pool, Pinger: pool}
	s.closers = append(s.closers, pool.Close)

	if cfg.Storage.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			s.Close()
			return nil, err
		}
		logger.Info(ctx, "migrations applied")
	}

	txOpts := postgres.DefaultTxOptions()
	txOpts.StatementTimeout = cfg.Storage.StatementTimeout
	txm := postgres.NewTxManager(pool, txOpts)

	repo, err := sync_repo.New(txm)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build sync repository: %w", err)
	}

	batchLog, err := postgres.NewBatchLog(txm)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build batch log: %w", err)
	}
	s.closers = append(s.closers, batchLog.Close)

	s.TxManager = txm
	s.Ledger = postgres.NewLedger(txm)
	s.Writer = repo
	s.Rows = repo
	s.Recorder = batchLog
	s.BatchLog = batchLog
	return s, nil
}

// NewService builds the reconcile orchestrator over s.
func (s *Storage) NewService(cfg *config.Config, observer reconcile.Observer) *reconcile.Service {
	return reconcile.NewService(reconcile.ServiceConfig{
		TxManager:     s.TxManager,
		Ledger:        s.Ledger,
		Writer:        s.Writer,
		Rows:          s.Rows,
		Recorder:      s.Recorder,
		Observer:      observer,
		MaxOperations: cfg.Sync.MaxOperations,
	})
}

// NewRetention builds the pruning job for the ledger and the batch log of s.
func (s *Storage) NewRetention(cfg *config.Config) *reconcile.Retention {
	r := reconcile.NewRetention(s.Ledger, nil, cfg.Sync.LedgerRetention, cfg.Sync.PruneInterval)
	r.Batches = s.Recorder
	return r
}

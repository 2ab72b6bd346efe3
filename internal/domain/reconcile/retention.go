package reconcile

import (
	"context"
	"fmt"
	"time"

	"rollcall/internal/core/clock"
	"rollcall/pkg/logger"
)

// LedgerPruner removes ledger entries applied before olderThanMs and reports
// how many were removed.
type LedgerPruner interface {
	Prune(ctx context.Context, olderThanMs int64) (int64, error)
}

// BatchPruner removes batch audit entries reconciled before olderThanMs.
type BatchPruner interface {
	PruneBatches(ctx context.Context, olderThanMs int64) (int64, error)
}

// PruneStats is the outcome of one retention pass.
type PruneStats struct {
	CutoffMs int64
	Ops      int64
	Batches  int64
}

// Retention bounds the idempotency ledger and the batch audit log. A retried
// operation older than the window is applied again, so the window must exceed
// any client's offline period.
type Retention struct {
	ledger   LedgerPruner
	clock    clock.Clock
	window   time.Duration
	interval time.Duration

	// Batches, when set, is pruned with the same cutoff as the ledger.
	Batches BatchPruner
	// OnPruned, when set, receives the stats of every successful pass.
	OnPruned func(PruneStats)
}

// NewRetention creates a pruning job. A nil clock reads the system clock.
func NewRetention(ledger LedgerPruner, clk clock.Clock, window, interval time.Duration) *Retention {
	if clk == nil {
		clk = clock.System{}
	}
	return &Retention{ledger: ledger, clock: clk, window: window, interval: interval}
}

// Cutoff is the applied-at stamp below which entries are removed.
func (r *Retention) Cutoff() int64 {
	return r.clock.NowMs() - r.window.Milliseconds()
}

// RunOnce performs one pruning pass.
func (r *Retention) RunOnce(ctx context.Context) (PruneStats, error) {
	stats := PruneStats{CutoffMs: r.Cutoff()}

	n, err := r.ledger.Prune(ctx, stats.CutoffMs)
	if err != nil {
		return PruneStats{}, fmt.Errorf("prune ledger before %d: %w", stats.CutoffMs, err)
	}
	stats.Ops = n

	if r.Batches != nil {
		n, err = r.Batches.PruneBatches(ctx, stats.CutoffMs)
		if err != nil {
			return PruneStats{}, fmt.Errorf("prune batches before %d: %w", stats.CutoffMs, err)
		}
		stats.Batches = n
	}

	if r.OnPruned != nil {
		r.OnPruned(stats)
	}
	logger.Info(ctx, "retention pass finished",
		"ops_removed", stats.Ops, "batches_removed", stats.Batches, "cutoff_ms", stats.CutoffMs)
	return stats, nil
}

// Run prunes immediately and then every interval until ctx is done. Failed
// passes are logged and retried on the next tick.
func (r *Retention) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error(ctx, "ledger retention pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

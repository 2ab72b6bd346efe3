package postgres

import (
	"context"
	"fmt"

	"rollcall/internal/domain/reconcile"
)

var _ reconcile.Ledger = (*Ledger)(nil)

// Ledger is the idempotency ledger backed by sync_applied_ops. Statements run
// in the transaction carried by ctx when there is one.
type Ledger struct {
	txManager *TxManager
}

// NewLedger creates a ledger.
func NewLedger(txManager *TxManager) *Ledger {
	return &Ledger{txManager: txManager}
}

// TryClaim records opID unless it is already present. The primary key on
// op_id settles concurrent claims of the same id: the loser inserts nothing.
func (l *Ledger) TryClaim(ctx context.Context, opID string, appliedAtMs int64) (bool, error) {
	tag, err := l.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sync_applied_ops (op_id, applied_at_ms)
		VALUES ($1, $2)
		ON CONFLICT (op_id) DO NOTHING
	`, opID, appliedAtMs)
	if err != nil {
		return false, fmt.Errorf("claim op %s: %w", opID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Prune removes ledger entries applied before olderThanMs and returns how
// many were removed. Callers keep the retention window far above any client
// retry horizon.
func (l *Ledger) Prune(ctx context.Context, olderThanMs int64) (int64, error) {
	tag, err := l.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sync_applied_ops WHERE applied_at_ms < $1
	`, olderThanMs)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return tag.RowsAffected(), nil
}

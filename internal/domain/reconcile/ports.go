package reconcile

import (
	"context"
	"time"

	"rollcall/internal/core/id"
	"rollcall/internal/domain/records"
)

// Ledger is the durable set of operation ids already applied.
//
// TryClaim runs inside the caller's transaction. It returns true and records
// opID when no prior entry exists, false without writing otherwise. Races
// between concurrent batches are settled by the storage uniqueness constraint.
type Ledger interface {
	TryClaim(ctx context.Context, opID string, appliedAtMs int64) (bool, error)
}

// Outcome is what a conditional write did to storage.
type Outcome int

const (
	// OutcomeSkipped means the incoming write was stale or identical to the
	// stored row; nothing was written and serverModifiedAtMs did not move.
	OutcomeSkipped Outcome = iota
	OutcomeInserted
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "skipped"
	}
}

// EntityWriter performs the per-kind last-writer-wins conditional writes.
// Both methods overwrite an existing row only when the incoming updatedAtMs
// is greater than or equal to the stored one and the data differs.
type EntityWriter interface {
	// Upsert writes every field of rec.
	Upsert(ctx context.Context, kind records.Kind, rec records.Record) (Outcome, error)
	// Tombstone inserts rec when the id is unseen; otherwise it only moves
	// updatedAtMs, deletedAtMs and serverModifiedAtMs.
	Tombstone(ctx context.Context, kind records.Kind, rec records.Record) (Outcome, error)
}

// RowSource returns the stored rows of one kind whose server stamp exceeds
// cursorMs, ascending by (serverModifiedAtMs, id).
type RowSource interface {
	RowsSince(ctx context.Context, kind records.Kind, cursorMs int64) ([]records.Record, error)
}

// BatchRecord is the audit entry written for each reconciled batch.
type BatchRecord struct {
	ID          id.ID
	UserID      string
	DeviceID    string
	ServerNowMs int64
	CursorMs    int64
	Operations  int
	Claimed     int
	Written     int
	Changes     int
	// Payload is the JSON of the operations; storage may compress it.
	Payload []byte
}

// BatchRecorder persists BatchRecords in the reconcile transaction.
type BatchRecorder interface {
	RecordBatch(ctx context.Context, b BatchRecord) error
}

// Observer receives reconcile outcomes after the transaction has settled.
type Observer interface {
	OperationApplied(kind records.Kind, action Action, outcome Outcome)
	OperationReplayed(kind records.Kind, action Action)
	ReconcileFinished(result string, elapsed time.Duration, changes int)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) OperationApplied(records.Kind, Action, Outcome) {}
func (NopObserver) OperationReplayed(records.Kind, Action) {}
func (NopObserver) ReconcileFinished(string, time.Duration, int) {}

// Package tx provides transaction management abstractions.
// Domain code depends on Manager; the storage drivers (postgres, memory)
// carry the active transaction inside the context they hand to fn.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a database transaction.
	// If fn returns an error, the transaction is rolled back and nothing
	// fn wrote is visible to any other reader.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pinger is implemented by storage drivers that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

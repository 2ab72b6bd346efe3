// Package memory is a process-local storage driver with the same
// transactional and last-writer-wins semantics as the postgres driver.
//
// A transaction takes the store lock, works on a copy of the state and swaps
// the copy in on commit, so a failed transaction leaves nothing behind.
// Transactions are serialized; the driver is meant for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"rollcall/internal/core/id"
	"rollcall/internal/core/tx"
	"rollcall/internal/domain/reconcile"
	"rollcall/internal/domain/records"
)

var (
	_ tx.Manager              = (*Store)(nil)
	_ tx.Pinger               = (*Store)(nil)
	_ reconcile.Ledger        = (*Store)(nil)
	_ reconcile.EntityWriter  = (*Store)(nil)
	_ reconcile.RowSource     = (*Store)(nil)
	_ reconcile.BatchRecorder = (*Store)(nil)
	_ reconcile.BatchPruner   = (*Store)(nil)
)

type state struct {
	ops     map[string]int64
	tables  map[records.Kind]map[id.ID]records.Record
	batches []reconcile.BatchRecord
}

func newState() *state {
	st := &state{
		ops:    make(map[string]int64),
		tables: make(map[records.Kind]map[id.ID]records.Record),
	}
	for _, def := range records.Catalogue() {
		st.tables[def.Kind] = make(map[id.ID]records.Record)
	}
	return st
}

// clone copies the maps. Stored records are never mutated in place, only
// replaced, so sharing them between copies is safe.
func (st *state) clone() *state {
	c := &state{
		ops:     make(map[string]int64, len(st.ops)),
		tables:  make(map[records.Kind]map[id.ID]records.Record, len(st.tables)),
		batches: slices.Clone(st.batches),
	}
	for k, v := range st.ops {
		c.ops[k] = v
	}
	for kind, rows := range st.tables {
		t := make(map[id.ID]records.Record, len(rows))
		for k, v := range rows {
			t[k] = v
		}
		c.tables[kind] = t
	}
	return c
}

// Store implements every storage port of the reconcile service.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store.
func New() *Store {
	return &Store{state: newState()}
}

type stateKey struct{}

func stateFrom(ctx context.Context) *state {
	if st, ok := ctx.Value(stateKey{}).(*state); ok {
		return st
	}
	return nil
}

// RunInTransaction implements tx.Manager. Nested calls reuse the outer
// transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	working := s.state.clone()
	if err := fn(context.WithValue(ctx, stateKey{}, working)); err != nil {
		return err
	}
	s.state = working
	return nil
}

// Ping implements tx.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) within(ctx context.Context, fn func(st *state) error) error {
	if st := stateFrom(ctx); st != nil {
		return fn(st)
	}
	return s.RunInTransaction(ctx, func(ctx context.Context) error {
		return fn(stateFrom(ctx))
	})
}

// TryClaim implements reconcile.Ledger.
func (s *Store) TryClaim(ctx context.Context, opID string, appliedAtMs int64) (bool, error) {
	var claimed bool
	err := s.within(ctx, func(st *state) error {
		if _, exists := st.ops[opID]; exists {
			return nil
		}
		st.ops[opID] = appliedAtMs
		claimed = true
		return nil
	})
	return claimed, err
}

// Prune removes ledger entries applied before olderThanMs.
func (s *Store) Prune(ctx context.Context, olderThanMs int64) (int64, error) {
	var n int64
	err := s.within(ctx, func(st *state) error {
		for opID, at := range st.ops {
			if at < olderThanMs {
				delete(st.ops, opID)
				n++
			}
		}
		return nil
	})
	return n, err
}

// Upsert implements reconcile.EntityWriter.
func (s *Store) Upsert(ctx context.Context, kind records.Kind, rec records.Record) (reconcile.Outcome, error) {
	def, ok := records.Lookup(kind)
	if !ok {
		return reconcile.OutcomeSkipped, fmt.Errorf("unknown kind %q", kind)
	}

	outcome := reconcile.OutcomeSkipped
	err := s.within(ctx, func(st *state) error {
		table := st.tables[kind]
		incoming := def.Clone(rec)
		b := incoming.Base()

		existing, found := table[b.ID]
		switch {
		case !found:
			outcome = reconcile.OutcomeInserted
		case b.UpdatedAtMs < existing.Base().UpdatedAtMs:
			return nil
		case sameData(def, existing, incoming):
			return nil
		default:
			outcome = reconcile.OutcomeUpdated
		}
		table[b.ID] = incoming
		return nil
	})
	return outcome, err
}

// Tombstone implements reconcile.EntityWriter. An existing row keeps its data
// columns and only takes the stamps of rec.
func (s *Store) Tombstone(ctx context.Context, kind records.Kind, rec records.Record) (reconcile.Outcome, error) {
	def, ok := records.Lookup(kind)
	if !ok {
		return reconcile.OutcomeSkipped, fmt.Errorf("unknown kind %q", kind)
	}

	outcome := reconcile.OutcomeSkipped
	err := s.within(ctx, func(st *state) error {
		table := st.tables[kind]
		in := rec.Base()

		existing, found := table[in.ID]
		if !found {
			table[in.ID] = def.Clone(rec)
			outcome = reconcile.OutcomeInserted
			return nil
		}

		next := def.Clone(existing)
		b := next.Base()
		b.UpdatedAtMs = in.UpdatedAtMs
		b.DeletedAtMs = in.DeletedAtMs
		if in.UpdatedAtMs < existing.Base().UpdatedAtMs || sameData(def, existing, next) {
			return nil
		}
		b.ServerModifiedAtMs = in.ServerModifiedAtMs
		table[in.ID] = next
		outcome = reconcile.OutcomeUpdated
		return nil
	})
	return outcome, err
}

// sameData compares two rows ignoring serverModifiedAtMs.
func sameData(def records.Def, a, b records.Record) bool {
	ac, bc := def.Clone(a), def.Clone(b)
	ac.Base().ServerModifiedAtMs = nil
	bc.Base().ServerModifiedAtMs = nil
	return reflect.DeepEqual(ac, bc)
}

// RowsSince implements reconcile.RowSource.
func (s *Store) RowsSince(ctx context.Context, kind records.Kind, cursorMs int64) ([]records.Record, error) {
	def, ok := records.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}

	var out []records.Record
	err := s.within(ctx, func(st *state) error {
		for _, r := range st.tables[kind] {
			if r.Base().ServerStamp() > cursorMs {
				out = append(out, def.Clone(r))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b records.Record) int {
		sa, sb := a.Base().ServerStamp(), b.Base().ServerStamp()
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
		ida, idb := a.Base().ID, b.Base().ID
		return bytes.Compare(ida[:], idb[:])
	})
	return out, nil
}

// RecordBatch implements reconcile.BatchRecorder.
func (s *Store) RecordBatch(ctx context.Context, b reconcile.BatchRecord) error {
	return s.within(ctx, func(st *state) error {
		st.batches = append(st.batches, b)
		return nil
	})
}

// PruneBatches removes audit entries reconciled before olderThanMs.
func (s *Store) PruneBatches(ctx context.Context, olderThanMs int64) (int64, error) {
	var n int64
	err := s.within(ctx, func(st *state) error {
		kept := st.batches[:0:0]
		for _, b := range st.batches {
			if b.ServerNowMs < olderThanMs {
				n++
				continue
			}
			kept = append(kept, b)
		}
		st.batches = kept
		return nil
	})
	return n, err
}

// Get returns a copy of the committed row, if any.
func (s *Store) Get(kind records.Kind, recordID id.ID) (records.Record, bool) {
	def, ok := records.Lookup(kind)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.state.tables[kind][recordID]
	if !found {
		return nil, false
	}
	return def.Clone(r), true
}

// Put stores rec as-is, bypassing last-writer-wins. It seeds legacy rows.
func (s *Store) Put(kind records.Kind, rec records.Record) {
	def, _ := records.Lookup(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tables[kind][rec.Base().ID] = def.Clone(rec)
}

// LedgerSize returns the number of committed ledger entries.
func (s *Store) LedgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.ops)
}

// Batches returns the committed batch audit entries.
func (s *Store) Batches() []reconcile.BatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.batches)
}

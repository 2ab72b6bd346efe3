package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rollcall/internal/core/apperror"
	"rollcall/internal/core/clock"
	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
	"rollcall/internal/domain/reconcile"
	"rollcall/internal/domain/records"
	"rollcall/internal/infrastructure/storage/memory"
	"rollcall/pkg/logger"
)

type harness struct {
	store *memory.Store
	clock *clock.Manual
	svc   *reconcile.Service
}

func newHarness(t *testing.T, wrap func(reconcile.EntityWriter) reconcile.EntityWriter) *harness {
	t.Helper()
	store := memory.New()
	clk := clock.NewManual(1_000)

	var writer reconcile.EntityWriter = store
	if wrap != nil {
		writer = wrap(store)
	}

	return &harness{
		store: store,
		clock: clk,
		svc: reconcile.NewService(reconcile.ServiceConfig{
			TxManager: store,
			Ledger:    store,
			Writer:    writer,
			Rows:      store,
			Clock:     clk,
			Recorder:  store,
		}),
	}
}

func (h *harness) sync(t *testing.T, cursor *int64, ops ...reconcile.Operation) *reconcile.Response {
	t.Helper()
	resp, err := h.svc.Reconcile(context.Background(), &reconcile.Request{CursorMs: cursor, Operations: ops})
	require.NoError(t, err)
	return resp
}

func (h *harness) person(t *testing.T, pid id.ID) *records.Person {
	t.Helper()
	r, ok := h.store.Get(records.KindPerson, pid)
	require.True(t, ok, "person %s not stored", pid)
	return r.(*records.Person)
}

func cursor(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }

func upsertPerson(opID string, pid id.ID, name string, updatedAtMs int64) reconcile.Operation {
	p := &records.Person{SyncFields: entity.SyncFields{ID: pid, UpdatedAtMs: updatedAtMs}, Name: name}
	return reconcile.NewUpsert(opID, records.KindPerson, p)
}

func deletePerson(opID string, pid id.ID, deletedAtMs int64) reconcile.Operation {
	return reconcile.NewDelete(opID, records.KindPerson, pid, deletedAtMs)
}

func TestReconcile_EmptyPull(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.sync(t, nil)

	assert.Equal(t, int64(1_000), resp.CursorMs)
	assert.Empty(t, resp.AckOpIDs)
	assert.NotNil(t, resp.AckOpIDs)
	assert.Equal(t, 0, resp.Changes.Total())
}

func TestReconcile_Idempotency(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()
	op := upsertPerson("op-1", pid, "Alice", 100)

	first := h.sync(t, nil, op)
	assert.Equal(t, []string{"op-1"}, first.AckOpIDs)
	require.Len(t, first.Changes.Persons, 1)
	before := h.person(t, pid)

	h.clock.Advance(500)
	retry := h.sync(t, nil, op)

	assert.Equal(t, []string{"op-1"}, retry.AckOpIDs, "replayed ops are still acknowledged")
	assert.Equal(t, before, h.person(t, pid))
	assert.Equal(t, 1, h.store.LedgerSize())

	batches := h.store.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, 1, batches[0].Claimed)
	assert.Equal(t, 0, batches[1].Claimed)
	assert.Equal(t, 0, batches[1].Written)
}

func TestReconcile_LastWriterWinsEitherOrder(t *testing.T) {
	orders := map[string][]int64{
		"newer first": {200, 100},
		"older first": {100, 200},
	}

	for name, stamps := range orders {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			pid := id.New()

			for i, ts := range stamps {
				h.clock.Advance(10)
				h.sync(t, nil, upsertPerson(fmt.Sprintf("op-%d", i), pid, fmt.Sprintf("v%d", ts), ts))
			}

			got := h.person(t, pid)
			assert.Equal(t, "v200", got.Name)
			assert.Equal(t, int64(200), got.UpdatedAtMs)
		})
	}
}

func TestReconcile_TieFavorsLaterWrite(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	h.sync(t, nil,
		upsertPerson("a", pid, "first", 100),
		upsertPerson("b", pid, "second", 100),
	)
	assert.Equal(t, "second", h.person(t, pid).Name)

	h.clock.Advance(10)
	h.sync(t, nil, upsertPerson("c", pid, "third", 100))
	assert.Equal(t, "third", h.person(t, pid).Name)
}

func TestReconcile_TombstonePrecedence(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	h.sync(t, nil, upsertPerson("create", pid, "Alice", 100))

	h.clock.Set(2_000)
	resp := h.sync(t, cursor(1_000), deletePerson("delete", pid, 150))
	require.Len(t, resp.Changes.Persons, 1)
	require.NotNil(t, resp.Changes.Persons[0].DeletedAtMs)
	assert.Equal(t, int64(150), *resp.Changes.Persons[0].DeletedAtMs)

	h.clock.Set(3_000)
	resp = h.sync(t, cursor(2_000), upsertPerson("late-edit", pid, "Zombie", 120))
	assert.Empty(t, resp.Changes.Persons, "stale upsert must not resurface the row")

	got := h.person(t, pid)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, int64(2_000), got.ServerStamp())
}

func TestReconcile_DeleteOfUnseenRecord(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	resp := h.sync(t, nil, deletePerson("del", pid, 40))
	require.Len(t, resp.Changes.Persons, 1)
	assert.True(t, resp.Changes.Persons[0].IsDeleted())

	h.clock.Advance(10)
	h.sync(t, nil, upsertPerson("old-create", pid, "Alice", 30))
	assert.True(t, h.person(t, pid).IsDeleted())
}

func TestReconcile_CursorCorrectness(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Set(5_000)

	first := h.sync(t, nil, upsertPerson("op-1", id.New(), "Alice", 1))
	s := first.CursorMs
	assert.Equal(t, int64(5_000), s)

	h.clock.Set(6_000)
	again := h.sync(t, cursor(s))
	assert.Equal(t, 0, again.Changes.Total())
	assert.Equal(t, int64(6_000), again.CursorMs)

	before := h.sync(t, cursor(s-1))
	require.Len(t, before.Changes.Persons, 1)
	assert.Equal(t, s, before.Changes.Persons[0].ServerStamp())
}

func TestReconcile_ChangesIncludeOwnWritesAndOthers(t *testing.T) {
	h := newHarness(t, nil)
	eventID := id.New()

	h.sync(t, nil, reconcile.NewUpsert("e", records.KindEvent, &records.Event{
		SyncFields: entity.SyncFields{ID: eventID, UpdatedAtMs: 1},
		Name:       "Practice",
	}))

	h.clock.Set(2_000)
	resp := h.sync(t, cursor(0), reconcile.NewUpsert("d", records.KindEventDay, &records.EventDay{
		SyncFields: entity.SyncFields{ID: id.New(), UpdatedAtMs: 1},
		EventID:    eventID,
		Label:      "Day 1",
	}))

	require.Len(t, resp.Changes.Events, 1)
	require.Len(t, resp.Changes.EventDays, 1)
	assert.Equal(t, int64(1_000), resp.Changes.Events[0].ServerStamp())
	assert.Equal(t, int64(2_000), resp.Changes.EventDays[0].ServerStamp())
}

func TestReconcile_ClientServerStampIgnored(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()
	op := upsertPerson("op", pid, "Alice", 1)
	op.Record.Base().StampServer(99_999)

	h.sync(t, nil, op)
	assert.Equal(t, int64(1_000), h.person(t, pid).ServerStamp())
}

func TestReconcile_NoOpWriteDoesNotAdvanceVisibility(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	h.sync(t, nil, upsertPerson("v1", pid, "Alice", 100))

	h.clock.Set(2_000)
	resp := h.sync(t, cursor(1_000),
		upsertPerson("stale", pid, "Old", 50),
		upsertPerson("same", pid, "Alice", 100),
	)
	assert.Empty(t, resp.Changes.Persons)
	assert.Equal(t, int64(1_000), h.person(t, pid).ServerStamp())
}

func TestReconcile_AliceScenario(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	h.sync(t, nil, upsertPerson("a-op", pid, "Alice", 100))

	h.clock.Advance(100)
	b := &records.Person{SyncFields: entity.SyncFields{ID: pid, UpdatedAtMs: 90}, Name: "P1", Phone: strPtr("555")}
	h.sync(t, nil, reconcile.NewUpsert("b-op", records.KindPerson, b))

	got := h.person(t, pid)
	assert.Equal(t, "Alice", got.Name)
	assert.Nil(t, got.Phone)
	assert.Equal(t, int64(100), got.UpdatedAtMs)
}

type failingWriter struct {
	reconcile.EntityWriter
	failOn int
	calls  int
}

func (w *failingWriter) Upsert(ctx context.Context, kind records.Kind, rec records.Record) (reconcile.Outcome, error) {
	w.calls++
	if w.calls == w.failOn {
		return reconcile.OutcomeSkipped, errors.New("connection reset")
	}
	return w.EntityWriter.Upsert(ctx, kind, rec)
}

func TestReconcile_AtomicityOnStorageFailure(t *testing.T) {
	fw := &failingWriter{failOn: 2}
	h := newHarness(t, func(w reconcile.EntityWriter) reconcile.EntityWriter {
		fw.EntityWriter = w
		return fw
	})

	p1, p2 := id.New(), id.New()
	_, err := h.svc.Reconcile(context.Background(), &reconcile.Request{Operations: []reconcile.Operation{
		upsertPerson("op-1", p1, "Alice", 1),
		upsertPerson("op-2", p2, "Bob", 1),
	}})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)

	_, found := h.store.Get(records.KindPerson, p1)
	assert.False(t, found, "first write must be rolled back")
	assert.Equal(t, 0, h.store.LedgerSize())
	assert.Empty(t, h.store.Batches())

	resp := h.sync(t, nil,
		upsertPerson("op-1", p1, "Alice", 1),
		upsertPerson("op-2", p2, "Bob", 1),
	)
	assert.Len(t, resp.Changes.Persons, 2, "retry after failure applies everything")
}

func TestReconcile_LegacyRowsAreNormalized(t *testing.T) {
	h := newHarness(t, nil)
	legacy := &records.Person{SyncFields: entity.SyncFields{ID: id.New(), UpdatedAtMs: 1}, Name: "  "}
	legacy.StampServer(10)
	h.store.Put(records.KindPerson, legacy)

	resp := h.sync(t, nil)
	require.Len(t, resp.Changes.Persons, 1)
	assert.Equal(t, "Unknown", resp.Changes.Persons[0].Name)
}

func TestReconcile_UndecodableRowFailsWholeRead(t *testing.T) {
	h := newHarness(t, nil)
	broken := &records.EventDay{SyncFields: entity.SyncFields{ID: id.New(), UpdatedAtMs: 1}, Label: "Day"}
	broken.StampServer(10)
	h.store.Put(records.KindEventDay, broken)

	pid := id.New()
	_, err := h.svc.Reconcile(context.Background(), &reconcile.Request{Operations: []reconcile.Operation{
		upsertPerson("op", pid, "Alice", 1),
	}})
	require.Error(t, err)

	var decodeErr *records.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, records.KindEventDay, decodeErr.Kind)

	_, found := h.store.Get(records.KindPerson, pid)
	assert.False(t, found)
}

func TestValidate_RejectsBadBatches(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	tests := []struct {
		name string
		req  *reconcile.Request
	}{
		{"nil request", nil},
		{"negative cursor", &reconcile.Request{CursorMs: cursor(-1)}},
		{"blank opId", &reconcile.Request{Operations: []reconcile.Operation{upsertPerson(" ", pid, "A", 1)}}},
		{"duplicate opId", &reconcile.Request{Operations: []reconcile.Operation{
			upsertPerson("x", pid, "A", 1),
			deletePerson("x", pid, 2),
		}}},
		{"invalid payload", &reconcile.Request{Operations: []reconcile.Operation{upsertPerson("x", pid, "", 1)}}},
		{"unknown tag", &reconcile.Request{Operations: []reconcile.Operation{{Type: "InvoiceUpsert", OpID: "x"}}}},
		{"payload of wrong kind", &reconcile.Request{Operations: []reconcile.Operation{
			reconcile.NewUpsert("x", records.KindEvent, &records.Person{SyncFields: entity.SyncFields{ID: pid}, Name: "A"}),
		}}},
		{"delete without id", &reconcile.Request{Operations: []reconcile.Operation{deletePerson("x", id.Nil(), 5)}}},
		{"NUL in opId", &reconcile.Request{Operations: []reconcile.Operation{upsertPerson("op\x001", pid, "A", 1)}}},
		{"NUL in text", &reconcile.Request{Operations: []reconcile.Operation{upsertPerson("x", pid, "Al\x00ice", 1)}}},
		{"deleted upsert stamped before its deletion", &reconcile.Request{Operations: []reconcile.Operation{
			reconcile.NewUpsert("x", records.KindPerson, &records.Person{
				SyncFields: entity.SyncFields{ID: pid, UpdatedAtMs: 5, DeletedAtMs: cursor(9)},
				Name:       "A",
			}),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Reconcile(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperror.IsValidation(err))
			assert.Equal(t, http.StatusBadRequest, apperror.GetHTTPStatus(err))
		})
	}

	assert.Equal(t, 0, h.store.LedgerSize(), "rejected batches never open a transaction")
}

func TestValidate_AcceptsDeletedUpserts(t *testing.T) {
	h := newHarness(t, nil)
	pid := id.New()

	photo := &records.Photo{SyncFields: entity.SyncFields{ID: pid, UpdatedAtMs: 9, DeletedAtMs: cursor(9)}, MimeType: "image/png"}
	resp := h.sync(t, nil, reconcile.NewUpsert("op-1", records.KindPhoto, photo))

	require.Len(t, resp.Changes.Photos, 1)
	got := resp.Changes.Photos[0]
	assert.True(t, got.IsDeleted())
	assert.NotNil(t, got.Data)
}

func TestReconcile_FailureLoggedOnceByCaller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.WithLogger(context.Background(), &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	fw := &failingWriter{failOn: 1}
	h := newHarness(t, func(w reconcile.EntityWriter) reconcile.EntityWriter {
		fw.EntityWriter = w
		return fw
	})

	_, err := h.svc.Reconcile(ctx, &reconcile.Request{Operations: []reconcile.Operation{
		upsertPerson("op-1", id.New(), "Alice", 1),
	}})
	require.Error(t, err)
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "the HTTP error handler logs the failure")
}

func TestValidate_MaxOperations(t *testing.T) {
	store := memory.New()
	svc := reconcile.NewService(reconcile.ServiceConfig{
		TxManager: store, Ledger: store, Writer: store, Rows: store,
		MaxOperations: 1,
	})

	err := svc.Validate(&reconcile.Request{Operations: []reconcile.Operation{
		upsertPerson("a", id.New(), "A", 1),
		upsertPerson("b", id.New(), "B", 1),
	}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, apperror.GetHTTPStatus(err))
}

type recordingObserver struct {
	reconcile.NopObserver
	applied  map[reconcile.Outcome]int
	replayed int
	results  []string
}

func (o *recordingObserver) OperationApplied(_ records.Kind, _ reconcile.Action, out reconcile.Outcome) {
	o.applied[out]++
}

func (o *recordingObserver) OperationReplayed(records.Kind, reconcile.Action) { o.replayed++ }

func (o *recordingObserver) ReconcileFinished(result string, _ time.Duration, _ int) {
	o.results = append(o.results, result)
}

func TestReconcile_ReportsOutcomesToObserver(t *testing.T) {
	store := memory.New()
	obs := &recordingObserver{applied: map[reconcile.Outcome]int{}}
	svc := reconcile.NewService(reconcile.ServiceConfig{
		TxManager: store, Ledger: store, Writer: store, Rows: store,
		Clock:    clock.NewManual(10),
		Observer: obs,
	})
	pid := id.New()
	ctx := context.Background()

	_, err := svc.Reconcile(ctx, &reconcile.Request{Operations: []reconcile.Operation{
		upsertPerson("1", pid, "A", 1),
		upsertPerson("2", pid, "B", 2),
		upsertPerson("3", pid, "stale", 0),
	}})
	require.NoError(t, err)
	_, err = svc.Reconcile(ctx, &reconcile.Request{Operations: []reconcile.Operation{upsertPerson("1", pid, "A", 1)}})
	require.NoError(t, err)

	assert.Equal(t, 1, obs.applied[reconcile.OutcomeInserted])
	assert.Equal(t, 1, obs.applied[reconcile.OutcomeUpdated])
	assert.Equal(t, 1, obs.applied[reconcile.OutcomeSkipped])
	assert.Equal(t, 1, obs.replayed)
	assert.Equal(t, []string{"ok", "ok"}, obs.results)
}

package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/core/id"
	"rollcall/internal/domain/reconcile"
	"rollcall/internal/infrastructure/storage/postgres/migrations"
)

func newMock(t *testing.T) (*TxManager, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewTxManagerFromDB(mock, DefaultTxOptions()), mock
}

func expectBegin(mock pgxmock.PgxPoolIface) {
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	mock.ExpectExec("SET LOCAL statement_timeout").WillReturnResult(pgxmock.NewResult("SET", 0))
}

func TestTxManager_CommitsOnSuccess(t *testing.T) {
	txm, mock := newMock(t)
	expectBegin(mock)
	mock.ExpectExec("INSERT INTO sync_applied_ops").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	ledger := NewLedger(txm)
	err := txm.RunInTransaction(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, txm.GetTx(ctx))
		claimed, err := ledger.TryClaim(ctx, "op-1", 10)
		assert.True(t, claimed)
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	txm, mock := newMock(t)
	expectBegin(mock)
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := txm.RunInTransaction(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_NestedCallReusesTransaction(t *testing.T) {
	txm, mock := newMock(t)
	expectBegin(mock)
	mock.ExpectCommit()

	err := txm.RunInTransaction(context.Background(), func(outer context.Context) error {
		return txm.RunInTransaction(outer, func(inner context.Context) error {
			assert.Equal(t, txm.GetTx(outer), txm.GetTx(inner))
			return nil
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxManager_BeginFailure(t *testing.T) {
	txm, mock := newMock(t)
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}).
		WillReturnError(errors.New("too many connections"))

	called := false
	err := txm.RunInTransaction(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestTxManager_QuerierOutsideTransaction(t *testing.T) {
	txm, _ := newMock(t)
	assert.Nil(t, txm.GetTx(context.Background()))
	assert.NotNil(t, txm.GetQuerier(context.Background()))
}

func TestLedger_TryClaim(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"first claim", 1, true},
		{"already applied", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txm, mock := newMock(t)
			mock.ExpectExec("INSERT INTO sync_applied_ops").
				WithArgs("op-7", int64(1_000)).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			claimed, err := NewLedger(txm).TryClaim(context.Background(), "op-7", 1_000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLedger_TryClaimError(t *testing.T) {
	txm, mock := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO sync_applied_ops").WillReturnError(boom)

	_, err := NewLedger(txm).TryClaim(context.Background(), "op", 1)
	assert.ErrorIs(t, err, boom)
}

func TestLedger_Prune(t *testing.T) {
	txm, mock := newMock(t)
	mock.ExpectExec("DELETE FROM sync_applied_ops").
		WithArgs(int64(500)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewLedger(txm).Prune(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLog_CompressesLargePayloads(t *testing.T) {
	txm, _ := newMock(t)
	log, err := NewBatchLog(txm)
	require.NoError(t, err)
	defer log.Close()

	small := log.encode(reconcile.BatchRecord{Payload: []byte(`[]`)})
	assert.Equal(t, CompressionNone, small.CompressionAlgo)
	assert.False(t, id.IsNil(small.ID))

	payload := bytes.Repeat([]byte(`{"type":"PersonUpsert"}`), 1_000)
	large := log.encode(reconcile.BatchRecord{Payload: payload})
	assert.Equal(t, CompressionZstd, large.CompressionAlgo)
	assert.Less(t, len(large.Payload), len(payload))

	require.NoError(t, log.decode(&large))
	assert.Equal(t, payload, large.Payload)
	assert.Equal(t, CompressionNone, large.CompressionAlgo)
}

func TestBatchLog_RecordBatch(t *testing.T) {
	txm, mock := newMock(t)
	log, err := NewBatchLog(txm)
	require.NoError(t, err)
	defer log.Close()

	mock.ExpectExec("INSERT INTO sync_batches").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = log.RecordBatch(context.Background(), reconcile.BatchRecord{
		ID:          id.New(),
		DeviceID:    "tablet-1",
		ServerNowMs: 10,
		Operations:  2,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLog_PruneBatches(t *testing.T) {
	txm, mock := newMock(t)
	log, err := NewBatchLog(txm)
	require.NoError(t, err)
	defer log.Close()

	mock.ExpectExec(`DELETE FROM sync_batches WHERE server_now_ms < \$1`).
		WithArgs(int64(500)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := log.PruneBatches(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_Embedded(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "00001_sync_ledger.sql")
	assert.Contains(t, names, "00002_sync_entities.sql")
	assert.Contains(t, names, "00003_change_feed_indexes.sql")
	assert.Contains(t, names, "00004_sync_batches_retention.sql")
}

func TestRunMigrations(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, runMigrations(context.Background(), nil))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.EqualError(t, runMigrations(context.Background(), nil), "apply migrations: boom")
}

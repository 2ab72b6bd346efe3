package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"rollcall/internal/core/id"
	"rollcall/internal/domain/reconcile"
)

var (
	_ reconcile.BatchRecorder = (*BatchLog)(nil)
	_ reconcile.BatchPruner   = (*BatchLog)(nil)
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// defaultCompressThreshold is the payload size above which batches are
// stored zstd-compressed.
const defaultCompressThreshold = 10 * 1024

// BatchEntry is one row of sync_batches.
type BatchEntry struct {
	ID              id.ID           `db:"id"`
	UserID          string          `db:"user_id"`
	DeviceID        string          `db:"device_id"`
	ServerNowMs     int64           `db:"server_now_ms"`
	CursorMs        int64           `db:"cursor_ms"`
	Operations      int             `db:"operations"`
	Claimed         int             `db:"claimed"`
	Written         int             `db:"written"`
	Changes         int             `db:"changes"`
	Payload         []byte          `db:"payload"`
	CompressionAlgo CompressionAlgo `db:"compression_algo"`
}

// BatchLog is the audit trail of reconciled batches.
type BatchLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewBatchLog creates a batch log.
func NewBatchLog(txManager *TxManager) (*BatchLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &BatchLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Close releases the zstd decoder goroutines.
func (l *BatchLog) Close() {
	l.decoder.Close()
}

// RecordBatch implements reconcile.BatchRecorder.
func (l *BatchLog) RecordBatch(ctx context.Context, b reconcile.BatchRecord) error {
	entry := l.encode(b)

	query, args, err := sq.Insert("sync_batches").
		Columns(
			"id", "user_id", "device_id", "server_now_ms", "cursor_ms",
			"operations", "claimed", "written", "changes",
			"payload", "compression_algo",
		).
		Values(
			entry.ID, entry.UserID, entry.DeviceID, entry.ServerNowMs, entry.CursorMs,
			entry.Operations, entry.Claimed, entry.Written, entry.Changes,
			entry.Payload, entry.CompressionAlgo,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build batch insert: %w", err)
	}

	if _, err := l.txManager.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// PruneBatches implements reconcile.BatchPruner.
func (l *BatchLog) PruneBatches(ctx context.Context, olderThanMs int64) (int64, error) {
	query, args, err := sq.Delete("sync_batches").
		Where(sq.Lt{"server_now_ms": olderThanMs}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build batch prune: %w", err)
	}

	tag, err := l.txManager.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (l *BatchLog) encode(b reconcile.BatchRecord) BatchEntry {
	entry := BatchEntry{
		ID:              b.ID,
		UserID:          b.UserID,
		DeviceID:        b.DeviceID,
		ServerNowMs:     b.ServerNowMs,
		CursorMs:        b.CursorMs,
		Operations:      b.Operations,
		Claimed:         b.Claimed,
		Written:         b.Written,
		Changes:         b.Changes,
		Payload:         b.Payload,
		CompressionAlgo: CompressionNone,
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if len(b.Payload) > l.compressThreshold {
		entry.Payload = l.encoder.EncodeAll(b.Payload, nil)
		entry.CompressionAlgo = CompressionZstd
	}
	return entry
}

// Recent returns the latest batches of a device (all devices when deviceID
// is empty), newest first, with payloads decompressed.
func (l *BatchLog) Recent(ctx context.Context, deviceID string, limit uint64) ([]BatchEntry, error) {
	builder := sq.Select(
		"id", "user_id", "device_id", "server_now_ms", "cursor_ms",
		"operations", "claimed", "written", "changes",
		"payload", "compression_algo",
	).
		From("sync_batches").
		OrderBy("server_now_ms DESC", "id DESC").
		Limit(limit).
		PlaceholderFormat(sq.Dollar)
	if deviceID != "" {
		builder = builder.Where(sq.Eq{"device_id": deviceID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build batch query: %w", err)
	}

	var entries []BatchEntry
	if err := pgxscan.Select(ctx, l.txManager.GetQuerier(ctx), &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}

	for i := range entries {
		if err := l.decode(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (l *BatchLog) decode(e *BatchEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.Payload) == 0 {
		return nil
	}
	payload, err := l.decoder.DecodeAll(e.Payload, nil)
	if err != nil {
		return fmt.Errorf("decompress batch %s: %w", e.ID, err)
	}
	e.Payload = payload
	e.CompressionAlgo = CompressionNone
	return nil
}

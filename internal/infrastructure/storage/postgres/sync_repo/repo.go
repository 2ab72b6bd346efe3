package sync_repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"rollcall/internal/domain/reconcile"
	"rollcall/internal/domain/records"
	"rollcall/internal/infrastructure/storage/postgres"
)

var (
	_ reconcile.EntityWriter = (*Repo)(nil)
	_ reconcile.RowSource    = (*Repo)(nil)
)

// Repo implements the entity writer and the change-feed row source for every
// kind in the catalogue.
type Repo struct {
	txManager *postgres.TxManager
	tables    map[records.Kind]*table
}

// New builds the per-kind statements. It fails only when the catalogue and
// TableNames disagree.
func New(txManager *postgres.TxManager) (*Repo, error) {
	r := &Repo{
		txManager: txManager,
		tables:    make(map[records.Kind]*table),
	}
	for _, def := range records.Catalogue() {
		t, err := newTable(def)
		if err != nil {
			return nil, err
		}
		r.tables[def.Kind] = t
	}
	return r, nil
}

// Builder returns a new squirrel builder with PostgreSQL placeholder format.
func (r *Repo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *Repo) table(kind records.Kind) (*table, error) {
	t, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return t, nil
}

// UpsertQuery builds the conditional insert-or-overwrite for rec.
func (r *Repo) UpsertQuery(kind records.Kind, rec records.Record) (string, []any, error) {
	t, err := r.table(kind)
	if err != nil {
		return "", nil, err
	}
	return r.insertQuery(t, rec, t.upsertSuffix)
}

// TombstoneQuery builds the conditional tombstone for rec.
func (r *Repo) TombstoneQuery(kind records.Kind, rec records.Record) (string, []any, error) {
	t, err := r.table(kind)
	if err != nil {
		return "", nil, err
	}
	return r.insertQuery(t, rec, t.tombstoneSuffix)
}

func (r *Repo) insertQuery(t *table, rec records.Record, suffix string) (string, []any, error) {
	vals, err := t.values(rec)
	if err != nil {
		return "", nil, err
	}

	sql, args, err := r.Builder().
		Insert(t.name+" AS t").
		Columns(t.cols...).
		Values(vals...).
		Suffix(suffix).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build insert %s: %w", t.name, err)
	}
	return sql, args, nil
}

// Upsert implements reconcile.EntityWriter.
func (r *Repo) Upsert(ctx context.Context, kind records.Kind, rec records.Record) (reconcile.Outcome, error) {
	sql, args, err := r.UpsertQuery(kind, rec)
	if err != nil {
		return reconcile.OutcomeSkipped, err
	}
	return r.write(ctx, sql, args)
}

// Tombstone implements reconcile.EntityWriter.
func (r *Repo) Tombstone(ctx context.Context, kind records.Kind, rec records.Record) (reconcile.Outcome, error) {
	sql, args, err := r.TombstoneQuery(kind, rec)
	if err != nil {
		return reconcile.OutcomeSkipped, err
	}
	return r.write(ctx, sql, args)
}

// write runs a conditional statement. No returned row means the ON CONFLICT
// condition rejected the write.
func (r *Repo) write(ctx context.Context, sql string, args []any) (reconcile.Outcome, error) {
	var inserted bool
	err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return reconcile.OutcomeSkipped, nil
	case err != nil:
		return reconcile.OutcomeSkipped, err
	case inserted:
		return reconcile.OutcomeInserted, nil
	default:
		return reconcile.OutcomeUpdated, nil
	}
}

// ChangesQuery builds the change-feed read of one kind.
func (r *Repo) ChangesQuery(kind records.Kind, cursorMs int64) (string, []any, error) {
	t, err := r.table(kind)
	if err != nil {
		return "", nil, err
	}

	sql, args, err := r.Builder().
		Select(t.cols...).
		From(t.name).
		Where(squirrel.Gt{colServerModified: cursorMs}).
		OrderBy(colServerModified, colID).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build changes query %s: %w", t.name, err)
	}
	return sql, args, nil
}

// RowsSince implements reconcile.RowSource.
func (r *Repo) RowsSince(ctx context.Context, kind records.Kind, cursorMs int64) ([]records.Record, error) {
	t, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	sql, args, err := r.ChangesQuery(kind, cursorMs)
	if err != nil {
		return nil, err
	}

	rows, err := r.txManager.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []records.Record
	scanner := pgxscan.NewRowScanner(rows)
	for rows.Next() {
		rec := t.def.New()
		if err := scanner.Scan(rec); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return out, nil
}

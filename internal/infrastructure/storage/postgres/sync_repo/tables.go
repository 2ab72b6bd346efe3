// Package sync_repo provides the PostgreSQL conditional writes and change
// feed reads over the per-kind entity tables.
package sync_repo

import (
	"fmt"
	"slices"
	"strings"

	"rollcall/internal/domain/records"
	"rollcall/internal/infrastructure/storage/postgres"
)

// TableNames maps every kind to its table. The migrations create exactly
// these tables.
var TableNames = map[records.Kind]string{
	records.KindEvent:          "sync_events",
	records.KindEventDay:       "sync_event_days",
	records.KindPerson:         "sync_persons",
	records.KindAttendee:       "sync_attendees",
	records.KindAttendanceMark: "sync_attendance_marks",
	records.KindGroup:          "sync_groups",
	records.KindGroupMember:    "sync_group_members",
	records.KindCategory:       "sync_categories",
	records.KindPhoto:          "sync_photos",
}

const (
	colID             = "id"
	colUpdatedAt      = "updated_at_ms"
	colDeletedAt      = "deleted_at_ms"
	colServerModified = "server_modified_at_ms"
)

// table holds the statements of one kind, computed once at startup.
type table struct {
	def  records.Def
	name string
	// cols are all columns in struct order.
	cols []string

	upsertSuffix    string
	tombstoneSuffix string
}

func newTable(def records.Def) (*table, error) {
	name, ok := TableNames[def.Kind]
	if !ok {
		return nil, fmt.Errorf("no table for kind %s", def.Kind)
	}

	cols := postgres.ColumnsOf(def.New())
	for _, required := range []string{colID, colUpdatedAt, colDeletedAt, colServerModified} {
		if !slices.Contains(cols, required) {
			return nil, fmt.Errorf("%s: missing column %s", def.Kind, required)
		}
	}

	var data []string
	for _, c := range cols {
		if c != colID && c != colServerModified {
			data = append(data, c)
		}
	}

	return &table{
		def:             def,
		name:            name,
		cols:            cols,
		upsertSuffix:    conflictClause(data, data),
		tombstoneSuffix: conflictClause([]string{colUpdatedAt, colDeletedAt}, []string{colUpdatedAt, colDeletedAt}),
	}, nil
}

// conflictClause renders the last-writer-wins ON CONFLICT tail. set is
// overwritten (plus the server stamp) only when the incoming write is not
// older and compare actually differs; otherwise no row is returned.
func conflictClause(set, compare []string) string {
	var b strings.Builder

	b.WriteString("ON CONFLICT (id) DO UPDATE SET ")
	for _, c := range set {
		fmt.Fprintf(&b, "%s = EXCLUDED.%s, ", c, c)
	}
	fmt.Fprintf(&b, "%s = EXCLUDED.%s", colServerModified, colServerModified)

	fmt.Fprintf(&b, " WHERE EXCLUDED.%s >= t.%s", colUpdatedAt, colUpdatedAt)
	fmt.Fprintf(&b, " AND (%s) IS DISTINCT FROM (%s)", prefixed("t.", compare), prefixed("EXCLUDED.", compare))

	// xmax is 0 only for a freshly inserted row version.
	b.WriteString(" RETURNING (xmax = 0) AS inserted")
	return b.String()
}

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

// values returns rec's column values in t.cols order. Every BYTEA column is
// NOT NULL and pgx encodes a nil slice as NULL, so nil slices become empty.
func (t *table) values(rec records.Record) ([]any, error) {
	m := postgres.StructToMap(rec)
	vals := make([]any, len(t.cols))
	for i, c := range t.cols {
		v, ok := m[c]
		if !ok {
			return nil, fmt.Errorf("%s: record has no value for %s", t.def.Kind, c)
		}
		if b, isBytes := v.([]byte); isBytes && b == nil {
			v = []byte{}
		}
		vals[i] = v
	}
	return vals, nil
}

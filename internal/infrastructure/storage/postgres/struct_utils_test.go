package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/core/entity"
	"rollcall/internal/core/id"
)

type mockRecord struct {
	entity.SyncFields
	Name    string  `db:"name" json:"name"`
	Note    *string `db:"note" json:"note"`
	Ignored string  `db:"-"`
	NoTag   string
}

func TestExtractDBColumns_SyncFields(t *testing.T) {
	cols := ExtractDBColumns[mockRecord]()

	assert.Equal(t, []string{
		"id", "updated_at_ms", "deleted_at_ms", "server_modified_at_ms", "name", "note",
	}, cols)
}

func TestColumnsOf_Pointer(t *testing.T) {
	assert.Equal(t, ExtractDBColumns[mockRecord](), ColumnsOf(&mockRecord{}))
	assert.Nil(t, ColumnsOf(nil))
	assert.Nil(t, ColumnsOf(42))
}

func TestStructToMap_SyncFields(t *testing.T) {
	deleted := int64(77)
	rec := &mockRecord{
		SyncFields: entity.SyncFields{
			ID:          id.New(),
			UpdatedAtMs: 77,
			DeletedAtMs: &deleted,
		},
		Name:    "Test Name",
		Ignored: "x",
	}

	m := StructToMap(rec)

	assert.Equal(t, rec.ID, m["id"])
	assert.Equal(t, int64(77), m["updated_at_ms"])
	assert.Equal(t, &deleted, m["deleted_at_ms"])
	assert.Equal(t, "Test Name", m["name"])
	assert.Nil(t, m["note"])
	assert.NotContains(t, m, "-")
	assert.Len(t, m, 6)
}

func TestStructToMap_NilPointer(t *testing.T) {
	var rec *mockRecord
	assert.Nil(t, StructToMap(rec))
}

// Package entity provides the fields shared by every synchronizable record.
package entity

import (
	"errors"
	"fmt"

	"rollcall/internal/core/id"
)

// SyncFields is embedded in every synchronizable record.
//
// UpdatedAtMs is the logical write stamp assigned by the writing client and is
// the only input to last-writer-wins. ServerModifiedAtMs is assigned by the
// server when a write is accepted and drives the change feed; whatever a
// client sends there is discarded.
type SyncFields struct {
	ID                 id.ID  `db:"id" json:"id"`
	UpdatedAtMs        int64  `db:"updated_at_ms" json:"updatedAtMs"`
	DeletedAtMs        *int64 `db:"deleted_at_ms" json:"deletedAtMs"`
	ServerModifiedAtMs *int64 `db:"server_modified_at_ms" json:"serverModifiedAtMs"`
}

// Base returns the embedded sync fields. Records satisfy records.Record through it.
func (s *SyncFields) Base() *SyncFields {
	return s
}

// IsDeleted returns true if the record is tombstoned.
func (s *SyncFields) IsDeleted() bool {
	return s.DeletedAtMs != nil
}

// Tombstone marks the record deleted at deletedAtMs. Deletion is a write, so
// the logical stamp moves with it.
func (s *SyncFields) Tombstone(deletedAtMs int64) {
	d := deletedAtMs
	s.DeletedAtMs = &d
	s.UpdatedAtMs = deletedAtMs
}

// StampServer records the server acceptance time.
func (s *SyncFields) StampServer(nowMs int64) {
	n := nowMs
	s.ServerModifiedAtMs = &n
}

// ServerStamp returns ServerModifiedAtMs or 0 when unset.
func (s *SyncFields) ServerStamp() int64 {
	if s.ServerModifiedAtMs == nil {
		return 0
	}
	return *s.ServerModifiedAtMs
}

// ErrInvalidSyncFields is wrapped by ValidateSync failures.
var ErrInvalidSyncFields = errors.New("invalid sync fields")

// ValidateSync checks the invariants every record kind shares.
func (s *SyncFields) ValidateSync() error {
	if id.IsNil(s.ID) {
		return fmt.Errorf("%w: id is required", ErrInvalidSyncFields)
	}
	if s.UpdatedAtMs < 0 {
		return fmt.Errorf("%w: updatedAtMs must not be negative", ErrInvalidSyncFields)
	}
	if s.DeletedAtMs != nil && *s.DeletedAtMs < 0 {
		return fmt.Errorf("%w: deletedAtMs must not be negative", ErrInvalidSyncFields)
	}
	return nil
}

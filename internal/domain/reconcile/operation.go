// Package reconcile applies client mutation batches exactly once under
// last-writer-wins and returns the change delta the client has not seen.
package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rollcall/internal/core/id"
	"rollcall/internal/domain/records"
)

// Action distinguishes the two mutations a client can request.
type Action string

const (
	ActionUpsert Action = "Upsert"
	ActionDelete Action = "Delete"
)

// OpType is the envelope discriminator, e.g. "PersonUpsert".
type OpType string

// TagFor builds the operation tag of kind and action.
func TagFor(kind records.Kind, action Action) OpType {
	return OpType(string(kind) + string(action))
}

// ErrUnknownOperation is returned for envelope tags outside the catalogue.
var ErrUnknownOperation = errors.New("unknown operation type")

// ParseTag splits an operation tag into its entity kind and action.
func ParseTag(t OpType) (records.Def, Action, error) {
	s := string(t)
	for _, action := range []Action{ActionUpsert, ActionDelete} {
		kind, ok := strings.CutSuffix(s, string(action))
		if !ok {
			continue
		}
		if def, found := records.Lookup(records.Kind(kind)); found {
			return def, action, nil
		}
	}
	return records.Def{}, "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Operation is one client-intended mutation. OpID is the idempotency key and
// is distinct from the id of the record it targets.
type Operation struct {
	Type OpType
	OpID string
	Kind records.Kind

	// Record is the full payload of an upsert.
	Record records.Record

	// ID and DeletedAtMs locate and stamp a delete.
	ID          id.ID
	DeletedAtMs int64
}

// NewUpsert builds an upsert operation for rec.
func NewUpsert(opID string, kind records.Kind, rec records.Record) Operation {
	return Operation{Type: TagFor(kind, ActionUpsert), OpID: opID, Kind: kind, Record: rec}
}

// NewDelete builds a delete operation tombstoning recordID at deletedAtMs.
func NewDelete(opID string, kind records.Kind, recordID id.ID, deletedAtMs int64) Operation {
	return Operation{Type: TagFor(kind, ActionDelete), OpID: opID, Kind: kind, ID: recordID, DeletedAtMs: deletedAtMs}
}

// Action returns the mutation the envelope tag names.
func (o Operation) Action() Action {
	if strings.HasSuffix(string(o.Type), string(ActionDelete)) {
		return ActionDelete
	}
	return ActionUpsert
}

type envelopeHeader struct {
	Type        OpType `json:"type"`
	OpID        string `json:"opId"`
	ID          *id.ID `json:"id,omitempty"`
	DeletedAtMs *int64 `json:"deletedAtMs,omitempty"`
}

// UnmarshalJSON decodes the tagged envelope. Upserts carry their record
// under the kind's field name, deletes carry id and deletedAtMs.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var hdr envelopeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("decode operation envelope: %w", err)
	}

	def, action, err := ParseTag(hdr.Type)
	if err != nil {
		return err
	}

	*o = Operation{Type: hdr.Type, OpID: hdr.OpID, Kind: def.Kind}

	if action == ActionDelete {
		if hdr.ID == nil || hdr.DeletedAtMs == nil {
			return fmt.Errorf("%s: id and deletedAtMs are required", hdr.Type)
		}
		o.ID = *hdr.ID
		o.DeletedAtMs = *hdr.DeletedAtMs
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode operation envelope: %w", err)
	}
	raw, ok := fields[def.Field]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%s: %q payload is required", hdr.Type, def.Field)
	}

	rec := def.New()
	if err := json.Unmarshal(raw, rec); err != nil {
		return fmt.Errorf("%s: decode %s: %w", hdr.Type, def.Field, err)
	}
	o.Record = rec
	return nil
}

// MarshalJSON renders the envelope in the same shape UnmarshalJSON accepts.
func (o Operation) MarshalJSON() ([]byte, error) {
	def, action, err := ParseTag(o.Type)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"type": o.Type,
		"opId": o.OpID,
	}
	if action == ActionDelete {
		out["id"] = o.ID
		out["deletedAtMs"] = o.DeletedAtMs
	} else {
		out[def.Field] = o.Record
	}
	return json.Marshal(out)
}

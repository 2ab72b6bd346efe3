package dto

import (
	"encoding/json"

	"rollcall/internal/core/apperror"
	"rollcall/internal/domain/reconcile"
)

// SyncRequest is the body of POST /api/v1/sync. Operations stay raw so a
// malformed envelope can be reported by position and opId.
type SyncRequest struct {
	CursorMs   *int64            `json:"cursorMs"`
	Operations []json.RawMessage `json:"operations"`
}

// ToDomain decodes every envelope. The first undecodable one is returned as
// an invalid-operation error.
func (r *SyncRequest) ToDomain() (*reconcile.Request, error) {
	req := &reconcile.Request{
		CursorMs:   r.CursorMs,
		Operations: make([]reconcile.Operation, 0, len(r.Operations)),
	}
	for i, raw := range r.Operations {
		var op reconcile.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, apperror.NewInvalidOperation(i, peekOpID(raw), err)
		}
		req.Operations = append(req.Operations, op)
	}
	return req, nil
}

func peekOpID(raw json.RawMessage) string {
	var head struct {
		OpID string `json:"opId"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.OpID
}

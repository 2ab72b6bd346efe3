package reconcile

import (
	"context"
	"fmt"

	"rollcall/internal/domain/records"
	"rollcall/pkg/logger"
)

// ChangeFeed assembles the delta a client has not yet seen.
type ChangeFeed struct {
	source RowSource
}

// NewChangeFeed creates a change feed over source.
func NewChangeFeed(source RowSource) *ChangeFeed {
	return &ChangeFeed{source: source}
}

// ReadChangesSince returns every row with serverModifiedAtMs > cursorMs,
// grouped by kind and ascending by server stamp.
//
// Stored rows are read leniently: blank required text is coerced to a
// sentinel and logged. A row that is still invalid fails the whole read with
// a *records.DecodeError.
func (f *ChangeFeed) ReadChangesSince(ctx context.Context, cursorMs int64) (*records.ChangeSet, error) {
	cs := records.NewChangeSet()

	for _, def := range records.Catalogue() {
		rows, err := f.source.RowsSince(ctx, def.Kind, cursorMs)
		if err != nil {
			return nil, fmt.Errorf("read %s changes: %w", def.Kind, err)
		}

		for _, row := range rows {
			if fields := row.Normalize(); len(fields) > 0 {
				logger.Warn(ctx, "coerced legacy row",
					"kind", def.Kind,
					"id", row.Base().ID,
					"fields", fields,
				)
			}
			if err := row.Validate(); err != nil {
				return nil, &records.DecodeError{Kind: def.Kind, ID: row.Base().ID, Err: err}
			}
			def.Add(cs, row)
		}
	}

	return cs, nil
}

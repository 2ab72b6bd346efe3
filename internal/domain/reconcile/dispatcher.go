package reconcile

import (
	"context"
	"fmt"

	"rollcall/internal/domain/records"
)

type applyFunc func(ctx context.Context, op Operation, serverNowMs int64) (Outcome, error)

type rule struct {
	def    records.Def
	action Action
	apply  applyFunc
}

// Dispatcher routes operations to one conditional-write rule per
// (kind, action). The rule table is built once from the record catalogue and
// never changes.
type Dispatcher struct {
	writer EntityWriter
	rules  map[OpType]rule
}

// NewDispatcher builds the rule table over writer.
func NewDispatcher(writer EntityWriter) *Dispatcher {
	d := &Dispatcher{
		writer: writer,
		rules:  make(map[OpType]rule),
	}
	for _, def := range records.Catalogue() {
		d.rules[TagFor(def.Kind, ActionUpsert)] = rule{def: def, action: ActionUpsert, apply: d.upsertRule(def)}
		d.rules[TagFor(def.Kind, ActionDelete)] = rule{def: def, action: ActionDelete, apply: d.deleteRule(def)}
	}
	return d
}

// Knows reports whether t has a registered rule.
func (d *Dispatcher) Knows(t OpType) bool {
	_, ok := d.rules[t]
	return ok
}

// Apply runs the rule registered for op.Type. Whatever serverModifiedAtMs the
// client sent is replaced by serverNowMs.
func (d *Dispatcher) Apply(ctx context.Context, op Operation, serverNowMs int64) (Outcome, error) {
	r, ok := d.rules[op.Type]
	if !ok {
		return OutcomeSkipped, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
	}
	return r.apply(ctx, op, serverNowMs)
}

func (d *Dispatcher) upsertRule(def records.Def) applyFunc {
	return func(ctx context.Context, op Operation, serverNowMs int64) (Outcome, error) {
		if !def.Accepts(op.Record) {
			return OutcomeSkipped, fmt.Errorf("%s: payload is not a %s record", op.Type, def.Kind)
		}
		rec := def.Clone(op.Record)
		rec.Base().StampServer(serverNowMs)

		outcome, err := d.writer.Upsert(ctx, def.Kind, rec)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("upsert %s %s: %w", def.Kind, rec.Base().ID, err)
		}
		return outcome, nil
	}
}

// deleteRule writes a tombstone stamped with the client's deletedAtMs. The
// placeholder columns only matter when the id has never been seen.
func (d *Dispatcher) deleteRule(def records.Def) applyFunc {
	return func(ctx context.Context, op Operation, serverNowMs int64) (Outcome, error) {
		rec := def.Tombstone(op.ID, op.DeletedAtMs)
		rec.Base().StampServer(serverNowMs)

		outcome, err := d.writer.Tombstone(ctx, def.Kind, rec)
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("delete %s %s: %w", def.Kind, op.ID, err)
		}
		return outcome, nil
	}
}

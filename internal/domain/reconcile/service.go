package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/core/apperror"
	"rollcall/internal/core/clock"
	appctx "rollcall/internal/core/context"
	"rollcall/internal/core/id"
	"rollcall/internal/core/tx"
	"rollcall/internal/domain/records"
	"rollcall/pkg/logger"
)

var tracer = otel.Tracer("rollcall/reconcile")

const maxOpIDLen = 128

// Request is one client batch. A nil CursorMs means the client has never
// pulled and reads from 0.
type Request struct {
	CursorMs   *int64      `json:"cursorMs,omitempty"`
	Operations []Operation `json:"operations"`
}

// Response carries the new cursor, the acknowledged operation ids and the
// delta since the request cursor.
type Response struct {
	CursorMs int64              `json:"cursorMs"`
	AckOpIDs []string           `json:"ackOpIds"`
	Changes  *records.ChangeSet `json:"changes"`
}

// ServiceConfig wires the orchestrator's collaborators.
type ServiceConfig struct {
	TxManager tx.Manager
	Ledger    Ledger
	Writer    EntityWriter
	Rows      RowSource
	Clock     clock.Clock

	// Recorder is optional; when set one audit row is written per batch.
	Recorder BatchRecorder
	// Observer is optional and defaults to NopObserver.
	Observer Observer
	// MaxOperations bounds a batch; zero disables the check.
	MaxOperations int
}

// Service is the reconciliation orchestrator.
type Service struct {
	txManager     tx.Manager
	ledger        Ledger
	dispatcher    *Dispatcher
	feed          *ChangeFeed
	clock         clock.Clock
	recorder      BatchRecorder
	observer      Observer
	maxOperations int
}

// NewService creates the orchestrator.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		txManager:     cfg.TxManager,
		ledger:        cfg.Ledger,
		dispatcher:    NewDispatcher(cfg.Writer),
		feed:          NewChangeFeed(cfg.Rows),
		clock:         cfg.Clock,
		recorder:      cfg.Recorder,
		observer:      cfg.Observer,
		maxOperations: cfg.MaxOperations,
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	return s
}

// Validate checks the whole batch before any transaction opens.
func (s *Service) Validate(req *Request) error {
	if req == nil {
		return apperror.NewValidation("request body is required")
	}
	if req.CursorMs != nil && *req.CursorMs < 0 {
		return apperror.NewValidation("cursorMs must not be negative").
			WithDetail("cursorMs", *req.CursorMs)
	}
	if s.maxOperations > 0 && len(req.Operations) > s.maxOperations {
		return apperror.NewTooLarge(s.maxOperations).
			WithDetail("operations", len(req.Operations))
	}

	seen := make(map[string]int, len(req.Operations))
	for i, op := range req.Operations {
		if err := s.validateOperation(op); err != nil {
			return apperror.NewInvalidOperation(i, op.OpID, err)
		}
		if first, dup := seen[op.OpID]; dup {
			return apperror.NewInvalidOperation(i, op.OpID,
				fmt.Errorf("opId repeats operation %d", first))
		}
		seen[op.OpID] = i
	}
	return nil
}

func (s *Service) validateOperation(op Operation) error {
	if strings.TrimSpace(op.OpID) == "" {
		return errors.New("opId is required")
	}
	if len(op.OpID) > maxOpIDLen {
		return fmt.Errorf("opId exceeds %d bytes", maxOpIDLen)
	}
	if strings.IndexByte(op.OpID, 0) >= 0 {
		return errors.New("opId contains a NUL character")
	}
	if !s.dispatcher.Knows(op.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
	}
	def, action, err := ParseTag(op.Type)
	if err != nil {
		return err
	}

	if action == ActionDelete {
		if id.IsNil(op.ID) {
			return errors.New("id is required")
		}
		if op.DeletedAtMs < 0 {
			return errors.New("deletedAtMs must not be negative")
		}
		return nil
	}

	if !def.Accepts(op.Record) {
		return fmt.Errorf("%s payload is required", def.Field)
	}
	// A deleted upsert carries its own tombstone, stamped no earlier than the
	// deletion, as a delete operation would write it.
	if b := op.Record.Base(); b.DeletedAtMs != nil && b.UpdatedAtMs < *b.DeletedAtMs {
		return fmt.Errorf("%s: updatedAtMs %d is before deletedAtMs %d", def.Field, b.UpdatedAtMs, *b.DeletedAtMs)
	}
	return op.Record.Validate()
}

type appliedOp struct {
	kind    records.Kind
	action  Action
	claimed bool
	outcome Outcome
}

// Reconcile applies req exactly once and returns the delta since the request
// cursor. The ledger, the writes, the audit row and the change-feed read share
// one transaction; any error rolls all of them back.
//
// The returned cursor is the server clock captured before the transaction
// began, so the next pull re-reads nothing this call has returned.
func (s *Service) Reconcile(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()

	if err := s.Validate(req); err != nil {
		return nil, err
	}

	serverNowMs := s.clock.NowMs()
	var cursorMs int64
	if req.CursorMs != nil {
		cursorMs = *req.CursorMs
	}

	ctx, span := tracer.Start(ctx, "reconcile",
		trace.WithAttributes(
			attribute.Int("sync.operations", len(req.Operations)),
			attribute.Int64("sync.cursor_ms", cursorMs),
			attribute.Int64("sync.server_now_ms", serverNowMs),
		))
	defer span.End()

	var (
		changes *records.ChangeSet
		applied []appliedOp
	)

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		applied = make([]appliedOp, 0, len(req.Operations))

		for _, op := range req.Operations {
			a := appliedOp{kind: op.Kind, action: op.Action()}

			claimed, err := s.ledger.TryClaim(ctx, op.OpID, serverNowMs)
			if err != nil {
				return fmt.Errorf("claim op %s: %w", op.OpID, err)
			}
			if claimed {
				a.claimed = true
				a.outcome, err = s.dispatcher.Apply(ctx, op, serverNowMs)
				if err != nil {
					return fmt.Errorf("apply op %s: %w", op.OpID, err)
				}
			}
			applied = append(applied, a)
		}

		var err error
		changes, err = s.feed.ReadChangesSince(ctx, cursorMs)
		if err != nil {
			return err
		}

		if s.recorder != nil {
			if err := s.recorder.RecordBatch(ctx, s.batchRecord(ctx, req, serverNowMs, cursorMs, applied, changes)); err != nil {
				return fmt.Errorf("record batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		s.observer.ReconcileFinished("error", time.Since(started), 0)
		logger.Debug(ctx, "reconcile failed", "operations", len(req.Operations), "error", err)
		return nil, classify(err)
	}

	for _, a := range applied {
		if a.claimed {
			s.observer.OperationApplied(a.kind, a.action, a.outcome)
		} else {
			s.observer.OperationReplayed(a.kind, a.action)
		}
	}
	s.observer.ReconcileFinished("ok", time.Since(started), changes.Total())

	ack := make([]string, len(req.Operations))
	for i, op := range req.Operations {
		ack[i] = op.OpID
	}

	span.SetAttributes(attribute.Int("sync.changes", changes.Total()))
	logger.Debug(ctx, "reconciled batch",
		"operations", len(req.Operations),
		"changes", changes.Total(),
		"cursor_ms", serverNowMs,
	)

	return &Response{
		CursorMs: serverNowMs,
		AckOpIDs: ack,
		Changes:  changes,
	}, nil
}

func (s *Service) batchRecord(ctx context.Context, req *Request, serverNowMs, cursorMs int64, applied []appliedOp, changes *records.ChangeSet) BatchRecord {
	b := BatchRecord{
		ID:          id.New(),
		UserID:      appctx.GetUserID(ctx),
		DeviceID:    appctx.GetDeviceID(ctx),
		ServerNowMs: serverNowMs,
		CursorMs:    cursorMs,
		Operations:  len(req.Operations),
		Changes:     changes.Total(),
	}
	for _, a := range applied {
		if a.claimed {
			b.Claimed++
			if a.outcome != OutcomeSkipped {
				b.Written++
			}
		}
	}
	if payload, err := json.Marshal(req.Operations); err == nil {
		b.Payload = payload
	} else {
		logger.Warn(ctx, "batch payload not recorded", "error", err)
	}
	return b
}

// classify maps a failed transaction to the single coarse error a client sees.
func classify(err error) error {
	if apperror.IsAppError(err) {
		return err
	}
	var decodeErr *records.DecodeError
	if errors.As(err, &decodeErr) {
		return apperror.NewInternal(err).
			WithDetail("kind", string(decodeErr.Kind))
	}
	return apperror.NewDatabase(err)
}

// Package payout lets doctors cash out earned credits after admin approval.
package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/metrics"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

var tracer = otel.Tracer("consult.internal.payout")

type Processor struct {
	store   store.Store
	ledger  *ledger.Ledger
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewProcessor(st store.Store, l *ledger.Ledger, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: st, ledger: l, clock: clk, metrics: m, logger: logger}
}

// Request files a PROCESSING payout for the calling doctor. The balance is
// only checked at approval, since it may change in between.
func (p *Processor) Request(ctx context.Context, caller identity.Caller, doctorID uuid.UUID, amount int64) (*model.Payout, error) {
	const op = "payout.Request"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("doctor.id", doctorID.String()), attribute.Int64("amount", amount))

	if !caller.Is(model.RoleDoctor) || caller.AccountID != doctorID {
		return nil, apperr.Authorization(op, "doctors can only request their own payouts")
	}
	if amount <= 0 {
		return nil, apperr.Validation(op, "amount must be positive")
	}

	var created *model.Payout
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		doctor, err := tx.LockAccount(ctx, doctorID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "doctor not found")
		}
		if err != nil {
			return fmt.Errorf("lock doctor: %w", err)
		}
		if !doctor.BookableDoctor() {
			return apperr.Authorization(op, "doctor is not verified")
		}

		created, err = tx.InsertPayout(ctx, model.Payout{
			DoctorID: doctor.ID,
			Credits:  amount,
			Status:   model.PayoutProcessing,
		})
		if err != nil {
			return fmt.Errorf("insert payout: %w", err)
		}
		return nil
	})
	if err != nil {
		p.metrics.ObservePayout("request", "rejected")
		return nil, err
	}

	p.metrics.ObservePayout("request", "accepted")
	p.logger.Info("payout requested",
		zap.String("payout_id", created.ID.String()),
		zap.String("doctor_id", doctorID.String()),
		zap.Int64("credits", amount),
	)
	return created, nil
}

// Approve debits the doctor and marks the payout PROCESSED. The balance is
// re-read under the doctor's row lock; if it no longer covers the amount the
// payout stays PROCESSING.
func (p *Processor) Approve(ctx context.Context, caller identity.Caller, payoutID uuid.UUID) (*model.Payout, error) {
	const op = "payout.Approve"

	ctx, span := tracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", payoutID.String()))

	if !caller.Is(model.RoleAdmin) {
		return nil, apperr.Authorization(op, "only admins can approve payouts")
	}

	var (
		processed *model.Payout
		receipt   ledger.Receipt
	)
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		po, err := tx.LockPayout(ctx, payoutID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "payout not found")
		}
		if err != nil {
			return fmt.Errorf("lock payout: %w", err)
		}
		if po.Status != model.PayoutProcessing {
			return apperr.Conflict(op, fmt.Sprintf("payout is already %s", po.Status))
		}

		receipt, err = p.ledger.PayoutDebit(ctx, tx, po.DoctorID, po.ID, po.Credits)
		if err != nil {
			return err
		}

		processed, err = tx.MarkPayoutProcessed(ctx, po.ID, caller.AccountID, p.clock.Now())
		if errors.Is(err, store.ErrStaleStatus) {
			return apperr.Conflict(op, "payout was processed concurrently")
		}
		if err != nil {
			return fmt.Errorf("mark payout processed: %w", err)
		}
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, apperr.ErrInsufficientBalance) {
			outcome = "insufficient_balance"
		}
		p.metrics.ObservePayout("approve", outcome)
		return nil, err
	}

	p.ledger.Committed(receipt)
	p.metrics.ObservePayout("approve", "processed")
	p.logger.Info("payout processed",
		zap.String("payout_id", processed.ID.String()),
		zap.String("doctor_id", processed.DoctorID.String()),
		zap.String("processed_by", caller.AccountID.String()),
		zap.Int64("credits", processed.Credits),
	)
	return processed, nil
}

// List shows admins every payout and doctors their own.
func (p *Processor) List(ctx context.Context, caller identity.Caller, status model.PayoutStatus) ([]model.Payout, error) {
	const op = "payout.List"

	var doctorID *uuid.UUID
	switch caller.Role {
	case model.RoleAdmin:
	case model.RoleDoctor:
		id := caller.AccountID
		doctorID = &id
	default:
		return nil, apperr.Authorization(op, "only doctors and admins can list payouts")
	}
	switch status {
	case "", model.PayoutProcessing, model.PayoutProcessed:
	default:
		return nil, apperr.Validation(op, fmt.Sprintf("unknown status %q", status))
	}

	var payouts []model.Payout
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payouts, err = tx.ListPayouts(ctx, doctorID, status)
		return err
	})
	return payouts, err
}

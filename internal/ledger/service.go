package ledger

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Service exposes the ledger to callers: own balance and history, and admin
// monthly allocations.
type Service struct {
	store  store.Store
	ledger *Ledger
	clock  clock.Clock
	logger *zap.Logger
}

func NewService(st store.Store, l *Ledger, clk clock.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, ledger: l, clock: clk, logger: logger}
}

func (s *Service) Balance(ctx context.Context, caller identity.Caller) (int64, error) {
	var bal int64
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bal, err = s.ledger.Balance(ctx, tx, caller.AccountID)
		return err
	})
	return bal, err
}

func (s *Service) Transactions(ctx context.Context, caller identity.Caller, limit int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	var rows []model.CreditTransaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, err = s.ledger.History(ctx, tx, caller.AccountID, limit)
		return err
	})
	return rows, err
}

// Allocate applies the tier's allowance for the current month. It is driven
// by the subscription signal and reports whether credits were granted.
func (s *Service) Allocate(ctx context.Context, caller identity.Caller, accountID uuid.UUID, tier Tier) (balance int64, applied bool, err error) {
	const op = "ledger.Allocate"

	if !caller.Is(model.RoleAdmin) {
		return 0, false, apperr.Authorization(op, "only admins can allocate credits")
	}

	var receipt Receipt
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		receipt, applied, err = s.ledger.AllocateMonthly(ctx, tx, accountID, tier, s.clock.Now())
		if err != nil {
			return err
		}
		balance, err = s.ledger.Balance(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return 0, false, err
	}

	s.ledger.Committed(receipt)
	if applied {
		s.logger.Info("monthly credits allocated",
			zap.String("account_id", accountID.String()),
			zap.String("tier", string(tier)),
			zap.Int64("balance", balance),
		)
	}
	return balance, applied, nil
}

package payout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
	"github.com/hackgods/consult-scheduling/internal/store/memory"
)

type fixture struct {
	store  *memory.Store
	ledger *ledger.Ledger
	proc   *Processor
	doctor identity.Caller
	admin  identity.Caller
}

func newFixture(t *testing.T, credits int64) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), ledger: ledger.New(nil)}
	f.proc = NewProcessor(f.store, f.ledger, &clock.Fixed{T: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}, nil, nil)

	verified := model.VerificationVerified
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.CreateAccount(ctx, model.Account{Name: "Dr. House", Role: model.RoleDoctor, VerificationStatus: &verified})
		if err != nil {
			return err
		}
		admin, err := tx.CreateAccount(ctx, model.Account{Name: "Admin", Role: model.RoleAdmin})
		if err != nil {
			return err
		}
		f.doctor = identity.Caller{AccountID: doc.ID, Role: model.RoleDoctor}
		f.admin = identity.Caller{AccountID: admin.ID, Role: model.RoleAdmin}
		if credits > 0 {
			_, err = f.ledger.Transfer(ctx, tx, ledger.Entry{AccountID: doc.ID, Amount: credits, Type: model.TxAppointmentDeduction})
		}
		return err
	}))
	return f
}

func (f *fixture) adminAdjustments(t *testing.T) []model.CreditTransaction {
	t.Helper()
	var out []model.CreditTransaction
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		rows, err := f.ledger.History(ctx, tx, f.doctor.AccountID, 0)
		for _, r := range rows {
			if r.Type == model.TxAdminAdjustment {
				out = append(out, r)
			}
		}
		return err
	}))
	return out
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	var bal int64
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		bal, err = f.ledger.Balance(ctx, tx, f.doctor.AccountID)
		return err
	}))
	return bal
}

func TestApproveDebitsDoctor(t *testing.T) {
	f := newFixture(t, 60)

	po, err := f.proc.Request(context.Background(), f.doctor, f.doctor.AccountID, 50)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutProcessing, po.Status)

	done, err := f.proc.Approve(context.Background(), f.admin, po.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutProcessed, done.Status)
	require.NotNil(t, done.ProcessedBy)
	assert.Equal(t, f.admin.AccountID, *done.ProcessedBy)
	require.NotNil(t, done.ProcessedAt)

	assert.Equal(t, int64(10), f.balance(t))
	adj := f.adminAdjustments(t)
	require.Len(t, adj, 1)
	assert.Equal(t, int64(-50), adj[0].Amount)
	require.NotNil(t, adj[0].PayoutID)
	assert.Equal(t, po.ID, *adj[0].PayoutID)

	_, err = f.proc.Approve(context.Background(), f.admin, po.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestApproveWithInsufficientBalanceLeavesPayoutProcessing(t *testing.T) {
	f := newFixture(t, 40)

	po, err := f.proc.Request(context.Background(), f.doctor, f.doctor.AccountID, 50)
	require.NoError(t, err)
	assert.Equal(t, model.PayoutProcessing, po.Status)

	_, err = f.proc.Approve(context.Background(), f.admin, po.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	payouts, err := f.proc.List(context.Background(), f.admin, model.PayoutProcessing)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, po.ID, payouts[0].ID)

	assert.Empty(t, f.adminAdjustments(t))
	assert.Equal(t, int64(40), f.balance(t))
}

func TestConcurrentApprovalsDebitOnce(t *testing.T) {
	f := newFixture(t, 50)
	po, err := f.proc.Request(context.Background(), f.doctor, f.doctor.AccountID, 30)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.proc.Approve(context.Background(), f.admin, po.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, int64(20), f.balance(t))
	assert.Len(t, f.adminAdjustments(t), 1)
}

func TestRequestRejects(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	_, err := f.proc.Request(ctx, f.doctor, f.doctor.AccountID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.proc.Request(ctx, f.doctor, f.doctor.AccountID, -3)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.proc.Request(ctx, f.admin, f.doctor.AccountID, 5)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.proc.Request(ctx, identity.Caller{AccountID: uuid.New(), Role: model.RoleDoctor}, f.doctor.AccountID, 5)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	unverified := model.VerificationPending
	var pending identity.Caller
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		doc, err := tx.CreateAccount(ctx, model.Account{Name: "Dr. Pending", Role: model.RoleDoctor, VerificationStatus: &unverified})
		if err != nil {
			return err
		}
		pending = identity.Caller{AccountID: doc.ID, Role: model.RoleDoctor}
		return nil
	}))
	_, err = f.proc.Request(ctx, pending, pending.AccountID, 5)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestRequestAcceptsAmountsAboveBalance(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	big, err := f.proc.Request(ctx, f.doctor, f.doctor.AccountID, 50)
	require.NoError(t, err)
	small, err := f.proc.Request(ctx, f.doctor, f.doctor.AccountID, 10)
	require.NoError(t, err)
	again, err := f.proc.Request(ctx, f.doctor, f.doctor.AccountID, 10)
	require.NoError(t, err)

	_, err = f.proc.Approve(ctx, f.admin, big.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	_, err = f.proc.Approve(ctx, f.admin, small.ID)
	require.NoError(t, err)
	_, err = f.proc.Approve(ctx, f.admin, again.ID)
	require.NoError(t, err)
	assert.Zero(t, f.balance(t))

	pending, err := f.proc.List(ctx, f.admin, model.PayoutProcessing)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, big.ID, pending[0].ID)
}

func TestApproveRequiresAdmin(t *testing.T) {
	f := newFixture(t, 20)
	po, err := f.proc.Request(context.Background(), f.doctor, f.doctor.AccountID, 5)
	require.NoError(t, err)

	_, err = f.proc.Approve(context.Background(), f.doctor, po.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.proc.Approve(context.Background(), f.admin, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListScopesByRole(t *testing.T) {
	f := newFixture(t, 20)
	_, err := f.proc.Request(context.Background(), f.doctor, f.doctor.AccountID, 5)
	require.NoError(t, err)

	mine, err := f.proc.List(context.Background(), f.doctor, "")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	other := identity.Caller{AccountID: uuid.New(), Role: model.RoleDoctor}
	theirs, err := f.proc.List(context.Background(), other, "")
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = f.proc.List(context.Background(), identity.Caller{AccountID: uuid.New(), Role: model.RolePatient}, "")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.proc.List(context.Background(), f.admin, "DONE")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

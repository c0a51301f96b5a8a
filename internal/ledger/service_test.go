package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/model"
)

func TestServiceAllocateOncePerMonth(t *testing.T) {
	f := newFixture()
	clk := &clock.Fixed{T: time.Date(2026, 3, 30, 12, 0, 0, 0, time.UTC)}
	svc := NewService(f.store, f.ledger, clk, nil)
	admin := identity.Caller{AccountID: uuid.New(), Role: model.RoleAdmin}
	patient := f.account(t, model.RolePatient, 0)

	bal, applied, err := svc.Allocate(context.Background(), admin, patient, TierStandard)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(10), bal)

	bal, applied, err = svc.Allocate(context.Background(), admin, patient, TierStandard)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(10), bal)

	clk.Advance(72 * time.Hour)
	bal, applied, err = svc.Allocate(context.Background(), admin, patient, TierStandard)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(20), bal)

	me := identity.Caller{AccountID: patient, Role: model.RolePatient}
	got, err := svc.Balance(context.Background(), me)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got)

	rows, err := svc.Transactions(context.Background(), me, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, model.TxCreditPurchase, r.Type)
		require.NotNil(t, r.IdempotencyKey)
	}
}

func TestServiceAllocateRequiresAdmin(t *testing.T) {
	f := newFixture()
	svc := NewService(f.store, f.ledger, &clock.Fixed{T: time.Now()}, nil)
	patient := f.account(t, model.RolePatient, 0)

	_, _, err := svc.Allocate(context.Background(), identity.Caller{AccountID: patient, Role: model.RolePatient}, patient, TierPremium)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = svc.Balance(context.Background(), identity.Caller{AccountID: uuid.New(), Role: model.RolePatient})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

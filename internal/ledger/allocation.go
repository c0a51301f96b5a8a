package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

// Tier is a subscription plan.
type Tier string

const (
	TierFree     Tier = "free_user"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

var tierCredits = map[Tier]int64{
	TierFree:     0,
	TierStandard: 10,
	TierPremium:  24,
}

// Credits returns the monthly allocation of the tier.
func (t Tier) Credits() (int64, bool) {
	c, ok := tierCredits[t]
	return c, ok
}

// AllocationKey is the idempotency key of one monthly allocation.
func AllocationKey(accountID uuid.UUID, month time.Time, tier Tier) string {
	return fmt.Sprintf("allocation:%s:%s:%s", accountID, month.Format("2006-01"), tier)
}

// AllocateMonthly credits a patient with the tier's monthly allowance, at
// most once per account, calendar month of at, and tier. applied is false
// when the allocation already exists or the tier grants nothing.
func (l *Ledger) AllocateMonthly(ctx context.Context, tx store.Tx, accountID uuid.UUID, tier Tier, at time.Time) (r Receipt, applied bool, err error) {
	const op = "ledger.AllocateMonthly"

	credits, ok := tier.Credits()
	if !ok {
		return Receipt{}, false, apperr.Validation(op, fmt.Sprintf("unknown tier %q", tier))
	}

	acct, err := tx.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return Receipt{}, false, apperr.NotFound(op, "account not found")
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("get account: %w", err)
	}
	if acct.Role != model.RolePatient {
		return Receipt{}, false, apperr.Validation(op, "allocations apply to patients only")
	}
	if credits == 0 {
		return Receipt{}, false, nil
	}

	key := AllocationKey(accountID, at, tier)
	exists, err := tx.IdempotencyKeyExists(ctx, key)
	if err != nil {
		return Receipt{}, false, err
	}
	if exists {
		return Receipt{}, false, nil
	}

	pkg := string(tier)
	r, err = l.Transfer(ctx, tx, Entry{
		AccountID:      accountID,
		Amount:         credits,
		Type:           model.TxCreditPurchase,
		PackageID:      &pkg,
		IdempotencyKey: &key,
	})
	if err != nil {
		return Receipt{}, false, err
	}
	return r, true, nil
}

// Package ledger is the append-only credit ledger.
//
// Every balance change is a CreditTransaction row; Account.Credits is a
// projection of those rows kept in step inside the same unit of work. All
// functions take the caller's store.Tx, so a ledger movement commits or
// aborts together with whatever state change it pays for.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/metrics"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

// AppointmentCost is the flat price of one booking.
const AppointmentCost int64 = 2

// Entry is one signed movement against one account.
type Entry struct {
	AccountID      uuid.UUID
	Amount         int64
	Type           model.TransactionType
	AppointmentID  *uuid.UUID
	PayoutID       *uuid.UUID
	PackageID      *string
	IdempotencyKey *string
}

type Balance struct {
	AccountID uuid.UUID
	Credits   int64
}

// Receipt describes a transfer applied inside a unit of work. Pass it to
// Ledger.Committed once the unit has committed.
type Receipt struct {
	Transactions []model.CreditTransaction
	Balances     []Balance
}

// BalanceOf returns the post-transfer balance of the account.
func (r Receipt) BalanceOf(id uuid.UUID) (int64, bool) {
	for _, b := range r.Balances {
		if b.AccountID == id {
			return b.Credits, true
		}
	}
	return 0, false
}

// InsufficientFundsError reports a transfer that would leave an account
// negative. It matches apperr.ErrInsufficientBalance.
type InsufficientFundsError struct {
	AccountID uuid.UUID
	Balance   int64
	Change    int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s has %d credits, cannot apply %d", e.AccountID, e.Balance, e.Change)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == apperr.ErrInsufficientBalance
}

type Ledger struct {
	metrics *metrics.Metrics
}

func New(m *metrics.Metrics) *Ledger {
	return &Ledger{metrics: m}
}

// Committed records metrics for receipts whose unit of work committed.
func (l *Ledger) Committed(receipts ...Receipt) {
	if l == nil {
		return
	}
	for _, r := range receipts {
		for _, t := range r.Transactions {
			l.metrics.ObserveLedgerEntry(string(t.Type), t.Amount)
		}
	}
}

// Transfer applies entries atomically within tx. Affected accounts are locked
// in ascending ID order so concurrent transfers over the same accounts cannot
// deadlock. Balances are checked under those locks.
func (l *Ledger) Transfer(ctx context.Context, tx store.Tx, entries ...Entry) (Receipt, error) {
	const op = "ledger.Transfer"

	if len(entries) == 0 {
		return Receipt{}, apperr.Validation(op, "no entries")
	}

	deltas := make(map[uuid.UUID]int64)
	for _, e := range entries {
		if e.AccountID == uuid.Nil {
			return Receipt{}, apperr.Validation(op, "entry account is required")
		}
		if e.Amount == 0 {
			return Receipt{}, apperr.Validation(op, "entry amount must be non-zero")
		}
		if e.Type == "" {
			return Receipt{}, apperr.Validation(op, "entry type is required")
		}
		deltas[e.AccountID] += e.Amount
	}

	ids := make([]uuid.UUID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	balances := make([]Balance, 0, len(ids))
	for _, id := range ids {
		acct, err := tx.LockAccount(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return Receipt{}, apperr.Wrap(apperr.ErrNotFound, op, fmt.Sprintf("account %s does not exist", id), err)
		}
		if err != nil {
			return Receipt{}, fmt.Errorf("lock account %s: %w", id, err)
		}

		next := acct.Credits + deltas[id]
		if next < 0 {
			return Receipt{}, &InsufficientFundsError{AccountID: id, Balance: acct.Credits, Change: deltas[id]}
		}
		balances = append(balances, Balance{AccountID: id, Credits: next})
	}

	receipt := Receipt{Balances: balances}
	for _, e := range entries {
		row, err := tx.InsertCreditTransaction(ctx, model.CreditTransaction{
			AccountID:      e.AccountID,
			Amount:         e.Amount,
			Type:           e.Type,
			PackageID:      e.PackageID,
			IdempotencyKey: e.IdempotencyKey,
			AppointmentID:  e.AppointmentID,
			PayoutID:       e.PayoutID,
		})
		if errors.Is(err, store.ErrDuplicateKey) {
			return Receipt{}, apperr.Wrap(apperr.ErrConflict, op, "idempotency key already used", err)
		}
		if err != nil {
			return Receipt{}, fmt.Errorf("append credit transaction: %w", err)
		}
		receipt.Transactions = append(receipt.Transactions, *row)
	}

	for _, b := range balances {
		if err := tx.SetCredits(ctx, b.AccountID, b.Credits); err != nil {
			return Receipt{}, fmt.Errorf("update balance %s: %w", b.AccountID, err)
		}
	}
	return receipt, nil
}

// BookingDebit moves AppointmentCost from patient to doctor. A patient who
// cannot cover it gets an InsufficientCredits error.
func (l *Ledger) BookingDebit(ctx context.Context, tx store.Tx, patientID, doctorID, appointmentID uuid.UUID) (Receipt, error) {
	r, err := l.Transfer(ctx, tx,
		Entry{AccountID: patientID, Amount: -AppointmentCost, Type: model.TxAppointmentDeduction, AppointmentID: &appointmentID},
		Entry{AccountID: doctorID, Amount: AppointmentCost, Type: model.TxAppointmentDeduction, AppointmentID: &appointmentID},
	)
	var funds *InsufficientFundsError
	if errors.As(err, &funds) && funds.AccountID == patientID {
		return Receipt{}, apperr.New(apperr.ErrInsufficientCredits, "ledger.BookingDebit",
			fmt.Sprintf("booking costs %d credits, balance is %d", AppointmentCost, funds.Balance))
	}
	return r, err
}

// CancellationCompensation reverses a booking debit.
func (l *Ledger) CancellationCompensation(ctx context.Context, tx store.Tx, patientID, doctorID, appointmentID uuid.UUID) (Receipt, error) {
	return l.Transfer(ctx, tx,
		Entry{AccountID: patientID, Amount: AppointmentCost, Type: model.TxAppointmentDeduction, AppointmentID: &appointmentID},
		Entry{AccountID: doctorID, Amount: -AppointmentCost, Type: model.TxAppointmentDeduction, AppointmentID: &appointmentID},
	)
}

// PayoutDebit withdraws amount from the doctor for an approved payout.
func (l *Ledger) PayoutDebit(ctx context.Context, tx store.Tx, doctorID, payoutID uuid.UUID, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, apperr.Validation("ledger.PayoutDebit", "amount must be positive")
	}
	return l.Transfer(ctx, tx, Entry{
		AccountID: doctorID,
		Amount:    -amount,
		Type:      model.TxAdminAdjustment,
		PayoutID:  &payoutID,
	})
}

func (l *Ledger) Balance(ctx context.Context, tx store.Tx, accountID uuid.UUID) (int64, error) {
	acct, err := tx.GetAccount(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, apperr.NotFound("ledger.Balance", "account not found")
	}
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}
	return acct.Credits, nil
}

// History returns the account's transactions, newest first. limit <= 0
// returns all of them.
func (l *Ledger) History(ctx context.Context, tx store.Tx, accountID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	if _, err := l.Balance(ctx, tx, accountID); err != nil {
		return nil, err
	}
	return tx.ListCreditTransactions(ctx, accountID, limit)
}

// Reconcile returns every account whose cached balance differs from the sum
// of its transactions.
func (l *Ledger) Reconcile(ctx context.Context, tx store.Tx) ([]model.BalanceProjection, error) {
	projections, err := tx.BalanceProjections(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []model.BalanceProjection
	for _, p := range projections {
		if p.Drifted() {
			drifted = append(drifted, p)
		}
	}
	l.metrics.SetLedgerDrift(len(drifted))
	return drifted, nil
}

// Repair rewrites the cached balance of each account from its transaction
// log and returns how many accounts changed.
func (l *Ledger) Repair(ctx context.Context, tx store.Tx, accounts []uuid.UUID) (int, error) {
	repaired := 0
	for _, id := range accounts {
		acct, err := tx.LockAccount(ctx, id)
		if err != nil {
			return repaired, fmt.Errorf("lock account %s: %w", id, err)
		}
		sum, err := tx.SumCreditTransactions(ctx, id)
		if err != nil {
			return repaired, err
		}
		if sum < 0 {
			return repaired, fmt.Errorf("account %s: transaction log sums to %d", id, sum)
		}
		if sum == acct.Credits {
			continue
		}
		if err := tx.SetCredits(ctx, id, sum); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}

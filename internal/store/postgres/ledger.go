package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/consult-scheduling/internal/model"
)

const creditTransactionColumns = `id, account_id, amount, type, package_id, idempotency_key, appointment_id, payout_id, created_at`

func scanCreditTransaction(row pgx.Row) (*model.CreditTransaction, error) {
	var (
		ct     model.CreditTransaction
		txType string
	)

	err := row.Scan(
		&ct.ID,
		&ct.AccountID,
		&ct.Amount,
		&txType,
		&ct.PackageID,
		&ct.IdempotencyKey,
		&ct.AppointmentID,
		&ct.PayoutID,
		&ct.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	ct.Type = model.TransactionType(txType)
	return &ct, nil
}

func (t *tx) InsertCreditTransaction(ctx context.Context, ct model.CreditTransaction) (*model.CreditTransaction, error) {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, account_id, amount, type, package_id, idempotency_key, appointment_id, payout_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING `+creditTransactionColumns,
		ct.ID, ct.AccountID, ct.Amount, string(ct.Type), ct.PackageID, ct.IdempotencyKey, ct.AppointmentID, ct.PayoutID)

	inserted, err := scanCreditTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", mapError(err))
	}
	return inserted, nil
}

func (t *tx) SumCreditTransactions(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := t.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint
		FROM credit_transactions
		WHERE account_id = $1
	`, accountID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum credit transactions: %w", err)
	}
	return sum, nil
}

func (t *tx) ListCreditTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+creditTransactionColumns+`
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT NULLIF($2, 0)
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	var result []model.CreditTransaction
	for rows.Next() {
		ct, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ct)
	}
	return result, rows.Err()
}

func (t *tx) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE idempotency_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check idempotency key: %w", err)
	}
	return exists, nil
}

func (t *tx) BalanceProjections(ctx context.Context) ([]model.BalanceProjection, error) {
	rows, err := t.q.Query(ctx, `
		SELECT a.id, a.credits, COALESCE(SUM(ct.amount), 0)::bigint
		FROM accounts a
		LEFT JOIN credit_transactions ct ON ct.account_id = a.id
		GROUP BY a.id, a.credits
		ORDER BY a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("balance projections: %w", err)
	}
	defer rows.Close()

	var result []model.BalanceProjection
	for rows.Next() {
		var p model.BalanceProjection
		if err := rows.Scan(&p.AccountID, &p.Cached, &p.FromLog); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

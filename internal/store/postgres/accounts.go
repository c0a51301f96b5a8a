package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

const accountColumns = `id, external_id, name, email, role, verification_status, specialty, credits, created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a            model.Account
		role         string
		verification *string
	)

	err := row.Scan(
		&a.ID,
		&a.ExternalID,
		&a.Name,
		&a.Email,
		&role,
		&verification,
		&a.Specialty,
		&a.Credits,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	a.Role = model.Role(role)
	if verification != nil {
		vs := model.VerificationStatus(*verification)
		a.VerificationStatus = &vs
	}
	return &a, nil
}

func (t *tx) CreateAccount(ctx context.Context, a model.Account) (*model.Account, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	var verification *string
	if a.VerificationStatus != nil {
		v := string(*a.VerificationStatus)
		verification = &v
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO accounts (id, external_id, name, email, role, verification_status, specialty, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+accountColumns,
		a.ID, a.ExternalID, a.Name, a.Email, string(a.Role), verification, a.Specialty, a.Credits)

	created, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", mapError(err))
	}
	return created, nil
}

func (t *tx) GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

func (t *tx) LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAccount(row)
}

func (t *tx) SetCredits(ctx context.Context, id uuid.UUID, credits int64) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE accounts
		SET credits = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, credits)
	if err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) ListAccountsByRole(ctx context.Context, role model.Role, limit int) ([]model.Account, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE role = $1
		ORDER BY created_at
		LIMIT NULLIF($2, 0)
	`, string(role), limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var result []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

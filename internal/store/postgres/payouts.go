package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

const payoutColumns = `id, doctor_id, credits, status, processed_by, processed_at, created_at, updated_at`

func scanPayout(row pgx.Row) (*model.Payout, error) {
	var (
		p      model.Payout
		status string
	)

	err := row.Scan(
		&p.ID,
		&p.DoctorID,
		&p.Credits,
		&status,
		&p.ProcessedBy,
		&p.ProcessedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	p.Status = model.PayoutStatus(status)
	return &p, nil
}

func (t *tx) InsertPayout(ctx context.Context, p model.Payout) (*model.Payout, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO payouts (id, doctor_id, credits, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING `+payoutColumns,
		p.ID, p.DoctorID, p.Credits, string(p.Status))

	inserted, err := scanPayout(row)
	if err != nil {
		return nil, fmt.Errorf("insert payout: %w", mapError(err))
	}
	return inserted, nil
}

func (t *tx) GetPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE id = $1
	`, id)
	return scanPayout(row)
}

func (t *tx) LockPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanPayout(row)
}

func (t *tx) ListPayouts(ctx context.Context, doctorID *uuid.UUID, status model.PayoutStatus) ([]model.Payout, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE ($1::uuid IS NULL OR doctor_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, doctorID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var result []model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (t *tx) MarkPayoutProcessed(ctx context.Context, id, processedBy uuid.UUID, at time.Time) (*model.Payout, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE payouts
		SET status = 'PROCESSED',
		    processed_by = $2,
		    processed_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'PROCESSING'
		RETURNING `+payoutColumns,
		id, processedBy, at)

	updated, err := scanPayout(row)
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := t.GetPayout(ctx, id); getErr == nil {
			return nil, store.ErrStaleStatus
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark payout processed: %w", err)
	}
	return updated, nil
}

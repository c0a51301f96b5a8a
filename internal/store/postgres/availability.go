package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/consult-scheduling/internal/model"
)

const availabilityColumns = `id, doctor_id, start_time, end_time, status, created_at`

func scanAvailability(row pgx.Row) (*model.Availability, error) {
	var (
		a      model.Availability
		status string
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	a.Status = model.AvailabilityStatus(status)
	return &a, nil
}

func (t *tx) InsertAvailability(ctx context.Context, a model.Availability) (*model.Availability, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO availabilities (id, doctor_id, start_time, end_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+availabilityColumns,
		a.ID, a.DoctorID, a.StartTime, a.EndTime, string(a.Status))

	inserted, err := scanAvailability(row)
	if err != nil {
		return nil, fmt.Errorf("insert availability: %w", mapError(err))
	}
	return inserted, nil
}

func (t *tx) ListAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]model.Availability, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM availabilities
		WHERE doctor_id = $1
		ORDER BY created_at DESC, start_time DESC
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	defer rows.Close()

	var result []model.Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (t *tx) DeleteUnusedAvailabilities(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	ct, err := t.q.Exec(ctx, `
		DELETE FROM availabilities av
		WHERE av.doctor_id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM appointments ap WHERE ap.availability_id = av.id
		  )
	`, doctorID)
	if err != nil {
		return 0, fmt.Errorf("delete unused availabilities: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (t *tx) RetireAvailabilities(ctx context.Context, doctorID uuid.UUID) (int64, error) {
	ct, err := t.q.Exec(ctx, `
		UPDATE availabilities
		SET status = $2
		WHERE doctor_id = $1 AND status = $3
	`, doctorID, string(model.AvailabilityBooked), string(model.AvailabilityAvailable))
	if err != nil {
		return 0, fmt.Errorf("retire availabilities: %w", err)
	}
	return ct.RowsAffected(), nil
}

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

const appointmentColumns = `id, patient_id, doctor_id, availability_id, start_time, end_time, status, patient_description, notes, video_session_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.AvailabilityID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&a.PatientDescription,
		&a.Notes,
		&a.VideoSessionID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	a.Status = model.AppointmentStatus(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var result []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (t *tx) InsertAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, availability_id, start_time, end_time, status,
		                          patient_description, notes, video_session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.AvailabilityID, a.StartTime, a.EndTime, string(a.Status),
		a.PatientDescription, a.Notes, a.VideoSessionID)

	inserted, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", mapError(err))
	}
	return inserted, nil
}

func (t *tx) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (t *tx) LockAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *tx) ListScheduledForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'SCHEDULED'
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (t *tx) ListAppointmentsForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]model.Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 OR doctor_id = $1
		ORDER BY start_time DESC
		LIMIT NULLIF($2, 0) OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (t *tx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus) (*model.Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	updated, err := scanAppointment(row)
	if errors.Is(err, store.ErrNotFound) {
		// Distinguish a missing row from one that moved on.
		if _, getErr := t.GetAppointment(ctx, id); getErr == nil {
			return nil, store.ErrStaleStatus
		}
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", mapError(err))
	}
	return updated, nil
}

func (t *tx) UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*model.Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, notes)
	return scanAppointment(row)
}

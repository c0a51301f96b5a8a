package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
)

var errBoom = errors.New("boom")

func createAccount(t *testing.T, s *Store, role model.Role) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, model.Account{Name: "acct", Role: role})
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestFailedUnitLeavesNoTrace(t *testing.T) {
	s := New()
	id := createAccount(t, s, model.RolePatient)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.InsertCreditTransaction(ctx, model.CreditTransaction{AccountID: id, Amount: 10, Type: model.TxCreditPurchase}); err != nil {
			return err
		}
		if err := tx.SetCredits(ctx, id, 10); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, a.Credits)

		sum, err := tx.SumCreditTransactions(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, sum)
		return nil
	})
	require.NoError(t, err)
}

func TestReadOnlyUnitDoesNotCopyState(t *testing.T) {
	s := New()
	id := createAccount(t, s, model.RolePatient)
	ctx := context.Background()

	before := s.st
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetAccount(ctx, id)
		return err
	})
	require.NoError(t, err)
	assert.Same(t, before, s.st)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetCredits(ctx, id, 4)
	})
	require.NoError(t, err)
	assert.NotSame(t, before, s.st)
	assert.Zero(t, before.accounts[id].Credits, "committed write must not touch the previous state")
	assert.Equal(t, int64(4), s.st.accounts[id].Credits)
}

func TestCancelledContextAbortsCommit(t *testing.T) {
	s := New()
	id := createAccount(t, s, model.RolePatient)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cancel()
		return tx.SetCredits(ctx, id, 99)
	})
	require.ErrorIs(t, err, context.Canceled)

	_ = s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, _ := tx.GetAccount(ctx, id)
		assert.Zero(t, a.Credits)
		return nil
	})
}

func TestInsertAppointmentRejectsOverlap(t *testing.T) {
	s := New()
	doctor := createAccount(t, s, model.RoleDoctor)
	patient := createAccount(t, s, model.RolePatient)
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	appt := model.Appointment{
		PatientID: patient,
		DoctorID:  doctor,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    model.StatusScheduled,
	}

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		first, err := tx.InsertAppointment(ctx, appt)
		require.NoError(t, err)

		shifted := appt
		shifted.StartTime = start.Add(15 * time.Minute)
		shifted.EndTime = start.Add(45 * time.Minute)
		_, err = tx.InsertAppointment(ctx, shifted)
		assert.ErrorIs(t, err, store.ErrOverlap)

		_, err = tx.UpdateAppointmentStatus(ctx, first.ID, model.StatusScheduled, model.StatusCancelled)
		require.NoError(t, err)

		_, err = tx.InsertAppointment(ctx, shifted)
		assert.NoError(t, err, "cancelled appointments do not block the interval")

		_, err = tx.UpdateAppointmentStatus(ctx, first.ID, model.StatusScheduled, model.StatusCompleted)
		assert.ErrorIs(t, err, store.ErrStaleStatus)
		return nil
	})
	require.NoError(t, err)
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	s := New()
	id := createAccount(t, s, model.RolePatient)
	key := "allocation:" + id.String() + ":2026-03:standard"

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertCreditTransaction(ctx, model.CreditTransaction{AccountID: id, Amount: 10, Type: model.TxCreditPurchase, IdempotencyKey: &key})
		require.NoError(t, err)

		_, err = tx.InsertCreditTransaction(ctx, model.CreditTransaction{AccountID: id, Amount: 10, Type: model.TxCreditPurchase, IdempotencyKey: &key})
		assert.ErrorIs(t, err, store.ErrDuplicateKey)

		exists, err := tx.IdempotencyKeyExists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteUnusedAvailabilities(t *testing.T) {
	s := New()
	doctor := createAccount(t, s, model.RoleDoctor)
	patient := createAccount(t, s, model.RolePatient)
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		used, err := tx.InsertAvailability(ctx, model.Availability{DoctorID: doctor, StartTime: start, EndTime: start.Add(2 * time.Hour), Status: model.AvailabilityAvailable})
		require.NoError(t, err)
		_, err = tx.InsertAvailability(ctx, model.Availability{DoctorID: doctor, StartTime: start, EndTime: start.Add(time.Hour), Status: model.AvailabilityAvailable})
		require.NoError(t, err)

		_, err = tx.InsertAppointment(ctx, model.Appointment{
			PatientID:      patient,
			DoctorID:       doctor,
			AvailabilityID: &used.ID,
			StartTime:      start,
			EndTime:        start.Add(30 * time.Minute),
			Status:         model.StatusScheduled,
		})
		require.NoError(t, err)

		removed, err := tx.DeleteUnusedAvailabilities(ctx, doctor)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		left, err := tx.ListAvailabilities(ctx, doctor)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, used.ID, left[0].ID)
		return nil
	})
	require.NoError(t, err)
}

// Package store defines the unit of work every mutation in the scheduling
// core runs inside.
//
// A Store hands a transactional handle (Tx) to a function. The function
// performs all of its reads and writes against that handle; the Store
// commits if the function returns nil and aborts otherwise, so no partial
// state ever becomes visible. Row locks taken through the handle
// (LockAccount, LockAppointment, LockPayout) are held until the unit ends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/model"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrOverlap      = errors.New("scheduled appointment overlaps an existing one")
	ErrDuplicateKey = errors.New("duplicate idempotency key")
	ErrStaleStatus  = errors.New("record is no longer in the expected status")
)

// Store runs units of work.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transactional handle passed to a unit of work.
type Tx interface {
	Accounts
	Ledger
	Availabilities
	Appointments
	Payouts
	Events
}

type Accounts interface {
	CreateAccount(ctx context.Context, a model.Account) (*model.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// LockAccount reads the account and holds a write lock on it for the
	// rest of the unit of work.
	LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error)
	SetCredits(ctx context.Context, id uuid.UUID, credits int64) error
	ListAccountsByRole(ctx context.Context, role model.Role, limit int) ([]model.Account, error)
}

type Ledger interface {
	// InsertCreditTransaction appends one ledger row. A reused idempotency
	// key yields ErrDuplicateKey.
	InsertCreditTransaction(ctx context.Context, t model.CreditTransaction) (*model.CreditTransaction, error)
	SumCreditTransactions(ctx context.Context, accountID uuid.UUID) (int64, error)
	ListCreditTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]model.CreditTransaction, error)
	IdempotencyKeyExists(ctx context.Context, key string) (bool, error)
	BalanceProjections(ctx context.Context) ([]model.BalanceProjection, error)
}

type Availabilities interface {
	InsertAvailability(ctx context.Context, a model.Availability) (*model.Availability, error)
	// ListAvailabilities returns the doctor's windows, newest first.
	ListAvailabilities(ctx context.Context, doctorID uuid.UUID) ([]model.Availability, error)
	// DeleteUnusedAvailabilities removes the doctor's windows that no
	// appointment references and returns how many were removed.
	DeleteUnusedAvailabilities(ctx context.Context, doctorID uuid.UUID) (int64, error)
	// RetireAvailabilities marks the doctor's AVAILABLE windows BOOKED so no
	// new slots are cut from them.
	RetireAvailabilities(ctx context.Context, doctorID uuid.UUID) (int64, error)
}

type Appointments interface {
	// InsertAppointment yields ErrOverlap when a SCHEDULED appointment of
	// the same doctor overlaps.
	InsertAppointment(ctx context.Context, a model.Appointment) (*model.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	LockAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// ListScheduledForDoctor returns SCHEDULED appointments overlapping
	// [from, to), ordered by start.
	ListScheduledForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.Appointment, error)
	ListAppointmentsForAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]model.Appointment, error)
	// UpdateAppointmentStatus moves from -> to and yields ErrStaleStatus
	// when the row is not in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus) (*model.Appointment, error)
	UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes string) (*model.Appointment, error)
}

type Payouts interface {
	InsertPayout(ctx context.Context, p model.Payout) (*model.Payout, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error)
	LockPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error)
	// ListPayouts filters by doctor and status when they are non-nil / non-empty.
	ListPayouts(ctx context.Context, doctorID *uuid.UUID, status model.PayoutStatus) ([]model.Payout, error)
	MarkPayoutProcessed(ctx context.Context, id, processedBy uuid.UUID, at time.Time) (*model.Payout, error)
}

type Events interface {
	InsertEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]model.Event, error)
}

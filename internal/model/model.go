package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient    Role = "PATIENT"
	RoleDoctor     Role = "DOCTOR"
	RoleAdmin      Role = "ADMIN"
	RoleUnassigned Role = "UNASSIGNED"
)

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "PENDING"
	VerificationVerified VerificationStatus = "VERIFIED"
	VerificationRejected VerificationStatus = "REJECTED"
)

type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "AVAILABLE"
	AvailabilityBooked    AvailabilityStatus = "BOOKED"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// Terminal reports whether no transition may leave s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type TransactionType string

const (
	TxCreditPurchase       TransactionType = "CREDIT_PURCHASE"
	TxAppointmentDeduction TransactionType = "APPOINTMENT_DEDUCTION"
	TxAdminAdjustment      TransactionType = "ADMIN_ADJUSTMENT"
)

type PayoutStatus string

const (
	PayoutProcessing PayoutStatus = "PROCESSING"
	PayoutProcessed  PayoutStatus = "PROCESSED"
)

// Account is a patient, doctor or admin. Credits is a cached projection of
// the account's CreditTransaction rows.
type Account struct {
	ID                 uuid.UUID
	ExternalID         string
	Name               string
	Email              *string
	Role               Role
	VerificationStatus *VerificationStatus
	Specialty          *string
	Credits            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// BookableDoctor reports whether patients may book this account.
func (a *Account) BookableDoctor() bool {
	return a.Role == RoleDoctor &&
		a.VerificationStatus != nil &&
		*a.VerificationStatus == VerificationVerified
}

// Availability is a doctor-declared open window. It generates slots and is
// never itself booked.
type Availability struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    AvailabilityStatus
	CreatedAt time.Time
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	AvailabilityID     *uuid.UUID
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	PatientDescription *string
	Notes              *string
	VideoSessionID     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Participant reports whether the account is the patient or the doctor.
func (a *Appointment) Participant(accountID uuid.UUID) bool {
	return a.PatientID == accountID || a.DoctorID == accountID
}

// CreditTransaction is one immutable ledger row.
type CreditTransaction struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Amount         int64
	Type           TransactionType
	PackageID      *string
	IdempotencyKey *string
	AppointmentID  *uuid.UUID
	PayoutID       *uuid.UUID
	CreatedAt      time.Time
}

type Payout struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Credits     int64
	Status      PayoutStatus
	ProcessedBy *uuid.UUID
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BalanceProjection pairs an account's cached balance with the sum of its
// ledger rows.
type BalanceProjection struct {
	AccountID uuid.UUID
	Cached    int64
	FromLog   int64
}

func (p BalanceProjection) Drifted() bool {
	return p.Cached != p.FromLog
}

// Event is an audit record written in the same unit of work as the state
// change it describes.
type Event struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	AccountID     *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

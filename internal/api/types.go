package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/model"
)

type DeclareAvailabilityRequest struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type AvailabilityResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctorId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Status    string    `json:"status"`
}

type SlotResponse struct {
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	FormattedLabel string    `json:"formattedLabel"`
}

type DaySlotsResponse struct {
	Date         string         `json:"date"`
	DisplayLabel string         `json:"displayLabel"`
	Slots        []SlotResponse `json:"slots"`
}

type CreateAppointmentRequest struct {
	DoctorID    string    `json:"doctorId"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Description *string   `json:"description,omitempty"`
}

type CreateAppointmentResponse struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Status        string    `json:"status"`
	SessionID     string    `json:"sessionId"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patientId"`
	DoctorID           uuid.UUID `json:"doctorId"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"`
	Status             string    `json:"status"`
	PatientDescription *string   `json:"patientDescription,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	VideoSessionID     *string   `json:"videoSessionId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type ActionResponse struct {
	Success     bool                `json:"success"`
	Appointment AppointmentResponse `json:"appointment"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type VideoTokenResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type EventResponse struct {
	ID        int64     `json:"id"`
	EventType string    `json:"eventType"`
	AccountID *string   `json:"accountId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type BalanceResponse struct {
	Credits int64 `json:"credits"`
}

type TransactionResponse struct {
	ID            uuid.UUID  `json:"id"`
	Amount        int64      `json:"amount"`
	Type          string     `json:"type"`
	PackageID     *string    `json:"packageId,omitempty"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	PayoutID      *uuid.UUID `json:"payoutId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type AllocationRequest struct {
	AccountID string `json:"accountId"`
	Tier      string `json:"tier"`
}

type AllocationResponse struct {
	Applied bool  `json:"applied"`
	Credits int64 `json:"credits"`
}

type PayoutRequest struct {
	DoctorID string `json:"doctorId"`
	Amount   int64  `json:"amount"`
}

type PayoutResponse struct {
	ID          uuid.UUID  `json:"id"`
	DoctorID    uuid.UUID  `json:"doctorId"`
	Credits     int64      `json:"credits"`
	Status      string     `json:"status"`
	ProcessedBy *uuid.UUID `json:"processedBy,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAvailability(a *model.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Status:    string(a.Status),
	}
}

func toDaySlots(d availability.DaySlots) DaySlotsResponse {
	out := DaySlotsResponse{Date: d.Date, DisplayLabel: d.Label, Slots: make([]SlotResponse, 0, len(d.Slots))}
	for _, s := range d.Slots {
		out.Slots = append(out.Slots, SlotResponse{StartTime: s.Start, EndTime: s.End, FormattedLabel: s.Label})
	}
	return out
}

func toAppointment(a *model.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		PatientDescription: a.PatientDescription,
		Notes:              a.Notes,
		VideoSessionID:     a.VideoSessionID,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func toTransaction(t model.CreditTransaction) TransactionResponse {
	return TransactionResponse{
		ID:            t.ID,
		Amount:        t.Amount,
		Type:          string(t.Type),
		PackageID:     t.PackageID,
		AppointmentID: t.AppointmentID,
		PayoutID:      t.PayoutID,
		CreatedAt:     t.CreatedAt,
	}
}

func toPayout(p *model.Payout) PayoutResponse {
	return PayoutResponse{
		ID:          p.ID,
		DoctorID:    p.DoctorID,
		Credits:     p.Credits,
		Status:      string(p.Status),
		ProcessedBy: p.ProcessedBy,
		ProcessedAt: p.ProcessedAt,
		CreatedAt:   p.CreatedAt,
	}
}

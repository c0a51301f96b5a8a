package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/metrics"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/overlap"
	redisclient "github.com/hackgods/consult-scheduling/internal/redis"
	"github.com/hackgods/consult-scheduling/internal/store"
	"github.com/hackgods/consult-scheduling/internal/video"
)

var tracer = otel.Tracer("consult.internal.appointment")

type Deps struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Slots   SlotChecker
	Video   video.Provider
	Locker  redisclient.Locker
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	slots   SlotChecker
	video   video.Provider
	locker  redisclient.Locker
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewService(d Deps) *Service {
	if d.Locker == nil {
		d.Locker = redisclient.NopLocker{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(d.Metrics)
	}
	return &Service{
		store:   d.Store,
		ledger:  d.Ledger,
		slots:   d.Slots,
		video:   d.Video,
		locker:  d.Locker,
		clock:   d.Clock,
		metrics: d.Metrics,
		logger:  d.Logger,
	}
}

// Create books a slot for the calling patient. The debit, the video session
// and the SCHEDULED row commit together or not at all.
func (s *Service) Create(ctx context.Context, caller identity.Caller, in CreateInput) (created *model.Appointment, err error) {
	const op = "appointment.Create"

	ctx, span := startSpan(ctx, op, caller)
	defer func() { endSpan(span, err) }()

	if !caller.Is(model.RolePatient) {
		return nil, apperr.Authorization(op, "only patients can book appointments")
	}
	if in.DoctorID == uuid.Nil {
		return nil, apperr.Validation(op, "doctor id is required")
	}
	iv, err := overlap.New(in.Start, in.End)
	if err != nil {
		return nil, err
	}
	if iv.Start.Before(s.clock.Now()) {
		return nil, apperr.Validation(op, "start time is in the past")
	}
	if in.Description != nil && strings.TrimSpace(*in.Description) == "" {
		in.Description = nil
	}

	// A retried unit of work calls the provider again, so every session
	// created along the way is tracked and the unused ones released.
	var (
		sessions []string
		receipt  ledger.Receipt
	)

	err = s.locker.WithDoctorLock(ctx, in.DoctorID, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			created = nil

			doctor, err := tx.GetAccount(ctx, in.DoctorID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && !doctor.BookableDoctor()) {
				return apperr.NotFound(op, "doctor not found")
			}
			if err != nil {
				return fmt.Errorf("load doctor: %w", err)
			}

			patient, err := tx.GetAccount(ctx, caller.AccountID)
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound(op, "patient not found")
			}
			if err != nil {
				return fmt.Errorf("load patient: %w", err)
			}
			if patient.Credits < ledger.AppointmentCost {
				return apperr.New(apperr.ErrInsufficientCredits, op,
					fmt.Sprintf("booking costs %d credits, balance is %d", ledger.AppointmentCost, patient.Credits))
			}

			window, err := s.slots.SlotFor(ctx, tx, doctor.ID, iv)
			if err != nil {
				return err
			}

			scheduled, err := tx.ListScheduledForDoctor(ctx, doctor.ID, iv.Start, iv.End)
			if err != nil {
				return fmt.Errorf("list scheduled appointments: %w", err)
			}
			existing := make([]overlap.Interval, 0, len(scheduled))
			for _, a := range scheduled {
				existing = append(existing, overlap.Interval{Start: a.StartTime, End: a.EndTime})
			}
			conflict, err := overlap.ConflictsAny(iv, existing)
			if err != nil {
				return err
			}
			if conflict {
				return apperr.Conflict(op, "slot is already booked")
			}

			apptID := uuid.New()
			receipt, err = s.ledger.BookingDebit(ctx, tx, patient.ID, doctor.ID, apptID)
			if err != nil {
				return err
			}

			sessionID, err := s.video.CreateSession(ctx)
			if err != nil {
				return err
			}
			sessions = append(sessions, sessionID)

			appt, err := tx.InsertAppointment(ctx, model.Appointment{
				ID:                 apptID,
				PatientID:          patient.ID,
				DoctorID:           doctor.ID,
				AvailabilityID:     &window.ID,
				StartTime:          iv.Start,
				EndTime:            iv.End,
				Status:             model.StatusScheduled,
				PatientDescription: in.Description,
				VideoSessionID:     &sessionID,
			})
			if errors.Is(err, store.ErrOverlap) {
				return apperr.Wrap(apperr.ErrConflict, op, "slot is already booked", err)
			}
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			if err := s.logEvent(ctx, tx, appt.ID, caller.AccountID, EventAppointmentCreated, map[string]any{
				"doctor_id":  doctor.ID.String(),
				"patient_id": patient.ID.String(),
				"start_time": appt.StartTime,
				"end_time":   appt.EndTime,
				"cost":       ledger.AppointmentCost,
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})

	if err != nil {
		created = nil
	}
	s.releaseUnused(ctx, sessions, created)

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		err = apperr.Wrap(apperr.ErrConflict, op, "doctor is being booked, please retry", err)
	}
	if err != nil {
		s.metrics.ObserveBooking(bookingOutcome(err))
		return nil, err
	}

	s.ledger.Committed(receipt)
	s.metrics.ObserveBooking("created")
	s.logger.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.String("patient_id", created.PatientID.String()),
		zap.Time("start", created.StartTime),
	)
	return created, nil
}

// releaseUnused discards provider sessions that did not end up on a
// committed appointment.
func (s *Service) releaseUnused(ctx context.Context, sessions []string, committed *model.Appointment) {
	releaser, ok := s.video.(video.SessionReleaser)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range sessions {
		if committed != nil && committed.VideoSessionID != nil && *committed.VideoSessionID == id {
			continue
		}
		if err := releaser.ReleaseSession(ctx, id); err != nil {
			s.logger.Warn("release video session", zap.String("session_id", id), zap.Error(err))
		}
	}
}

// Cancel moves a SCHEDULED appointment to CANCELLED and refunds the patient.
func (s *Service) Cancel(ctx context.Context, caller identity.Caller, id uuid.UUID) (updated *model.Appointment, err error) {
	const op = "appointment.Cancel"

	ctx, span := startSpan(ctx, op, caller)
	defer func() { endSpan(span, err) }()

	var receipt ledger.Receipt
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		appt, err := s.lockForTransition(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if !appt.Participant(caller.AccountID) {
			return apperr.Authorization(op, "only the patient or the doctor can cancel")
		}
		if updated, err = s.transition(ctx, tx, op, appt, model.StatusCancelled); err != nil {
			return err
		}

		receipt, err = s.ledger.CancellationCompensation(ctx, tx, appt.PatientID, appt.DoctorID, appt.ID)
		if err != nil {
			return err
		}

		return s.logEvent(ctx, tx, appt.ID, caller.AccountID, EventAppointmentCancelled, map[string]any{
			"cancelled_by": string(caller.Role),
			"refund":       ledger.AppointmentCost,
		})
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Committed(receipt)
	s.metrics.ObserveTransition(string(model.StatusCancelled))
	if updated.VideoSessionID != nil {
		s.releaseUnused(ctx, []string{*updated.VideoSessionID}, nil)
	}
	s.logger.Info("appointment cancelled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("by", caller.AccountID.String()),
	)
	return updated, nil
}

// Complete marks a SCHEDULED appointment COMPLETED once it has ended.
func (s *Service) Complete(ctx context.Context, caller identity.Caller, id uuid.UUID) (updated *model.Appointment, err error) {
	const op = "appointment.Complete"

	ctx, span := startSpan(ctx, op, caller)
	defer func() { endSpan(span, err) }()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		appt, err := s.lockForTransition(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if appt.DoctorID != caller.AccountID {
			return apperr.Authorization(op, "only the doctor can complete the appointment")
		}
		if appt.Status != model.StatusScheduled {
			return transitionError(op, appt.Status, model.StatusCompleted)
		}
		if s.clock.Now().Before(appt.EndTime) {
			return apperr.Premature(op, "appointment has not ended yet")
		}
		if updated, err = s.transition(ctx, tx, op, appt, model.StatusCompleted); err != nil {
			return err
		}
		return s.logEvent(ctx, tx, appt.ID, caller.AccountID, EventAppointmentCompleted, map[string]any{})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(model.StatusCompleted))
	return updated, nil
}

// AttachNotes stores the doctor's notes on a SCHEDULED appointment.
func (s *Service) AttachNotes(ctx context.Context, caller identity.Caller, id uuid.UUID, notes string) (updated *model.Appointment, err error) {
	const op = "appointment.AttachNotes"

	ctx, span := startSpan(ctx, op, caller)
	defer func() { endSpan(span, err) }()

	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, apperr.Validation(op, "notes are required")
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		appt, err := s.lockForTransition(ctx, tx, op, id)
		if err != nil {
			return err
		}
		if appt.DoctorID != caller.AccountID {
			return apperr.Authorization(op, "only the doctor can attach notes")
		}
		if appt.Status != model.StatusScheduled {
			return apperr.Wrap(apperr.ErrConflict, op,
				fmt.Sprintf("cannot attach notes to a %s appointment", appt.Status), ErrInvalidStatusTransition)
		}
		if updated, err = tx.UpdateAppointmentNotes(ctx, appt.ID, notes); err != nil {
			return fmt.Errorf("update notes: %w", err)
		}
		return s.logEvent(ctx, tx, appt.ID, caller.AccountID, EventNotesAttached, map[string]any{
			"length": len(notes),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// IssueVideoToken returns a join token for a participant, from
// tokenLeadTime before the start until tokenGrace after the end.
func (s *Service) IssueVideoToken(ctx context.Context, caller identity.Caller, id uuid.UUID) (tok *VideoToken, err error) {
	const op = "appointment.IssueVideoToken"

	ctx, span := startSpan(ctx, op, caller)
	defer func() { endSpan(span, err) }()

	var (
		appt *model.Appointment
		acct *model.Account
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		appt, err = tx.GetAppointment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "appointment not found")
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if !appt.Participant(caller.AccountID) {
			return apperr.Authorization(op, "only participants can join the call")
		}
		acct, err = tx.GetAccount(ctx, caller.AccountID)
		if err != nil {
			return fmt.Errorf("load caller: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if appt.Status != model.StatusScheduled {
		return nil, apperr.Conflict(op, fmt.Sprintf("appointment is %s", appt.Status))
	}
	if appt.VideoSessionID == nil || *appt.VideoSessionID == "" {
		return nil, apperr.Conflict(op, "appointment has no video session")
	}

	now := s.clock.Now()
	if now.Before(appt.StartTime.Add(-tokenLeadTime)) {
		return nil, apperr.Premature(op, fmt.Sprintf("the call opens %s before the start", tokenLeadTime))
	}
	expiresAt := appt.EndTime.Add(tokenGrace)
	if !now.Before(expiresAt) {
		return nil, apperr.Validation(op, "the call window has closed")
	}

	data, err := json.Marshal(tokenData{
		Name:      acct.Name,
		Role:      strings.ToLower(string(caller.Role)),
		AccountID: caller.AccountID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token data: %w", err)
	}

	token, err := s.video.GenerateToken(ctx, *appt.VideoSessionID, video.TokenOptions{
		Role:     video.RolePublisher,
		ExpireAt: expiresAt,
		Data:     string(data),
	})
	if err != nil {
		return nil, err
	}
	return &VideoToken{Token: token, SessionID: *appt.VideoSessionID, ExpiresAt: expiresAt}, nil
}

// Get returns an appointment visible to its participants and admins.
func (s *Service) Get(ctx context.Context, caller identity.Caller, id uuid.UUID) (*model.Appointment, error) {
	const op = "appointment.Get"

	var appt *model.Appointment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		appt, err = tx.GetAppointment(ctx, id)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !appt.Participant(caller.AccountID) && !caller.Is(model.RoleAdmin) {
		return nil, apperr.Authorization(op, "not a participant")
	}
	return appt, nil
}

// ListForCaller lists the caller's appointments as patient or doctor, newest
// first.
func (s *Service) ListForCaller(ctx context.Context, caller identity.Caller, limit, offset int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var appts []model.Appointment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		appts, err = tx.ListAppointmentsForAccount(ctx, caller.AccountID, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Events returns the audit trail of an appointment.
func (s *Service) Events(ctx context.Context, caller identity.Caller, id uuid.UUID) ([]model.Event, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	var events []model.Event
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		events, err = tx.ListEvents(ctx, id)
		return err
	})
	return events, err
}

func (s *Service) lockForTransition(ctx context.Context, tx store.Tx, op string, id uuid.UUID) (*model.Appointment, error) {
	appt, err := tx.LockAppointment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "appointment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) transition(ctx context.Context, tx store.Tx, op string, appt *model.Appointment, to model.AppointmentStatus) (*model.Appointment, error) {
	if appt.Status != model.StatusScheduled {
		return nil, transitionError(op, appt.Status, to)
	}
	updated, err := tx.UpdateAppointmentStatus(ctx, appt.ID, model.StatusScheduled, to)
	if errors.Is(err, store.ErrStaleStatus) {
		return nil, transitionError(op, appt.Status, to)
	}
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

func (s *Service) logEvent(ctx context.Context, tx store.Tx, appointmentID, accountID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID, acctID := appointmentID, accountID
	ev := model.Event{
		EventType:     eventType,
		AppointmentID: &apptID,
		AccountID:     &acctID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}
	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event log %s: %w", eventType, err)
	}
	return nil
}

func bookingOutcome(err error) string {
	switch apperr.KindOf(err) {
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrInsufficientCredits:
		return "insufficient_credits"
	case apperr.ErrExternalService:
		return "video_failure"
	case apperr.ErrValidation, apperr.ErrNotFound, apperr.ErrAuthorization:
		return "rejected"
	default:
		return "error"
	}
}

func startSpan(ctx context.Context, op string, caller identity.Caller) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, op)
	span.SetAttributes(
		attribute.String("caller.id", caller.AccountID.String()),
		attribute.String("caller.role", string(caller.Role)),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

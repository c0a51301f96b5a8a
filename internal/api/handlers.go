package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/appointment"
	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/payout"
)

type Handler struct {
	appointments *appointment.Service
	planner      *availability.Planner
	credits      *ledger.Service
	payouts      *payout.Processor
	logger       *zap.Logger
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, h.logger, err)
}

// caller is set by Authenticate on every route that reaches a handler.
func caller(r *http.Request) identity.Caller {
	c, _ := identity.FromContext(r.Context())
	return c
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("api", name+" must be a valid UUID")
	}
	return id, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("api", name+" must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) declareAvailability(w http.ResponseWriter, r *http.Request) {
	var req DeclareAvailabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.planner.Declare(r.Context(), caller(r), req.StartTime, req.EndTime)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAvailability(a))
}

func (h *Handler) doctorAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	windows, err := h.planner.Windows(r.Context(), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]AvailabilityResponse, 0, len(windows))
	for i := range windows {
		resp = append(resp, toAvailability(&windows[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) doctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := h.planner.Slots(r.Context(), doctorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := []DaySlotsResponse{}
	for d := range days {
		resp = append(resp, toDaySlots(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		h.fail(w, r, apperr.Validation("api", "doctorId must be a valid UUID"))
		return
	}

	appt, err := h.appointments.Create(r.Context(), caller(r), appointment.CreateInput{
		DoctorID:    doctorID,
		Start:       req.StartTime,
		End:         req.EndTime,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := CreateAppointmentResponse{AppointmentID: appt.ID, Status: string(appt.Status)}
	if appt.VideoSessionID != nil {
		resp.SessionID = *appt.VideoSessionID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appts, err := h.appointments.ListForCaller(r.Context(), caller(r), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		resp = append(resp, toAppointment(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.appointments.Get(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointment(appt))
}

func (h *Handler) appointmentEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	events, err := h.appointments.Events(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		out := EventResponse{ID: ev.ID, EventType: ev.EventType, CreatedAt: ev.CreatedAt}
		if ev.AccountID != nil {
			s := ev.AccountID.String()
			out.AccountID = &s
		}
		if len(ev.Payload) > 0 {
			out.Payload = json.RawMessage(ev.Payload)
		}
		resp = append(resp, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

type transitionFunc func(h *Handler, r *http.Request, id uuid.UUID) (*model.Appointment, error)

// transitionHandler runs one caller-driven state change on the appointment
// named in the path.
func (h *Handler) transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		appt, err := fn(h, r, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, Appointment: toAppointment(appt)})
	}
}

func cancelAppointment(h *Handler, r *http.Request, id uuid.UUID) (*model.Appointment, error) {
	return h.appointments.Cancel(r.Context(), caller(r), id)
}

func completeAppointment(h *Handler, r *http.Request, id uuid.UUID) (*model.Appointment, error) {
	return h.appointments.Complete(r.Context(), caller(r), id)
}

func (h *Handler) attachNotes(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req NotesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.appointments.AttachNotes(r.Context(), caller(r), id, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Appointment: toAppointment(appt)})
}

func (h *Handler) videoToken(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tok, err := h.appointments.IssueVideoToken(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VideoTokenResponse{Token: tok.Token, SessionID: tok.SessionID, ExpiresAt: tok.ExpiresAt})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	credits, err := h.credits.Balance(r.Context(), caller(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Credits: credits})
}

func (h *Handler) transactions(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rows, err := h.credits.Transactions(r.Context(), caller(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]TransactionResponse, 0, len(rows))
	for _, t := range rows {
		resp = append(resp, toTransaction(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		h.fail(w, r, apperr.Validation("api", "accountId must be a valid UUID"))
		return
	}
	credits, applied, err := h.credits.Allocate(r.Context(), caller(r), accountID, ledger.Tier(req.Tier))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResponse{Applied: applied, Credits: credits})
}

func (h *Handler) requestPayout(w http.ResponseWriter, r *http.Request) {
	var req PayoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		h.fail(w, r, apperr.Validation("api", "doctorId must be a valid UUID"))
		return
	}
	po, err := h.payouts.Request(r.Context(), caller(r), doctorID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayout(po))
}

func (h *Handler) approvePayout(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	po, err := h.payouts.Approve(r.Context(), caller(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayout(po))
}

func (h *Handler) listPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.payouts.List(r.Context(), caller(r), model.PayoutStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]PayoutResponse, 0, len(payouts))
	for i := range payouts {
		resp = append(resp, toPayout(&payouts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
)

type errorStatus struct {
	status int
	code   string
}

var kindStatus = map[error]errorStatus{
	apperr.ErrValidation:          {http.StatusBadRequest, "validation_error"},
	apperr.ErrUnauthenticated:     {http.StatusUnauthorized, "unauthenticated"},
	apperr.ErrAuthorization:       {http.StatusForbidden, "forbidden"},
	apperr.ErrNotFound:            {http.StatusNotFound, "not_found"},
	apperr.ErrConflict:            {http.StatusConflict, "conflict"},
	apperr.ErrInsufficientCredits: {http.StatusPaymentRequired, "insufficient_credits"},
	apperr.ErrInsufficientBalance: {http.StatusUnprocessableEntity, "insufficient_balance"},
	apperr.ErrPrematureAction:     {http.StatusTooEarly, "premature_action"},
	apperr.ErrExternalService:     {http.StatusBadGateway, "external_service_error"},
}

// statusFor maps an error kind to its HTTP status and error code. Errors
// without a kind are internal.
func statusFor(err error) errorStatus {
	if s, ok := kindStatus[apperr.KindOf(err)]; ok {
		return s
	}
	return errorStatus{http.StatusInternalServerError, "internal_error"}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError renders err with its kind's status. Internal errors are
// logged and their detail is withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	s := statusFor(err)
	if s.status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, s.status, s.code, "internal error")
		return
	}
	writeError(w, s.status, s.code, err.Error())
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("api.decode", "request body too large")
		}
		return apperr.Wrap(apperr.ErrValidation, "api.decode", "could not parse JSON", err)
	}
	return nil
}

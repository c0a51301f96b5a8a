package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/model"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventNotesAttached        = "APPOINTMENT_NOTES_ATTACHED"
)

const (
	// Video tokens are issued from this long before the start...
	tokenLeadTime = 30 * time.Minute
	// ...and stay valid until this long after the end.
	tokenGrace = 60 * time.Minute

	defaultListLimit = 20
	maxListLimit     = 100
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

type CreateInput struct {
	DoctorID    uuid.UUID
	Start       time.Time
	End         time.Time
	Description *string
}

// VideoToken lets a participant join the appointment's video session.
type VideoToken struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// tokenData is the opaque payload attached to a join token.
type tokenData struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	AccountID string `json:"account_id"`
}

func transitionError(op string, from, to model.AppointmentStatus) error {
	return apperr.Wrap(apperr.ErrConflict, op,
		fmt.Sprintf("cannot move appointment from %s to %s", from, to),
		ErrInvalidStatusTransition)
}

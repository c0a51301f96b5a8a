package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/overlap"
	"github.com/hackgods/consult-scheduling/internal/store"
)

// SlotChecker validates a requested interval against the doctor's declared
// availability inside the booking unit of work.
type SlotChecker interface {
	SlotFor(ctx context.Context, tx store.Tx, doctorID uuid.UUID, iv overlap.Interval) (*model.Availability, error)
}

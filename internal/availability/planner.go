// Package availability turns a doctor's declared window into bookable slots.
//
// A doctor declares one wall-clock window (say 09:00 to 11:00). The planner
// projects that window onto every day of the horizon in the canonical clock's
// location, cuts it into fixed-length slots, and drops slots that already
// started or that overlap a SCHEDULED appointment.
package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/overlap"
	"github.com/hackgods/consult-scheduling/internal/store"
)

const (
	DefaultHorizonDays  = 4
	DefaultSlotDuration = 30 * time.Minute

	DateLayout      = "2006-01-02"
	DayLabelLayout  = "Monday, January 2"
	slotLabelLayout = "3:04 PM"
)

// ErrNoAvailability means the doctor has not declared an AVAILABLE window.
var ErrNoAvailability = apperr.NotFound("availability", "doctor has no available window")

type Slot struct {
	Start time.Time
	End   time.Time
	Label string
}

// DaySlots is one calendar day of candidate slots.
type DaySlots struct {
	Date  string
	Label string
	Slots []Slot
}

type Options struct {
	HorizonDays  int
	SlotDuration time.Duration
}

type Planner struct {
	store  store.Store
	clock  clock.Clock
	opts   Options
	logger *zap.Logger
}

func NewPlanner(st store.Store, clk clock.Clock, opts Options, logger *zap.Logger) *Planner {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	if opts.SlotDuration <= 0 {
		opts.SlotDuration = DefaultSlotDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{store: st, clock: clk, opts: opts, logger: logger}
}

func (p *Planner) SlotDuration() time.Duration { return p.opts.SlotDuration }

// Declare replaces the calling doctor's window. Windows referenced by an
// appointment are kept for history; the rest are pruned.
func (p *Planner) Declare(ctx context.Context, caller identity.Caller, start, end time.Time) (*model.Availability, error) {
	const op = "availability.Declare"

	if !caller.Is(model.RoleDoctor) {
		return nil, apperr.Authorization(op, "only doctors can declare availability")
	}
	if _, err := overlap.New(start, end); err != nil {
		return nil, err
	}

	var created *model.Availability
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		doctor, err := tx.LockAccount(ctx, caller.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound(op, "doctor not found")
		}
		if err != nil {
			return fmt.Errorf("load doctor: %w", err)
		}
		if doctor.Role != model.RoleDoctor {
			return apperr.Authorization(op, "account is not a doctor")
		}

		pruned, err := tx.DeleteUnusedAvailabilities(ctx, doctor.ID)
		if err != nil {
			return err
		}
		// Windows that still back appointments stay, retired.
		retired, err := tx.RetireAvailabilities(ctx, doctor.ID)
		if err != nil {
			return err
		}

		created, err = tx.InsertAvailability(ctx, model.Availability{
			DoctorID:  doctor.ID,
			StartTime: start,
			EndTime:   end,
			Status:    model.AvailabilityAvailable,
		})
		if err != nil {
			return err
		}

		p.logger.Info("availability declared",
			zap.String("doctor_id", doctor.ID.String()),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int64("pruned", pruned),
			zap.Int64("retired", retired),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Windows lists the doctor's windows, newest first.
func (p *Planner) Windows(ctx context.Context, doctorID uuid.UUID) ([]model.Availability, error) {
	var windows []model.Availability
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		windows, err = tx.ListAvailabilities(ctx, doctorID)
		return err
	})
	return windows, err
}

// Slots plans with the configured horizon and slot length from the current
// time.
func (p *Planner) Slots(ctx context.Context, doctorID uuid.UUID) (iter.Seq[DaySlots], error) {
	return p.PlanSlots(ctx, doctorID, p.opts.HorizonDays, p.opts.SlotDuration, p.clock.Now())
}

// PlanSlots returns the candidate slots for each day of the horizon, today
// included. The sequence reads a snapshot taken here and may be ranged over
// any number of times.
func (p *Planner) PlanSlots(ctx context.Context, doctorID uuid.UUID, horizonDays int, slotDuration time.Duration, now time.Time) (iter.Seq[DaySlots], error) {
	const op = "availability.PlanSlots"

	if horizonDays <= 0 {
		return nil, apperr.Validation(op, "horizon must be at least one day")
	}
	if slotDuration <= 0 {
		return nil, apperr.Validation(op, "slot duration must be positive")
	}

	loc := p.clock.Location()
	today := midnight(now.In(loc))
	horizonEnd := today.AddDate(0, 0, horizonDays)

	var (
		window *model.Availability
		booked []overlap.Interval
	)
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		window, err = activeWindow(ctx, tx, doctorID)
		if err != nil {
			return err
		}
		scheduled, err := tx.ListScheduledForDoctor(ctx, doctorID, today, horizonEnd)
		if err != nil {
			return fmt.Errorf("list scheduled appointments: %w", err)
		}
		booked = make([]overlap.Interval, 0, len(scheduled))
		for _, a := range scheduled {
			iv := overlap.Interval{Start: a.StartTime, End: a.EndTime}
			if err := iv.Validate(); err != nil {
				return fmt.Errorf("appointment %s: %w", a.ID, err)
			}
			booked = append(booked, iv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return func(yield func(DaySlots) bool) {
		for i := 0; i < horizonDays; i++ {
			day := today.AddDate(0, 0, i)
			group := DaySlots{Date: day.Format(DateLayout), Label: day.Format(DayLabelLayout)}

			if projected, ok := project(window, day, loc); ok {
				group.Slots = cut(projected, slotDuration, now, booked)
			}
			if !yield(group) {
				return
			}
		}
	}, nil
}

// SlotFor checks, inside a booking unit of work, that iv is exactly one slot
// of the doctor's active window on iv's day and returns that window.
func (p *Planner) SlotFor(ctx context.Context, tx store.Tx, doctorID uuid.UUID, iv overlap.Interval) (*model.Availability, error) {
	const op = "availability.SlotFor"

	if err := iv.Validate(); err != nil {
		return nil, err
	}
	if iv.Duration() != p.opts.SlotDuration {
		return nil, apperr.Validation(op, fmt.Sprintf("appointments last %s", p.opts.SlotDuration))
	}

	window, err := activeWindow(ctx, tx, doctorID)
	if err != nil {
		return nil, err
	}

	loc := p.clock.Location()
	projected, ok := project(window, midnight(iv.Start.In(loc)), loc)
	if !ok || !overlap.Within(projected, iv) {
		return nil, apperr.Validation(op, "requested time is outside the doctor's availability")
	}
	if iv.Start.Sub(projected.Start)%p.opts.SlotDuration != 0 {
		return nil, apperr.Validation(op, "requested time is not aligned to a slot")
	}
	return window, nil
}

// activeWindow is the doctor's newest AVAILABLE window.
func activeWindow(ctx context.Context, tx store.Tx, doctorID uuid.UUID) (*model.Availability, error) {
	windows, err := tx.ListAvailabilities(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	for i := range windows {
		if windows[i].Status == model.AvailabilityAvailable {
			return &windows[i], nil
		}
	}
	return nil, ErrNoAvailability
}

// project moves the window's wall-clock start and end onto day. Windows whose
// projected end is not after the projected start yield nothing.
func project(w *model.Availability, day time.Time, loc *time.Location) (overlap.Interval, bool) {
	at := func(t time.Time) time.Time {
		t = t.In(loc)
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	}
	iv := overlap.Interval{Start: at(w.StartTime), End: at(w.EndTime)}
	if !iv.Start.Before(iv.End) {
		return overlap.Interval{}, false
	}
	return iv, true
}

func cut(window overlap.Interval, d time.Duration, now time.Time, booked []overlap.Interval) []Slot {
	var slots []Slot
	for start := window.Start; !start.Add(d).After(window.End); start = start.Add(d) {
		candidate := overlap.Interval{Start: start, End: start.Add(d)}
		if candidate.Start.Before(now) {
			continue
		}
		// booked is validated by PlanSlots; an error still hides the slot.
		if conflict, err := overlap.ConflictsAny(candidate, booked); err != nil || conflict {
			continue
		}
		slots = append(slots, Slot{
			Start: candidate.Start,
			End:   candidate.End,
			Label: candidate.Start.Format(slotLabelLayout) + " - " + candidate.End.Format(slotLabelLayout),
		})
	}
	return slots
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

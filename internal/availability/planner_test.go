package availability

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/overlap"
	"github.com/hackgods/consult-scheduling/internal/store"
	"github.com/hackgods/consult-scheduling/internal/store/memory"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	clock   *clock.Fixed
	planner *Planner
	doctor  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), clock: &clock.Fixed{T: monday.Add(9*time.Hour + 40*time.Minute)}}
	f.planner = NewPlanner(f.store, f.clock, Options{}, nil)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		a, err := tx.CreateAccount(ctx, model.Account{Name: "Dr. Grey", Role: model.RoleDoctor})
		f.doctor = a.ID
		return err
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) declare(t *testing.T, start, end time.Time) {
	t.Helper()
	_, err := f.planner.Declare(context.Background(), identity.Caller{AccountID: f.doctor, Role: model.RoleDoctor}, start, end)
	require.NoError(t, err)
}

func (f *fixture) book(t *testing.T, start time.Time) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertAppointment(ctx, model.Appointment{
			PatientID: uuid.New(),
			DoctorID:  f.doctor,
			StartTime: start,
			EndTime:   start.Add(30 * time.Minute),
			Status:    model.StatusScheduled,
		})
		return err
	})
	require.NoError(t, err)
}

func collect(seq iter.Seq[DaySlots]) []DaySlots {
	var days []DaySlots
	for d := range seq {
		days = append(days, d)
	}
	return days
}

func starts(d DaySlots) []string {
	out := make([]string, 0, len(d.Slots))
	for _, s := range d.Slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestPlanSlotsDropsPastAndBooked(t *testing.T) {
	f := newFixture(t)
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	f.book(t, monday.AddDate(0, 0, 1).Add(10*time.Hour))

	seq, err := f.planner.PlanSlots(context.Background(), f.doctor, 2, 30*time.Minute, f.clock.Now())
	require.NoError(t, err)

	days := collect(seq)
	require.Len(t, days, 2)

	assert.Equal(t, "2026-03-02", days[0].Date)
	assert.Equal(t, "Monday, March 2", days[0].Label)
	assert.Equal(t, []string{"10:00", "10:30"}, starts(days[0]))
	assert.Equal(t, "10:00 AM - 10:30 AM", days[0].Slots[0].Label)

	assert.Equal(t, "Tuesday, March 3", days[1].Label)
	assert.Equal(t, []string{"09:00", "09:30", "10:30"}, starts(days[1]))
}

func TestPlanSlotsIsRestartable(t *testing.T) {
	f := newFixture(t)
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))

	seq, err := f.planner.Slots(context.Background(), f.doctor)
	require.NoError(t, err)

	first := collect(seq)
	second := collect(seq)
	assert.Len(t, first, DefaultHorizonDays)
	assert.Equal(t, first, second)

	// Early exit stops the walk.
	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestPlanSlotsUsesNewestWindow(t *testing.T) {
	f := newFixture(t)
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	f.clock.Advance(time.Second)
	f.declare(t, monday.Add(14*time.Hour), monday.Add(15*time.Hour))

	windows, err := f.planner.Windows(context.Background(), f.doctor)
	require.NoError(t, err)
	require.Len(t, windows, 1, "unreferenced window is pruned")

	seq, err := f.planner.PlanSlots(context.Background(), f.doctor, 1, 30*time.Minute, f.clock.Now())
	require.NoError(t, err)
	days := collect(seq)
	assert.Equal(t, []string{"14:00", "14:30"}, starts(days[0]))
}

func TestPlanSlotsNoAvailability(t *testing.T) {
	f := newFixture(t)

	_, err := f.planner.PlanSlots(context.Background(), f.doctor, 4, 30*time.Minute, f.clock.Now())
	require.ErrorIs(t, err, ErrNoAvailability)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, apperr.IsInternal(err))
}

func TestPlanSlotsProjectsInClockLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	f := newFixture(t)
	f.clock.Loc = ny
	f.clock.T = time.Date(2026, 3, 2, 6, 0, 0, 0, ny)

	// 09:00-10:00 New York time, declared through UTC instants.
	f.declare(t, time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	seq, err := f.planner.PlanSlots(context.Background(), f.doctor, 1, 30*time.Minute, f.clock.Now())
	require.NoError(t, err)
	days := collect(seq)
	require.Len(t, days[0].Slots, 2)
	assert.Equal(t, "9:00 AM - 9:30 AM", days[0].Slots[0].Label)
}

func TestPlanSlotsSkipsInvertedProjection(t *testing.T) {
	f := newFixture(t)
	// 22:00 to 01:00 the next day projects onto an inverted range.
	f.declare(t, monday.Add(22*time.Hour), monday.Add(25*time.Hour))

	seq, err := f.planner.PlanSlots(context.Background(), f.doctor, 2, 30*time.Minute, f.clock.Now())
	require.NoError(t, err)
	for d := range seq {
		assert.Empty(t, d.Slots)
	}
}

func TestPlanSlotsRejectsBadArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.planner.PlanSlots(context.Background(), f.doctor, 0, 30*time.Minute, f.clock.Now())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.planner.PlanSlots(context.Background(), f.doctor, 1, 0, f.clock.Now())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPlanSlotsRejectsMalformedBooking(t *testing.T) {
	f := newFixture(t)
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertAppointment(ctx, model.Appointment{
			PatientID: uuid.New(),
			DoctorID:  f.doctor,
			StartTime: monday.Add(11 * time.Hour),
			EndTime:   monday.Add(10 * time.Hour),
			Status:    model.StatusScheduled,
		})
		return err
	})
	require.NoError(t, err)

	_, err = f.planner.PlanSlots(context.Background(), f.doctor, 1, 30*time.Minute, f.clock.Now())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeclare(t *testing.T) {
	f := newFixture(t)

	_, err := f.planner.Declare(context.Background(), identity.Caller{AccountID: f.doctor, Role: model.RolePatient},
		monday.Add(9*time.Hour), monday.Add(10*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.planner.Declare(context.Background(), identity.Caller{AccountID: f.doctor, Role: model.RoleDoctor},
		monday.Add(10*time.Hour), monday.Add(9*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.planner.Declare(context.Background(), identity.Caller{AccountID: uuid.New(), Role: model.RoleDoctor},
		monday.Add(9*time.Hour), monday.Add(10*time.Hour))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeclareRetiresReferencedWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	f.declare(t, monday.Add(13*time.Hour), monday.Add(15*time.Hour))

	windows, err := f.planner.Windows(ctx, f.doctor)
	require.NoError(t, err)
	require.Len(t, windows, 1, "unreferenced windows are pruned")
	old := windows[0]

	err = f.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertAppointment(ctx, model.Appointment{
			PatientID:      uuid.New(),
			DoctorID:       f.doctor,
			AvailabilityID: &old.ID,
			StartTime:      monday.AddDate(0, 0, 1).Add(13 * time.Hour),
			EndTime:        monday.AddDate(0, 0, 1).Add(13*time.Hour + 30*time.Minute),
			Status:         model.StatusScheduled,
		})
		return err
	})
	require.NoError(t, err)

	f.declare(t, monday.Add(16*time.Hour), monday.Add(17*time.Hour))

	windows, err = f.planner.Windows(ctx, f.doctor)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, model.AvailabilityAvailable, windows[0].Status)
	assert.Equal(t, old.ID, windows[1].ID)
	assert.Equal(t, model.AvailabilityBooked, windows[1].Status)
}

func TestSlotFor(t *testing.T) {
	f := newFixture(t)
	f.declare(t, monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	wednesday := monday.AddDate(0, 0, 2)

	check := func(start time.Time, d time.Duration) error {
		return f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := f.planner.SlotFor(ctx, tx, f.doctor, overlap.Interval{Start: start, End: start.Add(d)})
			return err
		})
	}

	assert.NoError(t, check(wednesday.Add(10*time.Hour+30*time.Minute), 30*time.Minute))
	assert.ErrorIs(t, check(wednesday.Add(10*time.Hour+45*time.Minute), 30*time.Minute), apperr.ErrValidation)
	assert.ErrorIs(t, check(wednesday.Add(10*time.Hour+15*time.Minute), 30*time.Minute), apperr.ErrValidation)
	assert.ErrorIs(t, check(wednesday.Add(10*time.Hour), time.Hour), apperr.ErrValidation)
	assert.ErrorIs(t, check(wednesday.Add(8*time.Hour), 30*time.Minute), apperr.ErrValidation)
}

package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/store"
	"github.com/hackgods/consult-scheduling/internal/store/memory"
	"github.com/hackgods/consult-scheduling/internal/video"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeVideo struct {
	mu       sync.Mutex
	created  []string
	released []string
	fail     bool
	onCreate func()
	lastOpts video.TokenOptions
}

func (f *fakeVideo) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", apperr.External("video.create_session", errors.New("provider down"))
	}
	id := fmt.Sprintf("sess-%d", len(f.created)+1)
	f.created = append(f.created, id)
	if f.onCreate != nil {
		f.onCreate()
	}
	return id, nil
}

func (f *fakeVideo) GenerateToken(ctx context.Context, sessionID string, opts video.TokenOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	return "token:" + sessionID, nil
}

func (f *fakeVideo) ReleaseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
	return nil
}

type fixture struct {
	store   *memory.Store
	clock   *clock.Fixed
	ledger  *ledger.Ledger
	video   *fakeVideo
	svc     *Service
	doctor  identity.Caller
	patient identity.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		clock:  &clock.Fixed{T: monday.Add(8 * time.Hour)},
		ledger: ledger.New(nil),
		video:  &fakeVideo{},
	}
	planner := availability.NewPlanner(f.store, f.clock, availability.Options{}, nil)
	f.svc = NewService(Deps{
		Store:  f.store,
		Ledger: f.ledger,
		Slots:  planner,
		Video:  f.video,
		Clock:  f.clock,
	})

	f.doctor = identity.Caller{AccountID: f.account(t, model.RoleDoctor, model.VerificationVerified, 0), Role: model.RoleDoctor}
	f.patient = identity.Caller{AccountID: f.account(t, model.RolePatient, "", 5), Role: model.RolePatient}

	_, err := planner.Declare(context.Background(), f.doctor, monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	require.NoError(t, err)
	return f
}

func (f *fixture) account(t *testing.T, role model.Role, vs model.VerificationStatus, credits int64) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		acct := model.Account{Name: "Account " + string(role), Role: role}
		if vs != "" {
			acct.VerificationStatus = &vs
		}
		a, err := tx.CreateAccount(ctx, acct)
		if err != nil {
			return err
		}
		id = a.ID
		if credits == 0 {
			return nil
		}
		_, err = f.ledger.Transfer(ctx, tx, ledger.Entry{AccountID: id, Amount: credits, Type: model.TxCreditPurchase})
		return err
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	var bal, sum int64
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		if bal, err = f.ledger.Balance(ctx, tx, id); err != nil {
			return err
		}
		sum, err = tx.SumCreditTransactions(ctx, id)
		return err
	}))
	require.Equal(t, sum, bal, "cached balance must equal the log")
	return bal
}

func (f *fixture) appointmentsOf(t *testing.T, id uuid.UUID) []model.Appointment {
	t.Helper()
	appts, err := f.svc.ListForCaller(context.Background(), identity.Caller{AccountID: id}, 0, 0)
	require.NoError(t, err)
	return appts
}

func (f *fixture) book(t *testing.T, caller identity.Caller, start time.Time) (*model.Appointment, error) {
	t.Helper()
	return f.svc.Create(context.Background(), caller, CreateInput{
		DoctorID: f.doctor.AccountID,
		Start:    start,
		End:      start.Add(30 * time.Minute),
	})
}

func TestCreateBooksAndDebits(t *testing.T) {
	f := newFixture(t)
	desc := "persistent cough"

	appt, err := f.svc.Create(context.Background(), f.patient, CreateInput{
		DoctorID:    f.doctor.AccountID,
		Start:       monday.Add(9 * time.Hour),
		End:         monday.Add(9*time.Hour + 30*time.Minute),
		Description: &desc,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusScheduled, appt.Status)
	require.NotNil(t, appt.VideoSessionID)
	assert.Equal(t, "sess-1", *appt.VideoSessionID)
	require.NotNil(t, appt.AvailabilityID)
	assert.Equal(t, &desc, appt.PatientDescription)

	assert.Equal(t, int64(3), f.balance(t, f.patient.AccountID))
	assert.Equal(t, int64(2), f.balance(t, f.doctor.AccountID))

	events, err := f.svc.Events(context.Background(), f.patient, appt.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	assert.Empty(t, f.video.released)
}

func TestCreateInsufficientCreditsHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	poor := identity.Caller{AccountID: f.account(t, model.RolePatient, "", 1), Role: model.RolePatient}

	_, err := f.book(t, poor, monday.Add(9*time.Hour))
	require.ErrorIs(t, err, apperr.ErrInsufficientCredits)

	assert.Equal(t, int64(1), f.balance(t, poor.AccountID))
	assert.Zero(t, f.balance(t, f.doctor.AccountID))
	assert.Empty(t, f.appointmentsOf(t, f.doctor.AccountID))
	assert.Empty(t, f.video.created)
}

func TestCreateVideoFailureRollsBackDebit(t *testing.T) {
	f := newFixture(t)
	f.video.fail = true

	_, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.ErrorIs(t, err, apperr.ErrExternalService)

	assert.Equal(t, int64(5), f.balance(t, f.patient.AccountID))
	assert.Zero(t, f.balance(t, f.doctor.AccountID))
	assert.Empty(t, f.appointmentsOf(t, f.patient.AccountID))
}

func TestCreateAbortAfterSessionReleasesIt(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.video.onCreate = cancel

	_, err := f.svc.Create(ctx, f.patient, CreateInput{
		DoctorID: f.doctor.AccountID,
		Start:    monday.Add(9 * time.Hour),
		End:      monday.Add(9*time.Hour + 30*time.Minute),
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"sess-1"}, f.video.released)
	assert.Equal(t, int64(5), f.balance(t, f.patient.AccountID))
	assert.Empty(t, f.appointmentsOf(t, f.patient.AccountID))
}

func TestConcurrentBookingsForSameSlot(t *testing.T) {
	f := newFixture(t)
	const n = 10
	patients := make([]identity.Caller, n)
	for i := range patients {
		patients[i] = identity.Caller{AccountID: f.account(t, model.RolePatient, "", 2), Role: model.RolePatient}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for _, p := range patients {
		wg.Add(1)
		go func(p identity.Caller) {
			defer wg.Done()
			_, err := f.book(t, p, monday.Add(10*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, int64(2), f.balance(t, f.doctor.AccountID))
	assert.Len(t, f.appointmentsOf(t, f.doctor.AccountID), 1)
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	unverified := f.account(t, model.RoleDoctor, model.VerificationPending, 0)

	tests := []struct {
		name   string
		caller identity.Caller
		in     CreateInput
		kind   error
	}{
		{
			name:   "doctor caller",
			caller: f.doctor,
			in:     CreateInput{DoctorID: f.doctor.AccountID, Start: monday.Add(9 * time.Hour), End: monday.Add(9*time.Hour + 30*time.Minute)},
			kind:   apperr.ErrAuthorization,
		},
		{
			name:   "inverted interval",
			caller: f.patient,
			in:     CreateInput{DoctorID: f.doctor.AccountID, Start: monday.Add(10 * time.Hour), End: monday.Add(9 * time.Hour)},
			kind:   apperr.ErrValidation,
		},
		{
			name:   "in the past",
			caller: f.patient,
			in:     CreateInput{DoctorID: f.doctor.AccountID, Start: monday.Add(7 * time.Hour), End: monday.Add(7*time.Hour + 30*time.Minute)},
			kind:   apperr.ErrValidation,
		},
		{
			name:   "unverified doctor",
			caller: f.patient,
			in:     CreateInput{DoctorID: unverified, Start: monday.Add(9 * time.Hour), End: monday.Add(9*time.Hour + 30*time.Minute)},
			kind:   apperr.ErrNotFound,
		},
		{
			name:   "unknown doctor",
			caller: f.patient,
			in:     CreateInput{DoctorID: uuid.New(), Start: monday.Add(9 * time.Hour), End: monday.Add(9*time.Hour + 30*time.Minute)},
			kind:   apperr.ErrNotFound,
		},
		{
			name:   "outside window",
			caller: f.patient,
			in:     CreateInput{DoctorID: f.doctor.AccountID, Start: monday.Add(12 * time.Hour), End: monday.Add(12*time.Hour + 30*time.Minute)},
			kind:   apperr.ErrValidation,
		},
		{
			name:   "wrong length",
			caller: f.patient,
			in:     CreateInput{DoctorID: f.doctor.AccountID, Start: monday.Add(9 * time.Hour), End: monday.Add(10 * time.Hour)},
			kind:   apperr.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.caller, tt.in)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
	assert.Equal(t, int64(5), f.balance(t, f.patient.AccountID))
}

func TestCancelRefundsOnce(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(5), f.balance(t, f.patient.AccountID))
	assert.Zero(t, f.balance(t, f.doctor.AccountID))
	assert.Equal(t, []string{"sess-1"}, f.video.released)

	_, err = f.svc.Cancel(context.Background(), f.doctor, appt.ID)
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, int64(5), f.balance(t, f.patient.AccountID))

	// The slot is free again.
	_, err = f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)
}

func TestCancelRequiresParticipant(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	stranger := identity.Caller{AccountID: f.account(t, model.RolePatient, "", 0), Role: model.RolePatient}
	_, err = f.svc.Cancel(context.Background(), stranger, appt.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.svc.Cancel(context.Background(), f.patient, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelFailsWhenDoctorCannotRefund(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.ledger.PayoutDebit(ctx, tx, f.doctor.AccountID, uuid.New(), 2)
		return err
	}))

	_, err = f.svc.Cancel(context.Background(), f.patient, appt.ID)
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	got, err := f.svc.Get(context.Background(), f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, got.Status)
	assert.Equal(t, int64(3), f.balance(t, f.patient.AccountID))
}

func TestCompleteOnlyAfterEnd(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Complete(context.Background(), f.patient, appt.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = f.svc.Complete(context.Background(), f.doctor, appt.ID)
	require.ErrorIs(t, err, apperr.ErrPrematureAction)

	f.clock.T = appt.EndTime
	done, err := f.svc.Complete(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)
	assert.Equal(t, int64(2), f.balance(t, f.doctor.AccountID), "completion has no ledger effect")

	_, err = f.svc.Cancel(context.Background(), f.patient, appt.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestAttachNotes(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.AttachNotes(context.Background(), f.doctor, appt.ID, "   ")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.AttachNotes(context.Background(), f.patient, appt.ID, "notes")
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	updated, err := f.svc.AttachNotes(context.Background(), f.doctor, appt.ID, "Prescribed rest.")
	require.NoError(t, err)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "Prescribed rest.", *updated.Notes)

	_, err = f.svc.Cancel(context.Background(), f.patient, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.AttachNotes(context.Background(), f.doctor, appt.ID, "late")
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestIssueVideoTokenWindow(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(10*time.Hour))
	require.NoError(t, err)

	f.clock.T = appt.StartTime.Add(-31 * time.Minute)
	_, err = f.svc.IssueVideoToken(context.Background(), f.patient, appt.ID)
	require.ErrorIs(t, err, apperr.ErrPrematureAction)

	f.clock.T = appt.StartTime.Add(-30 * time.Minute)
	tok, err := f.svc.IssueVideoToken(context.Background(), f.patient, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "token:sess-1", tok.Token)
	assert.True(t, tok.ExpiresAt.Equal(appt.EndTime.Add(time.Hour)))
	assert.Equal(t, video.RolePublisher, f.video.lastOpts.Role)

	var data map[string]string
	require.NoError(t, json.Unmarshal([]byte(f.video.lastOpts.Data), &data))
	assert.Equal(t, f.patient.AccountID.String(), data["account_id"])
	assert.Equal(t, "patient", data["role"])

	stranger := identity.Caller{AccountID: f.account(t, model.RolePatient, "", 0), Role: model.RolePatient}
	_, err = f.svc.IssueVideoToken(context.Background(), stranger, appt.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)

	f.clock.T = appt.EndTime.Add(time.Hour)
	_, err = f.svc.IssueVideoToken(context.Background(), f.doctor, appt.ID)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGetVisibility(t *testing.T) {
	f := newFixture(t)
	appt, err := f.book(t, f.patient, monday.Add(9*time.Hour))
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), f.doctor, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), identity.Caller{AccountID: uuid.New(), Role: model.RoleAdmin}, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.Get(context.Background(), identity.Caller{AccountID: uuid.New(), Role: model.RolePatient}, appt.ID)
	require.ErrorIs(t, err, apperr.ErrAuthorization)
}

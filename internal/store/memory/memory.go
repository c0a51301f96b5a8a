/*
Package memory is an in-process implementation of store.Store.

Units of work are serialized behind one mutex. A unit reads the shared state
directly and takes a private copy on its first write; the copy replaces the
shared state only when the unit returns nil and its context is still live.
Aborted units leave no trace, which gives the same all-or-nothing and
isolation guarantees the Postgres store gets from SERIALIZABLE transactions.

A writing unit copies the whole state, so its cost grows with the number of
stored rows. Used by package tests and by STORE_DRIVER=memory for local runs;
not meant for production volumes.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/model"
	"github.com/hackgods/consult-scheduling/internal/overlap"
	"github.com/hackgods/consult-scheduling/internal/store"
)

type state struct {
	accounts       map[uuid.UUID]model.Account
	transactions   []model.CreditTransaction
	idempotency    map[string]struct{}
	availabilities []model.Availability
	appointments   map[uuid.UUID]model.Appointment
	payouts        []model.Payout
	events         []model.Event
}

func newState() *state {
	return &state{
		accounts:     make(map[uuid.UUID]model.Account),
		idempotency:  make(map[string]struct{}),
		appointments: make(map[uuid.UUID]model.Appointment),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:       make(map[uuid.UUID]model.Account, len(s.accounts)),
		transactions:   append([]model.CreditTransaction(nil), s.transactions...),
		idempotency:    make(map[string]struct{}, len(s.idempotency)),
		availabilities: append([]model.Availability(nil), s.availabilities...),
		appointments:   make(map[uuid.UUID]model.Appointment, len(s.appointments)),
		payouts:        append([]model.Payout(nil), s.payouts...),
		events:         append([]model.Event(nil), s.events...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k := range s.idempotency {
		c.idempotency[k] = struct{}{}
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	return c
}

// Store is the in-memory store.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithinTx runs fn as one serialized unit of work.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := &tx{st: s.st, now: s.now}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if work.dirty {
		s.st = work.st
	}
	return nil
}

type tx struct {
	st    *state
	now   func() time.Time
	dirty bool
}

// write swaps in a private copy of the state before the unit's first mutation.
func (t *tx) write() {
	if !t.dirty {
		t.st = t.st.clone()
		t.dirty = true
	}
}

// Accounts

func (t *tx) CreateAccount(_ context.Context, a model.Account) (*model.Account, error) {
	t.write()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st.accounts[a.ID] = a
	return &a, nil
}

func (t *tx) GetAccount(_ context.Context, id uuid.UUID) (*model.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *tx) LockAccount(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *tx) SetCredits(_ context.Context, id uuid.UUID, credits int64) error {
	t.write()
	a, ok := t.st.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Credits = credits
	a.UpdatedAt = t.now()
	t.st.accounts[id] = a
	return nil
}

func (t *tx) ListAccountsByRole(_ context.Context, role model.Role, limit int) ([]model.Account, error) {
	var out []model.Account
	for _, a := range t.st.accounts {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ledger

func (t *tx) InsertCreditTransaction(_ context.Context, ct model.CreditTransaction) (*model.CreditTransaction, error) {
	t.write()
	if _, ok := t.st.accounts[ct.AccountID]; !ok {
		return nil, store.ErrNotFound
	}
	if ct.IdempotencyKey != nil {
		if _, dup := t.st.idempotency[*ct.IdempotencyKey]; dup {
			return nil, store.ErrDuplicateKey
		}
		t.st.idempotency[*ct.IdempotencyKey] = struct{}{}
	}
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	ct.CreatedAt = t.now()
	t.st.transactions = append(t.st.transactions, ct)
	return &ct, nil
}

func (t *tx) SumCreditTransactions(_ context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	for _, ct := range t.st.transactions {
		if ct.AccountID == accountID {
			sum += ct.Amount
		}
	}
	return sum, nil
}

func (t *tx) ListCreditTransactions(_ context.Context, accountID uuid.UUID, limit int) ([]model.CreditTransaction, error) {
	var out []model.CreditTransaction
	for i := len(t.st.transactions) - 1; i >= 0; i-- {
		ct := t.st.transactions[i]
		if ct.AccountID != accountID {
			continue
		}
		out = append(out, ct)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *tx) IdempotencyKeyExists(_ context.Context, key string) (bool, error) {
	_, ok := t.st.idempotency[key]
	return ok, nil
}

func (t *tx) BalanceProjections(_ context.Context) ([]model.BalanceProjection, error) {
	sums := make(map[uuid.UUID]int64, len(t.st.accounts))
	for _, ct := range t.st.transactions {
		sums[ct.AccountID] += ct.Amount
	}
	out := make([]model.BalanceProjection, 0, len(t.st.accounts))
	for id, a := range t.st.accounts {
		out = append(out, model.BalanceProjection{AccountID: id, Cached: a.Credits, FromLog: sums[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID.String() < out[j].AccountID.String() })
	return out, nil
}

// Availabilities

func (t *tx) InsertAvailability(_ context.Context, a model.Availability) (*model.Availability, error) {
	t.write()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = t.now()
	t.st.availabilities = append(t.st.availabilities, a)
	return &a, nil
}

func (t *tx) ListAvailabilities(_ context.Context, doctorID uuid.UUID) ([]model.Availability, error) {
	var out []model.Availability
	for i := len(t.st.availabilities) - 1; i >= 0; i-- {
		if a := t.st.availabilities[i]; a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) DeleteUnusedAvailabilities(_ context.Context, doctorID uuid.UUID) (int64, error) {
	t.write()
	used := make(map[uuid.UUID]bool)
	for _, appt := range t.st.appointments {
		if appt.AvailabilityID != nil {
			used[*appt.AvailabilityID] = true
		}
	}

	kept := t.st.availabilities[:0:0]
	var removed int64
	for _, a := range t.st.availabilities {
		if a.DoctorID == doctorID && !used[a.ID] {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	t.st.availabilities = kept
	return removed, nil
}

func (t *tx) RetireAvailabilities(_ context.Context, doctorID uuid.UUID) (int64, error) {
	t.write()
	var n int64
	for i, a := range t.st.availabilities {
		if a.DoctorID == doctorID && a.Status == model.AvailabilityAvailable {
			t.st.availabilities[i].Status = model.AvailabilityBooked
			n++
		}
	}
	return n, nil
}

// Appointments

func (t *tx) InsertAppointment(_ context.Context, a model.Appointment) (*model.Appointment, error) {
	t.write()
	if a.Status == model.StatusScheduled {
		candidate := overlap.Interval{Start: a.StartTime, End: a.EndTime}
		for _, other := range t.st.appointments {
			if other.DoctorID != a.DoctorID || other.Status != model.StatusScheduled {
				continue
			}
			if intersects(candidate, other.StartTime, other.EndTime) {
				return nil, store.ErrOverlap
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.st.appointments[a.ID] = a
	return &a, nil
}

// intersects is the half-open overlap test against a stored row.
func intersects(iv overlap.Interval, start, end time.Time) bool {
	return iv.Start.Before(end) && start.Before(iv.End)
}

func (t *tx) GetAppointment(_ context.Context, id uuid.UUID) (*model.Appointment, error) {
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (t *tx) LockAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	return t.GetAppointment(ctx, id)
}

func (t *tx) ListScheduledForDoctor(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.st.appointments {
		if a.DoctorID != doctorID || a.Status != model.StatusScheduled {
			continue
		}
		if intersects(overlap.Interval{Start: from, End: to}, a.StartTime, a.EndTime) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (t *tx) ListAppointmentsForAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.st.appointments {
		if a.Participant(accountID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to model.AppointmentStatus) (*model.Appointment, error) {
	t.write()
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status != from {
		return nil, store.ErrStaleStatus
	}
	a.Status = to
	a.UpdatedAt = t.now()
	t.st.appointments[id] = a
	return &a, nil
}

func (t *tx) UpdateAppointmentNotes(_ context.Context, id uuid.UUID, notes string) (*model.Appointment, error) {
	t.write()
	a, ok := t.st.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.Notes = &notes
	a.UpdatedAt = t.now()
	t.st.appointments[id] = a
	return &a, nil
}

// Payouts

func (t *tx) InsertPayout(_ context.Context, p model.Payout) (*model.Payout, error) {
	t.write()
	if _, ok := t.st.accounts[p.DoctorID]; !ok {
		return nil, store.ErrNotFound
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := t.now()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.payouts = append(t.st.payouts, p)
	return &p, nil
}

func (t *tx) GetPayout(_ context.Context, id uuid.UUID) (*model.Payout, error) {
	for _, p := range t.st.payouts {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) LockPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	return t.GetPayout(ctx, id)
}

func (t *tx) ListPayouts(_ context.Context, doctorID *uuid.UUID, status model.PayoutStatus) ([]model.Payout, error) {
	var out []model.Payout
	for i := len(t.st.payouts) - 1; i >= 0; i-- {
		p := t.st.payouts[i]
		if doctorID != nil && p.DoctorID != *doctorID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *tx) MarkPayoutProcessed(_ context.Context, id, processedBy uuid.UUID, at time.Time) (*model.Payout, error) {
	t.write()
	for i, p := range t.st.payouts {
		if p.ID != id {
			continue
		}
		if p.Status != model.PayoutProcessing {
			return nil, store.ErrStaleStatus
		}
		p.Status = model.PayoutProcessed
		p.ProcessedBy = &processedBy
		p.ProcessedAt = &at
		p.UpdatedAt = t.now()
		t.st.payouts[i] = p
		return &p, nil
	}
	return nil, store.ErrNotFound
}

// Events

func (t *tx) InsertEvent(_ context.Context, ev model.Event) error {
	t.write()
	ev.ID = int64(len(t.st.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now()
	}
	t.st.events = append(t.st.events, ev)
	return nil
}

func (t *tx) ListEvents(_ context.Context, appointmentID uuid.UUID) ([]model.Event, error) {
	var out []model.Event
	for _, ev := range t.st.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

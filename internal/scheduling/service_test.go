package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/token-scheduling/internal/config"
)

// -- Mocks --

type mockRepo struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	schedules    map[uuid.UUID][]*Schedule
	unavail      map[uuid.UUID][]*Unavailability
	appointments map[uuid.UUID]*Appointment
	cached       map[uuid.UUID]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		schedules:    make(map[uuid.UUID][]*Schedule),
		unavail:      make(map[uuid.UUID][]*Unavailability),
		appointments: make(map[uuid.UUID]*Appointment),
		cached:       make(map[uuid.UUID]int),
	}
}

func (m *mockRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (m *mockRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (m *mockRepo) ListSchedules(_ context.Context, doctorID uuid.UUID) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[doctorID], nil
}

func (m *mockRepo) ListUnavailability(_ context.Context, doctorID uuid.UUID, _ time.Time) ([]*Unavailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavail[doctorID], nil
}

func (m *mockRepo) CacheCalculatedDuration(_ context.Context, scheduleID uuid.UUID, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[scheduleID] = minutes
	return nil
}

func (m *mockRepo) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && !cancelledOrNoShow(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) GetActiveAppointmentAt(_ context.Context, doctorID uuid.UUID, date time.Time, start MinuteOfDay) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.activeAtLocked(doctorID, date, start); a != nil {
		return a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

// CreateAppointment mirrors the partial unique index: the duplicate check and
// insert happen under one lock.
func (m *mockRepo) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.activeAtLocked(a.DoctorID, a.Date, a.StartMinute); existing != nil {
		return nil, ErrSlotTaken
	}
	cp := *a
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *mockRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *mockRepo) OverrideAppointmentDuration(_ context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	stored.DurationMinutes = a.DurationMinutes
	stored.DurationOverridden = a.DurationOverridden
	stored.OriginalDurationMinutes = a.OriginalDurationMinutes
	stored.OverrideReason = a.OverrideReason
	stored.UpdatedAt = time.Now()
	cp := *stored
	return &cp, nil
}

func (m *mockRepo) FindExpiredHolds(_ context.Context, now time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status == StatusScheduled && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockRepo) activeAtLocked(doctorID uuid.UUID, date time.Time, start MinuteOfDay) *Appointment {
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && a.StartMinute == start && !cancelledOrNoShow(a) {
			cp := *a
			return &cp
		}
	}
	return nil
}

func cancelledOrNoShow(a *Appointment) bool {
	return a.Status == StatusCancelled || a.Status == StatusNoShow
}

// mockLocker serializes critical sections per key, like the Redis lock but
// blocking instead of failing fast.
type mockLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMockLocker() *mockLocker {
	return &mockLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *mockLocker) WithSlotLock(ctx context.Context, doctorID uuid.UUID, date time.Time, startMinute int, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("%s:%s:%d", doctorID, date.Format("2006-01-02"), startMinute)
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

// -- Fixtures --

type fixture struct {
	svc     *Service
	repo    *mockRepo
	doctor  *Doctor
	patient *Patient
	sched   *Schedule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMockRepo()
	doctor := &Doctor{ID: uuid.New(), ClinicID: uuid.New(), Name: "Dr. Ada Okonkwo"}
	patient := &Patient{ID: uuid.New(), Name: "Sam Greer"}
	sched := regularSchedule(doctor.ID)
	sched.BreakStart = mdPtr(12, 0)
	sched.BreakEnd = mdPtr(13, 0)

	repo.doctors[doctor.ID] = doctor
	repo.patients[patient.ID] = patient
	repo.schedules[doctor.ID] = []*Schedule{sched}

	svc := NewService(repo, newMockLocker(), config.Config{HoldTTL: 15 * time.Minute}, zerolog.Nop())

	return &fixture{svc: svc, repo: repo, doctor: doctor, patient: patient, sched: sched}
}

func (f *fixture) bookingReq(start MinuteOfDay) BookingRequest {
	return BookingRequest{
		DoctorID:    f.doctor.ID,
		PatientID:   f.patient.ID,
		Date:        monday,
		Start:       start,
		StaffBooked: true,
	}
}

// -- Tests --

func TestBookAssignsPositionalToken(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.Book(context.Background(), f.bookingReq(md(10, 0)))
	require.NoError(t, err)

	// 08:00 start, 30 min slots: 10:00 is the fifth slot.
	assert.Equal(t, 5, appt.TokenNumber)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Nil(t, appt.ExpiresAt)
}

func TestBookRejectsNonSlotTime(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.bookingReq(md(10, 15)))
	assert.ErrorIs(t, err, ErrSlotNotInSchedule)

	// Break times are not bookable either.
	_, err = f.svc.Book(context.Background(), f.bookingReq(md(12, 0)))
	assert.ErrorIs(t, err, ErrSlotNotInSchedule)
}

func TestBookConflictOnTakenSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), f.bookingReq(md(9, 0)))
	require.NoError(t, err)

	_, err = f.svc.Book(context.Background(), f.bookingReq(md(9, 0)))
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestBookUnknownDoctorOrPatient(t *testing.T) {
	f := newFixture(t)

	req := f.bookingReq(md(9, 0))
	req.DoctorID = uuid.New()
	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	req = f.bookingReq(md(9, 0))
	req.PatientID = uuid.New()
	_, err = f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestBookWrongClinic(t *testing.T) {
	f := newFixture(t)

	req := f.bookingReq(md(9, 0))
	req.ClinicID = uuid.New()
	_, err := f.svc.Book(context.Background(), req)
	assert.ErrorIs(t, err, ErrWrongClinic)
}

func TestCancelThenRebookKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(10, 0)))
	require.NoError(t, err)
	originalToken := appt.TokenNumber

	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	// Tokens are positional, so the freed slot reports its old number.
	token, err := f.svc.TokenFor(ctx, f.doctor.ID, monday, md(10, 0))
	require.NoError(t, err)
	assert.Equal(t, originalToken, token)

	rebooked, err := f.svc.Book(ctx, f.bookingReq(md(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, originalToken, rebooked.TokenNumber)
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Book(context.Background(), f.bookingReq(md(11, 0)))
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, conflicts)
}

func TestGuestHoldAndConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.bookingReq(md(9, 30))
	req.StaffBooked = false

	appt, err := f.svc.Book(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	require.NotNil(t, appt.ExpiresAt)

	confirmed, err := f.svc.Confirm(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	// A second confirm is an invalid transition.
	_, err = f.svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirmExpiredHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.bookingReq(md(9, 30))
	req.StaffBooked = false
	appt, err := f.svc.Book(ctx, req)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	f.repo.mu.Lock()
	f.repo.appointments[appt.ID].ExpiresAt = &past
	f.repo.mu.Unlock()

	_, err = f.svc.Confirm(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrHoldExpired)

	stored, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(8, 0)))
	require.NoError(t, err)

	started, err := f.svc.Start(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)

	done, err := f.svc.Complete(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	// Completed appointments cannot be cancelled.
	_, err = f.svc.Cancel(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkNoShowFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(14, 0)))
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(ctx, appt.ID)
	require.NoError(t, err)

	// The slot is bookable again.
	_, err = f.svc.Book(ctx, f.bookingReq(md(14, 0)))
	require.NoError(t, err)
}

func TestOverrideDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(10, 30)))
	require.NoError(t, err)

	updated, err := f.svc.OverrideDuration(ctx, appt.ID, 45, "procedure needs extra time")
	require.NoError(t, err)
	assert.True(t, updated.DurationOverridden)
	assert.Equal(t, 45, updated.DurationMinutes)
	require.NotNil(t, updated.OriginalDurationMinutes)
	assert.Equal(t, 30, *updated.OriginalDurationMinutes)

	// A second override keeps the first original value.
	again, err := f.svc.OverrideDuration(ctx, appt.ID, 60, "extended again")
	require.NoError(t, err)
	assert.Equal(t, 60, again.DurationMinutes)
	require.NotNil(t, again.OriginalDurationMinutes)
	assert.Equal(t, 30, *again.OriginalDurationMinutes)
}

func TestOverrideDurationValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(10, 30)))
	require.NoError(t, err)

	_, err = f.svc.OverrideDuration(ctx, appt.ID, 3, "too short")
	assert.True(t, IsValidation(err))

	_, err = f.svc.OverrideDuration(ctx, appt.ID, 300, "too long")
	assert.True(t, IsValidation(err))

	_, err = f.svc.OverrideDuration(ctx, appt.ID, 45, "")
	assert.True(t, IsValidation(err))

	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)
	_, err = f.svc.OverrideDuration(ctx, appt.ID, 45, "after cancel")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestListAllSlotsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.ListAllSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	second, err := f.svc.ListAllSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 14) // 16 half-hours minus two inside the break
}

func TestListAllSlotsEmptyOnVacation(t *testing.T) {
	f := newFixture(t)

	f.repo.unavail[f.doctor.ID] = []*Unavailability{{
		ID:       uuid.New(),
		DoctorID: f.doctor.ID,
		Date:     monday,
		Kind:     UnavailVacation,
	}}

	slots, err := f.svc.ListAllSlots(context.Background(), f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestListAvailableSlotsExcludesBooked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, f.bookingReq(md(10, 0)))
	require.NoError(t, err)

	available, err := f.svc.ListAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)

	for _, s := range available {
		assert.NotEqual(t, md(10, 0), s.Start)
	}
	assert.Len(t, available, 13)

	// Cancelling restores the slot.
	_, err = f.svc.Cancel(ctx, appt.ID)
	require.NoError(t, err)

	available, err = f.svc.ListAvailableSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Len(t, available, 14)
}

func TestTokenBasedScheduleRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sched := tokenSchedule(16)
	sched.ID = uuid.New()
	sched.DoctorID = f.doctor.ID
	sched.Kind = KindRegular
	sched.Weekdays = []time.Weekday{time.Monday}
	sched.EffectiveFrom = monday.AddDate(0, -1, 0)
	f.repo.schedules[f.doctor.ID] = []*Schedule{sched}

	slots, err := f.svc.ListAllSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)

	// 480 min at 16 tokens per day resolves to 30 min slots: exactly 16.
	assert.Len(t, slots, 16)
	assert.Equal(t, 30, f.repo.cached[sched.ID])

	// Once the stored schedule carries the cached value, later resolutions
	// read it back instead of re-deriving, and issue no further write.
	sched.CalculatedDurationMinutes = intPtr(30)
	delete(f.repo.cached, sched.ID)

	slots, err = f.svc.ListAllSlots(ctx, f.doctor.ID, monday)
	require.NoError(t, err)
	assert.Len(t, slots, 16)
	_, rewrote := f.repo.cached[sched.ID]
	assert.False(t, rewrote)
}

func TestCancelExpiredHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	freshReq := f.bookingReq(md(8, 0))
	freshReq.StaffBooked = false
	fresh, err := f.svc.Book(ctx, freshReq)
	require.NoError(t, err)

	staleReq := f.bookingReq(md(8, 30))
	staleReq.StaffBooked = false
	stale, err := f.svc.Book(ctx, staleReq)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	f.repo.mu.Lock()
	f.repo.appointments[stale.ID].ExpiresAt = &past
	f.repo.mu.Unlock()

	require.NoError(t, f.svc.CancelExpiredHolds(ctx))

	staleStored, err := f.svc.GetAppointment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, staleStored.Status)

	freshStored, err := f.svc.GetAppointment(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, freshStored.Status)
}

func TestTokenForUnknownTime(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TokenFor(context.Background(), f.doctor.ID, monday, md(7, 0))
	assert.ErrorIs(t, err, ErrSlotNotInSchedule)
}

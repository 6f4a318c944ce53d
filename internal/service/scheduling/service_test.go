package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	redisclient "clinicbook/backend/internal/redis"
	"clinicbook/backend/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type memAvailability struct {
	doctors map[uuid.UUID]domain.Doctor
	windows map[uuid.UUID][]domain.AvailabilityWindow
}

func newMemAvailability() *memAvailability {
	return &memAvailability{
		doctors: map[uuid.UUID]domain.Doctor{},
		windows: map[uuid.UUID][]domain.AvailabilityWindow{},
	}
}

func (m *memAvailability) addDoctor(doctorID uuid.UUID, windows ...domain.AvailabilityWindow) {
	m.doctors[doctorID] = domain.Doctor{ID: doctorID, Name: "Dr. Test"}
	m.windows[doctorID] = windows
}

func (m *memAvailability) GetDoctor(ctx context.Context, id uuid.UUID) (domain.Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return domain.Doctor{}, store.ErrNotFound
	}
	return d, nil
}

func (m *memAvailability) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	panic("not used")
}

func (m *memAvailability) CreateDoctor(ctx context.Context, doctor domain.Doctor) (domain.Doctor, error) {
	panic("not used")
}

func (m *memAvailability) GetWindowsForDay(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]domain.AvailabilityWindow, error) {
	if _, ok := m.doctors[doctorID]; !ok {
		return nil, store.ErrNotFound
	}
	var out []domain.AvailabilityWindow
	for _, w := range m.windows[doctorID] {
		if w.Weekday == int16(weekday) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memAvailability) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilityWindow, error) {
	if _, ok := m.doctors[doctorID]; !ok {
		return nil, store.ErrNotFound
	}
	return m.windows[doctorID], nil
}

func (m *memAvailability) ReplaceWindows(ctx context.Context, doctorID uuid.UUID, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error) {
	panic("not used")
}

// memSchedule serializes schedule transactions with a single mutex, playing
// the role the advisory lock plays against Postgres.
type memSchedule struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]domain.Appointment
	events []domain.AppointmentEventLog
}

func newMemSchedule() *memSchedule {
	return &memSchedule{appts: map[uuid.UUID]domain.Appointment{}}
}

func (m *memSchedule) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memSchedule) FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(doctorID, date, excludeID), nil
}

func (m *memSchedule) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]domain.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID && !a.Date.Before(from) && !a.Date.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memSchedule) InScheduleTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memScheduleTx{m: m})
}

func (m *memSchedule) findLocked(doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) []domain.Appointment {
	var out []domain.Appointment
	for _, a := range m.appts {
		if a.DoctorID != doctorID || !a.Date.Equal(date) {
			continue
		}
		if a.Status == domain.StatusCancelled {
			continue
		}
		if excludeID != uuid.Nil && a.ID == excludeID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

type memScheduleTx struct {
	m *memSchedule
}

func (t *memScheduleTx) FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	return t.m.findLocked(doctorID, date, excludeID), nil
}

func (t *memScheduleTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.m.appts[appt.ID] = appt
	return appt, nil
}

func (t *memScheduleTx) UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, date time.Time, start, end domain.TimeOfDay) (domain.Appointment, error) {
	a, ok := t.m.appts[id]
	if !ok || a.Status != domain.StatusScheduled {
		return domain.Appointment{}, store.ErrNotFound
	}
	a.Date = date
	a.Start = start
	a.End = end
	a.UpdatedAt = time.Now().UTC()
	t.m.appts[id] = a
	return a, nil
}

func (t *memScheduleTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (domain.Appointment, error) {
	a, ok := t.m.appts[id]
	if !ok || a.Status != from {
		return domain.Appointment{}, store.ErrNotFound
	}
	a.Status = to
	if reason != "" {
		a.CancelReason = reason
	}
	a.UpdatedAt = time.Now().UTC()
	t.m.appts[id] = a
	return a, nil
}

func (t *memScheduleTx) InsertEvent(ctx context.Context, ev domain.AppointmentEventLog) error {
	t.m.events = append(t.m.events, ev)
	return nil
}

func mustTOD(t *testing.T, s string) domain.TimeOfDay {
	t.Helper()
	v, err := domain.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q) error: %v", s, err)
	}
	return v
}

// monday is a fixed Monday used across the tests.
var monday = time.Date(2026, 9, 14, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	svc      *Service
	avail    *memAvailability
	schedule *memSchedule
	clock    *fakeClock
	doctorID uuid.UUID
	events   *[]domain.AppointmentEvent
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	avail := newMemAvailability()
	schedule := newMemSchedule()
	clock := &fakeClock{now: monday.Add(-7 * 24 * time.Hour)}

	doctorID := uuid.New()
	avail.addDoctor(doctorID, domain.AvailabilityWindow{
		DoctorID: doctorID,
		Weekday:  int16(time.Monday),
		Start:    mustTOD(t, "09:00"),
		End:      mustTOD(t, "12:00"),
	})

	svc := NewService(avail, schedule, nil, clock, cfg, nil)

	var eventsMu sync.Mutex
	var events []domain.AppointmentEvent
	svc.OnAppointmentEvent(func(ev domain.AppointmentEvent) {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		events = append(events, ev)
	})

	return &testEnv{svc: svc, avail: avail, schedule: schedule, clock: clock, doctorID: doctorID, events: &events}
}

func (e *testEnv) reserve(t *testing.T, start, end string) domain.Appointment {
	t.Helper()
	appt, err := e.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  e.doctorID,
		Date:      monday,
		Start:     mustTOD(t, start),
		End:       mustTOD(t, end),
		Type:      domain.TypeInPerson,
	})
	if err != nil {
		t.Fatalf("Reserve(%s-%s) error: %v", start, end, err)
	}
	return appt
}

func TestReserve_Succeeds(t *testing.T) {
	env := newTestEnv(t, Config{})

	appt := env.reserve(t, "09:00", "09:30")

	if appt.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
	if appt.ID == uuid.Nil {
		t.Fatalf("expected assigned id")
	}
	if len(*env.events) != 1 || (*env.events)[0].Type != domain.EventAppointmentCreated {
		t.Fatalf("events = %+v, want one created event", *env.events)
	}
	if len(env.schedule.events) != 1 {
		t.Fatalf("event log rows = %d, want 1", len(env.schedule.events))
	}
}

func TestReserve_OverlapRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.reserve(t, "09:00", "09:30")

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeVideo,
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("error = %v, want ErrSlotTaken", err)
	}
	if len(env.schedule.appts) != 1 {
		t.Fatalf("store changed on failed reserve: %d rows", len(env.schedule.appts))
	}

	// The adjacent slot is still free (half-open intervals).
	env.reserve(t, "09:30", "10:00")
}

func TestReserve_OutOfAvailability(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "14:00"),
		End:       mustTOD(t, "14:30"),
		Type:      domain.TypeInPerson,
	})
	if !errors.Is(err, ErrOutOfAvailability) {
		t.Fatalf("error = %v, want ErrOutOfAvailability", err)
	}
}

func TestReserve_UnknownDoctor(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	})
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("error = %v, want ErrDoctorNotFound", err)
	}
}

func TestReserve_PastDate(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.clock.now = monday.Add(48 * time.Hour)

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want validation error", err)
	}

	// The same booking is accepted when past booking is explicitly enabled.
	env2 := newTestEnv(t, Config{AllowPastBooking: true})
	env2.clock.now = monday.Add(48 * time.Hour)
	if _, err := env2.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env2.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	}); err != nil {
		t.Fatalf("Reserve with AllowPastBooking error: %v", err)
	}
}

func TestReserve_InvalidInput(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name string
		in   ReserveInput
	}{
		{
			name: "missing patient",
			in:   ReserveInput{DoctorID: env.doctorID, Date: monday, Start: 540, End: 570, Type: domain.TypeInPerson},
		},
		{
			name: "start after end",
			in:   ReserveInput{PatientID: uuid.New(), DoctorID: env.doctorID, Date: monday, Start: 570, End: 540, Type: domain.TypeInPerson},
		},
		{
			name: "start equals end",
			in:   ReserveInput{PatientID: uuid.New(), DoctorID: env.doctorID, Date: monday, Start: 540, End: 540, Type: domain.TypeInPerson},
		},
		{
			name: "bad type",
			in:   ReserveInput{PatientID: uuid.New(), DoctorID: env.doctorID, Date: monday, Start: 540, End: 570, Type: "house-call"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Reserve(context.Background(), tt.in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error = %v, want validation error", err)
			}
		})
	}
}

func TestReserve_ConcurrentSameSlot(t *testing.T) {
	env := newTestEnv(t, Config{})

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Reserve(context.Background(), ReserveInput{
				PatientID: uuid.New(),
				DoctorID:  env.doctorID,
				Date:      monday,
				Start:     mustTOD(t, "09:00"),
				End:       mustTOD(t, "09:30"),
				Type:      domain.TypeInPerson,
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	var wins, taken int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	if taken != attempts-1 {
		t.Fatalf("taken = %d, want %d", taken, attempts-1)
	}

	// Pairwise non-overlap over all surviving appointments.
	appts, err := env.schedule.FindForDoctorOnDate(context.Background(), env.doctorID, monday, uuid.Nil)
	if err != nil {
		t.Fatalf("FindForDoctorOnDate error: %v", err)
	}
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			if appts[i].OverlapsInterval(appts[j].Start, appts[j].End) {
				t.Fatalf("appointments %d and %d overlap", i, j)
			}
		}
	}
}

func TestReserve_BusyWhenLockHeld(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.svc.locker = stuckLocker{}

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
}

type stuckLocker struct{}

func (stuckLocker) WithScheduleLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestAvailableSlots_FiltersBooked(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.reserve(t, "09:00", "09:30")

	slots, err := env.svc.AvailableSlots(context.Background(), env.doctorID, monday)
	if err != nil {
		t.Fatalf("AvailableSlots error: %v", err)
	}
	for _, s := range slots {
		if s.Start.String() == "09:00" {
			t.Fatalf("booked slot still offered")
		}
	}
	// Window 09:00-12:00 at 30 min yields 6 candidates; one is booked.
	if len(slots) != 5 {
		t.Fatalf("len(slots) = %d, want 5", len(slots))
	}
}

func TestGenerateSlots_UsesGranularity(t *testing.T) {
	env := newTestEnv(t, Config{GranularityMinutes: 60})

	slots, err := env.svc.GenerateSlots(context.Background(), env.doctorID, monday)
	if err != nil {
		t.Fatalf("GenerateSlots error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("len(slots) = %d, want 3 for 09:00-12:00 at 60 min", len(slots))
	}
}

func TestHasConflict(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")

	got, err := env.svc.HasConflict(context.Background(), env.doctorID, monday, mustTOD(t, "09:15"), mustTOD(t, "09:45"), uuid.Nil)
	if err != nil {
		t.Fatalf("HasConflict error: %v", err)
	}
	if !got {
		t.Fatalf("expected conflict")
	}

	got, err = env.svc.HasConflict(context.Background(), env.doctorID, monday, mustTOD(t, "09:30"), mustTOD(t, "10:00"), uuid.Nil)
	if err != nil {
		t.Fatalf("HasConflict error: %v", err)
	}
	if got {
		t.Fatalf("adjacent interval must not conflict")
	}

	// Excluding the appointment's own id clears the conflict.
	got, err = env.svc.HasConflict(context.Background(), env.doctorID, monday, mustTOD(t, "09:00"), mustTOD(t, "09:30"), appt.ID)
	if err != nil {
		t.Fatalf("HasConflict error: %v", err)
	}
	if got {
		t.Fatalf("self-conflict despite exclusion")
	}
}

func TestRelease_LockoutBoundary(t *testing.T) {
	tests := []struct {
		name    string
		lead    time.Duration
		wantErr error
	}{
		{name: "10h before start", lead: 10 * time.Hour, wantErr: ErrLockoutViolation},
		{name: "23h59m before start", lead: 24*time.Hour - time.Minute, wantErr: ErrLockoutViolation},
		{name: "exactly 24h before start", lead: 24 * time.Hour, wantErr: ErrLockoutViolation},
		{name: "24h01m before start", lead: 24*time.Hour + time.Minute, wantErr: nil},
		{name: "30h before start", lead: 30 * time.Hour, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			appt := env.reserve(t, "10:00", "10:30")

			env.clock.now = appt.StartAt().Add(-tt.lead)
			_, err := env.svc.Release(context.Background(), appt.ID, domain.Actor{ID: appt.PatientID, Role: domain.RolePatient}, "conflict came up")

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Release error: %v", err)
			}
		})
	}
}

func TestRelease_EmitsCancelledEventAndFreesSlot(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-30 * time.Hour)

	cancelled, err := env.svc.Release(context.Background(), appt.ID, domain.Actor{ID: appt.PatientID, Role: domain.RolePatient}, "")
	if err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	last := (*env.events)[len(*env.events)-1]
	if last.Type != domain.EventAppointmentCancelled || last.PreviousStatus != domain.StatusScheduled {
		t.Fatalf("last event = %+v", last)
	}

	// The interval is immediately re-bookable.
	env.reserve(t, "09:00", "09:30")
}

func TestTransitions_TerminalImmutability(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-30 * time.Hour)

	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
	if _, err := env.svc.Release(context.Background(), appt.ID, admin, ""); err != nil {
		t.Fatalf("Release error: %v", err)
	}

	if _, err := env.svc.Release(context.Background(), appt.ID, admin, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second cancel error = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.svc.Complete(context.Background(), appt.ID, admin); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("complete after cancel error = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.svc.MarkNoShow(context.Background(), appt.ID, admin); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("no-show after cancel error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitions_ActorRules(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-30 * time.Hour)

	// A different patient may not cancel.
	_, err := env.svc.Release(context.Background(), appt.ID, domain.Actor{ID: uuid.New(), Role: domain.RolePatient}, "")
	if !errors.Is(err, ErrActorNotAllowed) {
		t.Fatalf("stranger cancel error = %v, want ErrActorNotAllowed", err)
	}

	// The patient may not complete.
	_, err = env.svc.Complete(context.Background(), appt.ID, domain.Actor{ID: appt.PatientID, Role: domain.RolePatient})
	if !errors.Is(err, ErrActorNotAllowed) {
		t.Fatalf("patient complete error = %v, want ErrActorNotAllowed", err)
	}

	// The assigned doctor completes after the visit.
	env.clock.now = appt.StartAt().Add(time.Hour)
	done, err := env.svc.Complete(context.Background(), appt.ID, domain.Actor{ID: appt.DoctorID, Role: domain.RoleDoctor})
	if err != nil {
		t.Fatalf("doctor complete error: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
}

func TestMarkNoShow(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(time.Hour)

	updated, err := env.svc.MarkNoShow(context.Background(), appt.ID, domain.Actor{ID: appt.DoctorID, Role: domain.RoleDoctor})
	if err != nil {
		t.Fatalf("MarkNoShow error: %v", err)
	}
	if updated.Status != domain.StatusNoShow {
		t.Fatalf("status = %s, want no-show", updated.Status)
	}
	last := (*env.events)[len(*env.events)-1]
	if last.Type != domain.EventAppointmentNoShow {
		t.Fatalf("last event type = %s", last.Type)
	}
}

func TestReschedule_Succeeds(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-48 * time.Hour)

	newStart := mustTOD(t, "10:00")
	newEnd := mustTOD(t, "10:30")
	updated, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	})
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if updated.Start != newStart || updated.End != newEnd {
		t.Fatalf("interval = %s-%s, want 10:00-10:30", updated.Start, updated.End)
	}
	last := (*env.events)[len(*env.events)-1]
	if last.Type != domain.EventAppointmentUpdated {
		t.Fatalf("last event type = %s", last.Type)
	}
}

func TestReschedule_OverlapWithSelfAllowed(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "10:00")
	env.clock.now = appt.StartAt().Add(-48 * time.Hour)

	newStart := mustTOD(t, "09:30")
	newEnd := mustTOD(t, "10:30")
	if _, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	}); err != nil {
		t.Fatalf("Reschedule overlapping own interval error: %v", err)
	}
}

func TestReschedule_ConflictLeavesOriginalUntouched(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.reserve(t, "10:00", "10:30")
	env.clock.now = appt.StartAt().Add(-48 * time.Hour)

	newStart := mustTOD(t, "10:00")
	newEnd := mustTOD(t, "10:30")
	_, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("error = %v, want ErrSlotTaken", err)
	}

	current, err := env.svc.GetAppointment(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("GetAppointment error: %v", err)
	}
	if current.Start != appt.Start || current.End != appt.End {
		t.Fatalf("original booking was mutated: %s-%s", current.Start, current.End)
	}
}

func TestReschedule_LockoutOnCurrentStart(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-10 * time.Hour)

	newStart := mustTOD(t, "11:00")
	newEnd := mustTOD(t, "11:30")
	_, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	})
	if !errors.Is(err, ErrLockoutViolation) {
		t.Fatalf("error = %v, want ErrLockoutViolation", err)
	}
}

func TestReschedule_OutOfAvailability(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-48 * time.Hour)

	newStart := mustTOD(t, "14:00")
	newEnd := mustTOD(t, "14:30")
	_, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	})
	if !errors.Is(err, ErrOutOfAvailability) {
		t.Fatalf("error = %v, want ErrOutOfAvailability", err)
	}
}

// raceLocker runs a mutation between the caller's precheck read and the
// serialized section, standing in for a concurrent writer that wins the lock
// first.
type raceLocker struct {
	before func()
}

func (l *raceLocker) WithScheduleLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	l.before()
	return fn(ctx)
}

func TestReschedule_ConcurrentCancelWins(t *testing.T) {
	env := newTestEnv(t, Config{})
	appt := env.reserve(t, "09:00", "09:30")
	env.clock.now = appt.StartAt().Add(-48 * time.Hour)

	// A cancel commits after the reschedule's status precheck but before it
	// enters the serialized section.
	env.svc.locker = &raceLocker{before: func() {
		env.schedule.mu.Lock()
		a := env.schedule.appts[appt.ID]
		a.Status = domain.StatusCancelled
		env.schedule.appts[appt.ID] = a
		env.schedule.mu.Unlock()
	}}

	newStart := mustTOD(t, "10:00")
	newEnd := mustTOD(t, "10:30")
	_, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
		NewStart:      &newStart,
		NewEnd:        &newEnd,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}

	// The cancelled row keeps its original interval.
	final, err := env.schedule.GetByID(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if final.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.Start != appt.Start || final.End != appt.End {
		t.Fatalf("cancelled appointment was moved to %s-%s", final.Start, final.End)
	}
	for _, ev := range *env.events {
		if ev.Type == domain.EventAppointmentUpdated {
			t.Fatalf("updated event emitted for a cancelled appointment")
		}
	}
}

func TestReserve_WindowsReplacedBeforeLock(t *testing.T) {
	env := newTestEnv(t, Config{})

	// The doctor's Monday windows disappear while the reservation waits for
	// the schedule lock.
	env.svc.locker = &raceLocker{before: func() {
		env.avail.windows[env.doctorID] = nil
	}}

	_, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      monday,
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	})
	if !errors.Is(err, ErrOutOfAvailability) {
		t.Fatalf("error = %v, want ErrOutOfAvailability", err)
	}
	if len(env.schedule.appts) != 0 {
		t.Fatalf("appointment created outside the doctor's windows")
	}
}

func TestReserve_NormalizesDateLocation(t *testing.T) {
	env := newTestEnv(t, Config{})

	east := time.FixedZone("UTC+10", 10*60*60)
	appt, err := env.svc.Reserve(context.Background(), ReserveInput{
		PatientID: uuid.New(),
		DoctorID:  env.doctorID,
		Date:      time.Date(2026, 9, 14, 0, 0, 0, 0, east),
		Start:     mustTOD(t, "09:00"),
		End:       mustTOD(t, "09:30"),
		Type:      domain.TypeInPerson,
	})
	if err != nil {
		t.Fatalf("Reserve error: %v", err)
	}
	if !appt.Date.Equal(monday) {
		t.Fatalf("date stored as %v, want %v", appt.Date, monday)
	}

	// A conflict check in UTC sees the booking made with a zoned date.
	got, err := env.svc.HasConflict(context.Background(), env.doctorID, monday, mustTOD(t, "09:00"), mustTOD(t, "09:30"), uuid.Nil)
	if err != nil {
		t.Fatalf("HasConflict error: %v", err)
	}
	if !got {
		t.Fatalf("zoned and UTC dates must resolve to the same schedule")
	}
}

func TestReschedule_NotFoundAndNothingToDo(t *testing.T) {
	env := newTestEnv(t, Config{})

	newStart := mustTOD(t, "09:00")
	_, err := env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: uuid.New(),
		Actor:         domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
		NewStart:      &newStart,
	})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("error = %v, want ErrAppointmentNotFound", err)
	}

	appt := env.reserve(t, "09:00", "09:30")
	_, err = env.svc.Reschedule(context.Background(), RescheduleInput{
		AppointmentID: appt.ID,
		Actor:         domain.Actor{ID: appt.PatientID, Role: domain.RolePatient},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

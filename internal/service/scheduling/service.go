package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	redisclient "clinicbook/backend/internal/redis"
	"clinicbook/backend/internal/store"
)

type Config struct {
	// GranularityMinutes is the fixed slot width used by slot generation.
	GranularityMinutes int
	// CancellationLockout is the minimum lead time before an appointment's
	// start during which it can no longer be cancelled or rescheduled.
	// The boundary is inclusive: at exactly start minus lockout the
	// appointment is already locked.
	CancellationLockout time.Duration
	// AllowPastBooking permits reserving dates before today. Off by default;
	// admins backfilling history can enable it.
	AllowPastBooking bool
}

// Service is the appointment scheduling engine. It is the only component
// that creates appointments or mutates their time and status; everything
// else reads.
type Service struct {
	availability store.AvailabilityStore
	appointments store.AppointmentStore
	locker       redisclient.ScheduleLocker
	clock        Clock
	cfg          Config
	log          *slog.Logger

	mu       sync.RWMutex
	handlers []EventHandler
}

func NewService(availability store.AvailabilityStore, appointments store.AppointmentStore, locker redisclient.ScheduleLocker, clock Clock, cfg Config, log *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.GranularityMinutes <= 0 {
		cfg.GranularityMinutes = 30
	}
	if cfg.CancellationLockout <= 0 {
		cfg.CancellationLockout = 24 * time.Hour
	}
	return &Service{
		availability: availability,
		appointments: appointments,
		locker:       locker,
		clock:        clock,
		cfg:          cfg,
		log:          log.With(slog.String("component", "scheduling")),
	}
}

// GenerateSlots derives the candidate intervals for the doctor on the date
// from the recurring weekly windows. Candidates ignore existing bookings;
// use AvailableSlots for the bookable subset.
func (s *Service) GenerateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.SlotCandidate, error) {
	if doctorID == uuid.Nil {
		return nil, validationError("doctor_id is required")
	}
	date = dateOnly(date)

	windows, err := s.availability.GetWindowsForDay(ctx, doctorID, date.Weekday())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}

	return domain.GenerateSlots(date, windows, s.cfg.GranularityMinutes), nil
}

// AvailableSlots filters GenerateSlots output against the doctor's
// non-cancelled bookings. The read is lock-free; a slot reported free here
// may still be rejected by a concurrent Reserve, which callers must treat as
// expected.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.SlotCandidate, error) {
	candidates, err := s.GenerateSlots(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	taken, err := s.appointments.FindForDoctorOnDate(ctx, doctorID, dateOnly(date), uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return domain.FilterBookedSlots(candidates, taken), nil
}

// HasConflict reports whether [start,end) overlaps any non-cancelled
// appointment for the doctor on the date. excludeID (uuid.Nil for none)
// ignores one appointment, for reschedule self-checks. Availability
// containment is a separate concern; see CheckAvailability.
func (s *Service) HasConflict(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end domain.TimeOfDay, excludeID uuid.UUID) (bool, error) {
	if err := validateInterval(start, end); err != nil {
		return false, err
	}

	existing, err := s.appointments.FindForDoctorOnDate(ctx, doctorID, dateOnly(date), excludeID)
	if err != nil {
		return false, fmt.Errorf("load appointments: %w", err)
	}
	return overlapsAny(existing, start, end), nil
}

// CheckAvailability verifies that [start,end) lies entirely within one of
// the doctor's windows for the date's weekday. ErrOutOfAvailability when it
// does not, ErrDoctorNotFound for an unknown doctor.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, start, end domain.TimeOfDay) error {
	if err := validateInterval(start, end); err != nil {
		return err
	}

	windows, err := s.availability.GetWindowsForDay(ctx, doctorID, dateOnly(date).Weekday())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("load availability: %w", err)
	}

	for _, w := range windows {
		if w.Contains(start, end) {
			return nil
		}
	}
	return ErrOutOfAvailability
}

type ReserveInput struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Start     domain.TimeOfDay
	End       domain.TimeOfDay
	Type      domain.AppointmentType
	Symptoms  string
	Notes     string
}

// Reserve atomically converts a free slot into a scheduled appointment.
// Writers for the same (doctor, date) schedule serialize twice over: a
// per-schedule Redis lock keeps other instances out of the critical section,
// and the store transaction holds an advisory lock as ground truth. Either
// layer timing out surfaces as ErrBusy.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (domain.Appointment, error) {
	if in.PatientID == uuid.Nil {
		return domain.Appointment{}, validationError("patient_id is required")
	}
	if in.DoctorID == uuid.Nil {
		return domain.Appointment{}, validationError("doctor_id is required")
	}
	if err := validateInterval(in.Start, in.End); err != nil {
		return domain.Appointment{}, err
	}
	if !in.Type.Valid() {
		return domain.Appointment{}, validationError("type must be one of in-person, video, phone")
	}

	date := dateOnly(in.Date)
	if !s.cfg.AllowPastBooking && date.Before(dateOnly(s.clock.Now())) {
		return domain.Appointment{}, validationError("date is in the past")
	}

	var created domain.Appointment
	err := s.withScheduleLock(ctx, in.DoctorID, date, func(ctx context.Context) error {
		return s.appointments.InScheduleTransaction(ctx, in.DoctorID, date, func(ctx context.Context, tx store.ScheduleTx) error {
			// Containment is checked inside the serialized scope so a
			// concurrent window replacement cannot slip between check and
			// insert.
			if err := s.CheckAvailability(ctx, in.DoctorID, date, in.Start, in.End); err != nil {
				return err
			}

			existing, err := tx.FindForDoctorOnDate(ctx, in.DoctorID, date, uuid.Nil)
			if err != nil {
				return fmt.Errorf("conflict scan: %w", err)
			}
			if overlapsAny(existing, in.Start, in.End) {
				return ErrSlotTaken
			}

			appt, err := tx.InsertAppointment(ctx, domain.Appointment{
				PatientID: in.PatientID,
				DoctorID:  in.DoctorID,
				Date:      date,
				Start:     in.Start,
				End:       in.End,
				Status:    domain.StatusScheduled,
				Type:      in.Type,
				Symptoms:  in.Symptoms,
				Notes:     in.Notes,
			})
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return ErrSlotTaken
				}
				return fmt.Errorf("insert appointment: %w", err)
			}
			created = appt

			return s.logEvent(ctx, tx, domain.AppointmentEvent{
				Type:           domain.EventAppointmentCreated,
				Appointment:    appt,
				PreviousStatus: "",
				ActorID:        in.PatientID,
			})
		})
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment reserved",
		slog.String("appointment_id", created.ID.String()),
		slog.String("doctor_id", created.DoctorID.String()),
		slog.String("date", created.Date.Format("2006-01-02")),
		slog.String("start", created.Start.String()),
		slog.String("end", created.End.String()),
	)

	s.emit(domain.AppointmentEvent{
		Type:        domain.EventAppointmentCreated,
		Appointment: created,
		ActorID:     in.PatientID,
	})
	return created, nil
}

type RescheduleInput struct {
	AppointmentID uuid.UUID
	Actor         domain.Actor
	NewDate       *time.Time
	NewStart      *domain.TimeOfDay
	NewEnd        *domain.TimeOfDay
}

// Reschedule moves a scheduled appointment to a new interval, subject to the
// lockout on the current start. The conflict check runs under the same
// serialization as Reserve, excluding the appointment's own row. On any
// failure the original booking is untouched.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (domain.Appointment, error) {
	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if in.NewDate == nil && in.NewStart == nil && in.NewEnd == nil {
		return domain.Appointment{}, validationError("nothing to reschedule")
	}

	appt, err := s.getAppointment(ctx, in.AppointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if appt.Status != domain.StatusScheduled {
		return domain.Appointment{}, ErrInvalidTransition
	}
	if err := s.authorizeActor(appt, in.Actor); err != nil {
		return domain.Appointment{}, err
	}
	if s.withinLockout(appt) {
		return domain.Appointment{}, ErrLockoutViolation
	}

	date := appt.Date
	if in.NewDate != nil {
		date = dateOnly(*in.NewDate)
	}
	start, end := appt.Start, appt.End
	if in.NewStart != nil {
		start = *in.NewStart
	}
	if in.NewEnd != nil {
		end = *in.NewEnd
	}
	if err := validateInterval(start, end); err != nil {
		return domain.Appointment{}, err
	}
	if !s.cfg.AllowPastBooking && date.Before(dateOnly(s.clock.Now())) {
		return domain.Appointment{}, validationError("date is in the past")
	}

	var updated domain.Appointment
	err = s.withScheduleLock(ctx, appt.DoctorID, date, func(ctx context.Context) error {
		return s.appointments.InScheduleTransaction(ctx, appt.DoctorID, date, func(ctx context.Context, tx store.ScheduleTx) error {
			if err := s.CheckAvailability(ctx, appt.DoctorID, date, start, end); err != nil {
				return err
			}

			existing, err := tx.FindForDoctorOnDate(ctx, appt.DoctorID, date, appt.ID)
			if err != nil {
				return fmt.Errorf("conflict scan: %w", err)
			}
			if overlapsAny(existing, start, end) {
				return ErrSlotTaken
			}

			moved, err := tx.UpdateAppointmentTimes(ctx, appt.ID, date, start, end)
			if err != nil {
				if errors.Is(err, store.ErrConflict) {
					return ErrSlotTaken
				}
				if errors.Is(err, store.ErrNotFound) {
					// The compare-and-swap on the scheduled status matched
					// nothing: a cancel or complete committed after our read.
					return ErrInvalidTransition
				}
				return fmt.Errorf("update appointment times: %w", err)
			}
			updated = moved

			return s.logEvent(ctx, tx, domain.AppointmentEvent{
				Type:           domain.EventAppointmentUpdated,
				Appointment:    moved,
				PreviousStatus: domain.StatusScheduled,
				ActorID:        in.Actor.ID,
			})
		})
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.Info("appointment rescheduled",
		slog.String("appointment_id", updated.ID.String()),
		slog.String("date", updated.Date.Format("2006-01-02")),
		slog.String("start", updated.Start.String()),
		slog.String("end", updated.End.String()),
	)

	s.emit(domain.AppointmentEvent{
		Type:           domain.EventAppointmentUpdated,
		Appointment:    updated,
		PreviousStatus: domain.StatusScheduled,
		ActorID:        in.Actor.ID,
	})
	return updated, nil
}

// Release cancels a scheduled appointment. The row is kept with
// status=cancelled; the interval becomes immediately re-bookable because
// conflict scans filter cancelled rows.
func (s *Service) Release(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor, reason string) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.StatusCancelled, actor, reason, true)
}

// Complete marks a scheduled appointment as completed. Doctor or admin only;
// not time-restricted.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.StatusCompleted, actor, "", false)
}

// MarkNoShow records that the patient did not attend. Doctor or admin only.
func (s *Service) MarkNoShow(ctx context.Context, appointmentID uuid.UUID, actor domain.Actor) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.StatusNoShow, actor, "", false)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return s.getAppointment(ctx, id)
}

func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]domain.Appointment, error) {
	if patientID == uuid.Nil {
		return nil, validationError("patient_id is required")
	}
	from, to = dateOnly(from), dateOnly(to)
	if to.Before(from) {
		return nil, validationError("to must not be before from")
	}
	return s.appointments.ListForPatient(ctx, patientID, from, to)
}

func (s *Service) ListForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]domain.Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, validationError("doctor_id is required")
	}
	return s.appointments.FindForDoctorOnDate(ctx, doctorID, dateOnly(date), uuid.Nil)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to domain.AppointmentStatus, actor domain.Actor, reason string, enforceLockout bool) (domain.Appointment, error) {
	if id == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	appt, err := s.getAppointment(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}

	from := appt.Status
	if !domain.CanTransition(from, to) {
		return domain.Appointment{}, ErrInvalidTransition
	}
	if err := s.authorizeActor(appt, actor); err != nil {
		return domain.Appointment{}, err
	}
	if !domain.TransitionAllowedFor(from, to, actor.Role) {
		return domain.Appointment{}, ErrActorNotAllowed
	}
	if enforceLockout && s.withinLockout(appt) {
		return domain.Appointment{}, ErrLockoutViolation
	}

	eventType := transitionEventType(to)

	var updated domain.Appointment
	err = s.appointments.InScheduleTransaction(ctx, appt.DoctorID, appt.Date, func(ctx context.Context, tx store.ScheduleTx) error {
		moved, err := tx.UpdateAppointmentStatus(ctx, appt.ID, from, to, reason)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// The status changed underneath us; the compare-and-swap
				// matched nothing.
				return ErrInvalidTransition
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		updated = moved

		return s.logEvent(ctx, tx, domain.AppointmentEvent{
			Type:           eventType,
			Appointment:    moved,
			PreviousStatus: from,
			ActorID:        actor.ID,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			return domain.Appointment{}, ErrBusy
		}
		return domain.Appointment{}, err
	}

	s.log.Info("appointment transition",
		slog.String("appointment_id", updated.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("actor_id", actor.ID.String()),
	)

	s.emit(domain.AppointmentEvent{
		Type:           eventType,
		Appointment:    updated,
		PreviousStatus: from,
		ActorID:        actor.ID,
	})
	return updated, nil
}

// withScheduleLock layers the cross-instance Redis lock over fn when a
// locker is configured. Contention maps to ErrBusy either way.
func (s *Service) withScheduleLock(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	run := fn
	if s.locker != nil {
		run = func(ctx context.Context) error {
			return s.locker.WithScheduleLock(ctx, doctorID, date, fn)
		}
	}
	err := run(ctx)
	if errors.Is(err, redisclient.ErrLockNotAcquired) || errors.Is(err, store.ErrBusy) {
		return ErrBusy
	}
	return err
}

func (s *Service) getAppointment(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, ErrAppointmentNotFound
		}
		return domain.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

// withinLockout reports whether the appointment may no longer be cancelled
// or rescheduled. The boundary is inclusive: at exactly start minus lockout
// the appointment is locked.
func (s *Service) withinLockout(appt domain.Appointment) bool {
	deadline := appt.StartAt().Add(-s.cfg.CancellationLockout)
	return !s.clock.Now().Before(deadline)
}

func (s *Service) authorizeActor(appt domain.Appointment, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RolePatient:
		if actor.ID == appt.PatientID {
			return nil
		}
	case domain.RoleDoctor:
		if actor.ID == appt.DoctorID {
			return nil
		}
	}
	return ErrActorNotAllowed
}

func transitionEventType(to domain.AppointmentStatus) domain.AppointmentEventType {
	switch to {
	case domain.StatusCancelled:
		return domain.EventAppointmentCancelled
	case domain.StatusCompleted:
		return domain.EventAppointmentCompleted
	case domain.StatusNoShow:
		return domain.EventAppointmentNoShow
	default:
		return domain.EventAppointmentUpdated
	}
}

func validateInterval(start, end domain.TimeOfDay) error {
	if !start.Valid() || !end.Valid() {
		return validationError("times must be within one day")
	}
	if start >= end {
		return validationError("start_time must be before end_time")
	}
	return nil
}

func overlapsAny(appts []domain.Appointment, start, end domain.TimeOfDay) bool {
	for _, a := range appts {
		if a.OverlapsInterval(start, end) {
			return true
		}
	}
	return false
}

// dateOnly reduces an instant to its calendar day in the instant's own
// location, anchored at UTC midnight. The anchor matches how the date column
// comes back from the database, so date comparisons and the lockout
// arithmetic never depend on the server's timezone. The clinic is assumed to
// operate in a single zone.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

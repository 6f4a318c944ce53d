package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
)

// ScheduleTx is the view of the appointment store available inside a
// serialized (doctor, date) scope. Every mutation of an appointment's time or
// status goes through it; nothing else writes appointments.
type ScheduleTx interface {
	// FindForDoctorOnDate returns the doctor's non-cancelled appointments on
	// the date, ordered by start. excludeID (uuid.Nil for none) drops one
	// appointment from the result, for reschedule self-checks.
	FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error)

	InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)

	// UpdateAppointmentTimes moves a still-scheduled appointment to a new
	// interval. Like UpdateAppointmentStatus it is a compare-and-swap on the
	// scheduled status; ErrNotFound when no scheduled row matches the id.
	UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, date time.Time, start, end domain.TimeOfDay) (domain.Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap: it only succeeds when the
	// row still has status from. Returns ErrNotFound when no row matches.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (domain.Appointment, error)

	InsertEvent(ctx context.Context, ev domain.AppointmentEventLog) error
}

type AppointmentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]domain.Appointment, error)

	// InScheduleTransaction runs fn inside a transaction that holds an
	// exclusive lock on the (doctorID, date) schedule key. Two calls for the
	// same key serialize; lock acquisition has a bounded wait and fails with
	// ErrBusy when it elapses.
	InScheduleTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx ScheduleTx) error) error
}

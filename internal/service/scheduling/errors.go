package scheduling

import "errors"

var (
	// ErrDoctorNotFound and ErrAppointmentNotFound are not retryable and map
	// to 404 at the transport.
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken: another non-cancelled appointment overlaps the requested
	// interval. The client must pick a different time.
	ErrSlotTaken = errors.New("slot is already taken")

	// ErrOutOfAvailability: the interval is not contained in any of the
	// doctor's windows for that weekday. Kept distinct from ErrSlotTaken so
	// the caller can say "try a different day" rather than "try a different
	// time".
	ErrOutOfAvailability = errors.New("interval is outside the doctor's availability")

	// ErrLockoutViolation: the appointment starts within the cancellation
	// lockout window and may no longer be cancelled or rescheduled.
	ErrLockoutViolation = errors.New("appointment is within the cancellation lockout window")

	// ErrInvalidTransition: attempt to move out of a terminal status, or a
	// move the transition table does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrActorNotAllowed: the transition is legal but not for this actor.
	ErrActorNotAllowed = errors.New("actor is not allowed to perform this transition")

	// ErrBusy: the schedule lock could not be acquired within the bounded
	// wait. Retryable with backoff.
	ErrBusy = errors.New("schedule is busy, retry")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

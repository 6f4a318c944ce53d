package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no-show"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

type AppointmentType string

const (
	TypeInPerson AppointmentType = "in-person"
	TypeVideo    AppointmentType = "video"
	TypePhone    AppointmentType = "phone"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeInPerson, TypeVideo, TypePhone:
		return true
	}
	return false
}

type ActorRole string

const (
	RolePatient ActorRole = "patient"
	RoleDoctor  ActorRole = "doctor"
	RoleAdmin   ActorRole = "admin"
)

// Actor identifies who is asking for a mutation. The engine does not
// authenticate actors; the enclosing transport is expected to have done that.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

// transitions is the closed set of legal status moves and the roles allowed
// to trigger each one.
var transitions = map[AppointmentStatus]map[AppointmentStatus][]ActorRole{
	StatusScheduled: {
		StatusCancelled: {RolePatient, RoleDoctor, RoleAdmin},
		StatusCompleted: {RoleDoctor, RoleAdmin},
		StatusNoShow:    {RoleDoctor, RoleAdmin},
	},
}

// CanTransition reports whether from -> to is a legal move at all,
// irrespective of who asks.
func CanTransition(from, to AppointmentStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// TransitionAllowedFor reports whether the given role may perform from -> to.
func TransitionAllowedFor(from, to AppointmentStatus, role ActorRole) bool {
	for _, r := range transitions[from][to] {
		if r == role {
			return true
		}
	}
	return false
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID         `bun:"id,pk,type:uuid"`
	PatientID    uuid.UUID         `bun:"patient_id,notnull,type:uuid"`
	DoctorID     uuid.UUID         `bun:"doctor_id,notnull,type:uuid"`
	Date         time.Time         `bun:"date,notnull,type:date"`
	Start        TimeOfDay         `bun:"start_minute,notnull"`
	End          TimeOfDay         `bun:"end_minute,notnull"`
	Status       AppointmentStatus `bun:"status,notnull"`
	Type         AppointmentType   `bun:"type,notnull"`
	Symptoms     string            `bun:"symptoms"`
	Notes        string            `bun:"notes"`
	CancelReason string            `bun:"cancel_reason"`
	CreatedAt    time.Time         `bun:"created_at,notnull"`
	UpdatedAt    time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// StartAt is the appointment's starting instant, anchoring the wall-clock
// start on the appointment date. Used by the cancellation lockout check.
func (a Appointment) StartAt() time.Time {
	return a.Start.At(a.Date)
}

// OverlapsInterval applies the canonical half-open overlap rule against this
// appointment's interval.
func (a Appointment) OverlapsInterval(start, end TimeOfDay) bool {
	return Overlaps(a.Start, a.End, start, end)
}

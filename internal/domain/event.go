package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentEventType string

const (
	EventAppointmentCreated   AppointmentEventType = "created"
	EventAppointmentUpdated   AppointmentEventType = "updated"
	EventAppointmentCancelled AppointmentEventType = "cancelled"
	EventAppointmentCompleted AppointmentEventType = "completed"
	EventAppointmentNoShow    AppointmentEventType = "no_show"
)

// AppointmentEvent is handed to registered handlers after every successful
// mutation. The engine does not know about delivery channels; notification
// collaborators subscribe and decide for themselves.
type AppointmentEvent struct {
	Type           AppointmentEventType
	Appointment    Appointment
	PreviousStatus AppointmentStatus
	ActorID        uuid.UUID
}

// AppointmentEventLog is the durable form of an AppointmentEvent. External
// consumers that cannot hold an in-process subscription tail this table.
type AppointmentEventLog struct {
	bun.BaseModel `bun:"table:appointment_events"`

	ID            int64                `bun:"id,pk,autoincrement"`
	EventType     AppointmentEventType `bun:"event_type,notnull"`
	AppointmentID uuid.UUID            `bun:"appointment_id,notnull,type:uuid"`
	Payload       []byte               `bun:"payload,type:jsonb"`
	CreatedAt     time.Time            `bun:"created_at,notnull,default:now()"`
}

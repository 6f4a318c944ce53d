package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Doctor struct {
	bun.BaseModel `bun:"table:doctors"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Name      string    `bun:"name,notnull"`
	Specialty string    `bun:"specialty"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (d *Doctor) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if d.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			d.ID = id
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		if d.UpdatedAt.IsZero() {
			d.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		d.UpdatedAt = now
	}
	return nil
}

// AvailabilityWindow is one recurring working interval for a doctor on one
// weekday. Weekday follows time.Weekday numbering (Sunday = 0). A doctor's
// window set is replaced wholesale when edited, never mutated in place.
type AvailabilityWindow struct {
	bun.BaseModel `bun:"table:availability_windows"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	DoctorID  uuid.UUID `bun:"doctor_id,notnull,type:uuid"`
	Weekday   int16     `bun:"weekday,notnull"`
	Start     TimeOfDay `bun:"start_minute,notnull"`
	End       TimeOfDay `bun:"end_minute,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (w *AvailabilityWindow) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			w.ID = id
		}
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

// Contains reports whether [start,end) lies entirely inside the window.
func (w AvailabilityWindow) Contains(start, end TimeOfDay) bool {
	return w.Start <= start && end <= w.End
}

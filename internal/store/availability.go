package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
)

type AvailabilityStore interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (domain.Doctor, error)
	ListDoctors(ctx context.Context) ([]domain.Doctor, error)
	CreateDoctor(ctx context.Context, doctor domain.Doctor) (domain.Doctor, error)

	// GetWindowsForDay returns the doctor's recurring windows for one weekday,
	// ordered by start. ErrNotFound when the doctor is unknown; an empty slice
	// when the doctor simply does not work that day.
	GetWindowsForDay(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]domain.AvailabilityWindow, error)

	ListWindows(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilityWindow, error)

	// ReplaceWindows swaps the doctor's whole weekly set in one transaction.
	// Windows are replaced, never edited row by row.
	ReplaceWindows(ctx context.Context, doctorID uuid.UUID, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error)
}

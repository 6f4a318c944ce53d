package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrNotAllowed     = errors.New("only the owning doctor or an admin may edit availability")
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

// Service manages doctors and their recurring weekly windows. Windows are
// replaced as a whole set, never deleted piecemeal.
type Service struct {
	store store.AvailabilityStore
	log   *slog.Logger
}

func NewService(st store.AvailabilityStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, log: log.With(slog.String("component", "availability"))}
}

func (s *Service) RegisterDoctor(ctx context.Context, name, specialty string) (domain.Doctor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Doctor{}, validationError("name is required")
	}
	doctor, err := s.store.CreateDoctor(ctx, domain.Doctor{Name: name, Specialty: strings.TrimSpace(specialty)})
	if err != nil {
		return domain.Doctor{}, fmt.Errorf("create doctor: %w", err)
	}
	s.log.Info("doctor registered", slog.String("doctor_id", doctor.ID.String()))
	return doctor, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (domain.Doctor, error) {
	doctor, err := s.store.GetDoctor(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Doctor{}, ErrDoctorNotFound
		}
		return domain.Doctor{}, err
	}
	return doctor, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	return s.store.ListDoctors(ctx)
}

func (s *Service) Windows(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilityWindow, error) {
	if doctorID == uuid.Nil {
		return nil, validationError("doctor_id is required")
	}
	rows, err := s.store.ListWindows(ctx, doctorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return rows, nil
}

type WindowInput struct {
	Weekday int              `json:"weekday"`
	Start   domain.TimeOfDay `json:"start_time"`
	End     domain.TimeOfDay `json:"end_time"`
}

// ReplaceWindows swaps the doctor's weekly window set. Only the owning
// doctor or an admin may call it. Windows on the same weekday must not
// overlap each other.
func (s *Service) ReplaceWindows(ctx context.Context, doctorID uuid.UUID, actor domain.Actor, inputs []WindowInput) ([]domain.AvailabilityWindow, error) {
	if doctorID == uuid.Nil {
		return nil, validationError("doctor_id is required")
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleDoctor:
		if actor.ID != doctorID {
			return nil, ErrNotAllowed
		}
	default:
		return nil, ErrNotAllowed
	}

	windows := make([]domain.AvailabilityWindow, 0, len(inputs))
	for _, in := range inputs {
		if in.Weekday < 0 || in.Weekday > 6 {
			return nil, validationError("weekday must be between 0 (Sunday) and 6 (Saturday)")
		}
		if !in.Start.Valid() || !in.End.Valid() {
			return nil, validationError("times must be within one day")
		}
		if in.Start >= in.End {
			return nil, validationError("start_time must be before end_time")
		}
		windows = append(windows, domain.AvailabilityWindow{
			DoctorID: doctorID,
			Weekday:  int16(in.Weekday),
			Start:    in.Start,
			End:      in.End,
		})
	}

	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].Start < windows[j].Start
	})
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if prev.Weekday == cur.Weekday && cur.Start < prev.End {
			return nil, validationError("windows on the same weekday must not overlap")
		}
	}

	out, err := s.store.ReplaceWindows(ctx, doctorID, windows)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("replace windows: %w", err)
	}

	s.log.Info("availability replaced",
		slog.String("doctor_id", doctorID.String()),
		slog.Int("windows", len(out)),
	)
	return out, nil
}

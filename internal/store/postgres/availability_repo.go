package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

type AvailabilityRepo struct {
	db *bun.DB
}

func NewAvailabilityRepo(db *bun.DB) *AvailabilityRepo {
	return &AvailabilityRepo{db: db}
}

func (r *AvailabilityRepo) GetDoctor(ctx context.Context, id uuid.UUID) (domain.Doctor, error) {
	var doctor domain.Doctor
	err := r.db.NewSelect().
		Model(&doctor).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Doctor{}, store.ErrNotFound
		}
		return domain.Doctor{}, err
	}
	return doctor, nil
}

func (r *AvailabilityRepo) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	var rows []domain.Doctor
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AvailabilityRepo) CreateDoctor(ctx context.Context, doctor domain.Doctor) (domain.Doctor, error) {
	m := doctor
	_, err := r.db.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Doctor{}, err
	}
	return m, nil
}

func (r *AvailabilityRepo) GetWindowsForDay(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]domain.AvailabilityWindow, error) {
	if err := r.ensureDoctor(ctx, r.db, doctorID); err != nil {
		return nil, err
	}

	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("weekday = ?", int16(weekday)).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AvailabilityRepo) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]domain.AvailabilityWindow, error) {
	if err := r.ensureDoctor(ctx, r.db, doctorID); err != nil {
		return nil, err
	}

	var rows []domain.AvailabilityWindow
	err := r.db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		OrderExpr("weekday ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceWindows swaps the doctor's full weekly set in one transaction.
// Windows are never edited row by row; the owning doctor submits a complete
// replacement and readers see either the old set or the new one.
func (r *AvailabilityRepo) ReplaceWindows(ctx context.Context, doctorID uuid.UUID, windows []domain.AvailabilityWindow) ([]domain.AvailabilityWindow, error) {
	var out []domain.AvailabilityWindow
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.ensureDoctor(ctx, tx, doctorID); err != nil {
			return err
		}

		if _, err := tx.NewDelete().
			Model((*domain.AvailabilityWindow)(nil)).
			Where("doctor_id = ?", doctorID).
			Exec(ctx); err != nil {
			return err
		}

		if len(windows) == 0 {
			out = nil
			return nil
		}

		rows := make([]domain.AvailabilityWindow, len(windows))
		copy(rows, windows)
		for i := range rows {
			rows[i].DoctorID = doctorID
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AvailabilityRepo) ensureDoctor(ctx context.Context, db bun.IDB, doctorID uuid.UUID) error {
	exists, err := db.NewSelect().
		Model((*domain.Doctor)(nil)).
		Where("id = ?", doctorID).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return nil
}

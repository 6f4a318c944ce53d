package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"clinicbook/backend/internal/domain"
	"clinicbook/backend/internal/store"
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
	pgLockNotAvailable   = "55P03"
)

type ScheduleRepo struct {
	db       *bun.DB
	lockWait time.Duration
}

func NewScheduleRepo(db *bun.DB, lockWait time.Duration) *ScheduleRepo {
	return &ScheduleRepo{db: db, lockWait: lockWait}
}

type scheduleTx struct {
	tx bun.Tx
}

func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *ScheduleRepo) FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	return findForDoctorOnDate(ctx, r.db, doctorID, date, excludeID)
}

func (r *ScheduleRepo) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("patient_id = ?", patientID).
		Where("date >= ?", from).
		Where("date <= ?", to).
		OrderExpr("date ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// InScheduleTransaction serializes all writers of one (doctor, date) schedule
// with a transaction-scoped advisory lock. The lock wait is bounded through
// lock_timeout; hitting it surfaces as store.ErrBusy so callers can retry
// with backoff instead of queueing indefinitely.
func (r *ScheduleRepo) InScheduleTransaction(ctx context.Context, doctorID uuid.UUID, date time.Time, fn func(ctx context.Context, tx store.ScheduleTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockSchedule(ctx, tx, doctorID, date, r.lockWait); err != nil {
			return err
		}
		return fn(ctx, scheduleTx{tx: tx})
	})
}

func lockSchedule(ctx context.Context, tx bun.Tx, doctorID uuid.UUID, date time.Time, wait time.Duration) error {
	if wait > 0 {
		// SET does not take bind parameters.
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())
		if _, err := tx.NewRaw(q).Exec(ctx); err != nil {
			return err
		}
	}
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", scheduleKey(doctorID, date)).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return store.ErrBusy
		}
		return err
	}
	return nil
}

func scheduleKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + date.Format("2006-01-02")
}

func findForDoctorOnDate(ctx context.Context, db bun.IDB, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := db.NewSelect().
		Model(&rows).
		Where("doctor_id = ?", doctorID).
		Where("date = ?", date.Format("2006-01-02")).
		Where("status != ?", domain.StatusCancelled).
		OrderExpr("start_minute ASC")
	if excludeID != uuid.Nil {
		q = q.Where("id != ?", excludeID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t scheduleTx) FindForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time, excludeID uuid.UUID) ([]domain.Appointment, error) {
	return findForDoctorOnDate(ctx, t.tx, doctorID, date, excludeID)
}

func (t scheduleTx) InsertAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapScheduleWriteError(err)
	}
	return m, nil
}

// UpdateAppointmentTimes only moves a still-scheduled row. The status guard
// is what protects the move against a cancel or complete that committed after
// the caller's precheck read; zero matched rows surface as ErrNotFound.
func (t scheduleTx) UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, date time.Time, start, end domain.TimeOfDay) (domain.Appointment, error) {
	res, err := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("date = ?", date.Format("2006-01-02")).
		Set("start_minute = ?", start).
		Set("end_minute = ?", end).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", domain.StatusScheduled).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapScheduleWriteError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return t.getByID(ctx, id)
}

func (t scheduleTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to domain.AppointmentStatus, reason string) (domain.Appointment, error) {
	q := t.tx.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("status = ?", to).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status = ?", from)
	if reason != "" {
		q = q.Set("cancel_reason = ?", reason)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return t.getByID(ctx, id)
}

func (t scheduleTx) InsertEvent(ctx context.Context, ev domain.AppointmentEventLog) error {
	_, err := t.tx.NewInsert().Model(&ev).Exec(ctx)
	return err
}

func (t scheduleTx) getByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := t.tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

// mapScheduleWriteError translates the two DB backstops for double booking
// into store.ErrConflict: the appointments_no_overlap exclusion constraint
// and the unique index on (doctor_id, date, start_minute).
func mapScheduleWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == "appointments_no_overlap" {
			return store.ErrConflict
		}
		if pgErr.Code == pgUniqueViolation {
			return store.ErrConflict
		}
	}
	return err
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
)

const appointmentColumns = `id, patient_id, practitioner_id, start_time, end_time, duration_minutes,
	reason, status, payment_confirmed, created_at, updated_at`

var appointmentSelect = []interface{}{
	"id", "patient_id", "practitioner_id", "start_time", "end_time", "duration_minutes",
	"reason", "status", "payment_confirmed", "created_at", "updated_at",
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, patient_id, practitioner_id, start_time, end_time, duration_minutes,
			reason, status, payment_confirmed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		appointment.ID,
		appointment.PatientID,
		appointment.PractitionerID,
		appointment.StartTime,
		appointment.EndTime,
		appointment.DurationMinutes,
		appointment.Reason,
		appointment.Status,
		appointment.PaymentConfirmed,
		appointment.CreatedAt,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", translate(err, "appointment"))
	}
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	var appointment model.Appointment
	if err := sqlx.GetContext(ctx, r.conn(ctx), &appointment, query, id); err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", translate(err, "appointment"))
	}
	return &appointment, nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete appointment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return translate(sql.ErrNoRows, "appointment")
	}
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	ds := goqu.Dialect("postgres").
		From("appointments").
		Select(appointmentSelect...).
		Order(goqu.C("start_time").Asc())

	if filter.PractitionerID != nil {
		ds = ds.Where(goqu.C("practitioner_id").Eq(filter.PractitionerID.String()))
	}
	if filter.PatientID != nil {
		ds = ds.Where(goqu.C("patient_id").Eq(filter.PatientID.String()))
	}
	if filter.From != nil {
		ds = ds.Where(goqu.C("start_time").Gte(*filter.From))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		ds = ds.Where(goqu.C("status").In(statuses))
	}
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}

	var appointments []*model.Appointment
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &appointments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (r *appointmentRepository) HasConflict(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE practitioner_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
			AND ($4::uuid IS NULL OR id <> $4::uuid)
		)
	`
	var exists bool
	if err := sqlx.GetContext(ctx, r.conn(ctx), &exists, query, practitionerID, start, end, excludeID); err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepository) CountActiveForPatient(ctx context.Context, patientID uuid.UUID, after time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM appointments
		WHERE patient_id = $1
		AND status IN ('pending', 'confirmed')
		AND start_time > $2
	`
	var count int
	if err := sqlx.GetContext(ctx, r.conn(ctx), &count, query, patientID, after); err != nil {
		return 0, fmt.Errorf("failed to count patient appointments: %w", err)
	}
	return count, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, paymentConfirmed *bool, at time.Time) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $3,
			payment_confirmed = COALESCE($4, payment_confirmed),
			updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING ` + appointmentColumns

	var appointment model.Appointment
	err := sqlx.GetContext(ctx, r.conn(ctx), &appointment, query, id, from, to, paymentConfirmed, at)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, repository.ErrStaleState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update appointment status: %w", err)
	}
	return &appointment, nil
}

func (r *appointmentRepository) UpdateSlot(ctx context.Context, appointment *model.Appointment) error {
	query := `
		UPDATE appointments
		SET start_time = $2, end_time = $3, duration_minutes = $4, updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'confirmed')
	`
	result, err := r.conn(ctx).ExecContext(ctx, query,
		appointment.ID,
		appointment.StartTime,
		appointment.EndTime,
		appointment.DurationMinutes,
		appointment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule appointment: %w", translate(err, "appointment"))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return repository.ErrStaleState
	}
	return nil
}

func (r *appointmentRepository) TransitionPast(ctx context.Context, from, to model.AppointmentStatus, before time.Time, practitionerID *uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE appointments
		SET status = $2, updated_at = $4
		WHERE status = $1
		AND start_time < $3
		AND ($5::uuid IS NULL OR practitioner_id = $5::uuid)
	`
	result, err := r.conn(ctx).ExecContext(ctx, query, from, to, before, at, practitionerID)
	if err != nil {
		return 0, fmt.Errorf("failed to transition %s appointments: %w", from, err)
	}
	return result.RowsAffected()
}

func (r *appointmentRepository) CancelForPair(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE appointments
		SET status = 'cancelled', updated_at = $3
		WHERE patient_id = $1
		AND practitioner_id = $2
		AND status IN ('pending', 'confirmed')
	`
	result, err := r.conn(ctx).ExecContext(ctx, query, patientID, practitionerID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel appointments: %w", err)
	}
	return result.RowsAffected()
}

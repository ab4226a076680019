package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
)

const patientColumns = `id, user_id, first_name, last_name, phone, date_of_birth,
	assigned_practitioner_id, created_at, updated_at`

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, user_id, first_name, last_name, phone, date_of_birth,
			assigned_practitioner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		patient.ID,
		patient.UserID,
		patient.FirstName,
		patient.LastName,
		patient.Phone,
		patient.DateOfBirth,
		patient.AssignedPractitionerID,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", translate(err, "patient"))
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	var patient model.Patient
	if err := sqlx.GetContext(ctx, r.conn(ctx), &patient, query, id); err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", translate(err, "patient"))
	}
	return &patient, nil
}

func (r *patientRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE user_id = $1`

	var patient model.Patient
	if err := sqlx.GetContext(ctx, r.conn(ctx), &patient, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get patient by user: %w", translate(err, "patient"))
	}
	return &patient, nil
}

func (r *patientRepository) AssignPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) error {
	query := `
		UPDATE patients SET assigned_practitioner_id = $2, updated_at = $3
		WHERE id = $1 AND (assigned_practitioner_id IS NULL OR assigned_practitioner_id = $2)
	`

	result, err := r.conn(ctx).ExecContext(ctx, query, patientID, practitionerID, at)
	if err != nil {
		return fmt.Errorf("failed to assign practitioner: %w", translate(err, "patient"))
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

func (r *patientRepository) SetAssignedPractitioner(ctx context.Context, patientID uuid.UUID, practitionerID *uuid.UUID, at time.Time) error {
	query := `UPDATE patients SET assigned_practitioner_id = $2, updated_at = $3 WHERE id = $1`

	result, err := r.conn(ctx).ExecContext(ctx, query, patientID, practitionerID, at)
	if err != nil {
		return fmt.Errorf("failed to assign practitioner: %w", translate(err, "patient"))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return translate(sql.ErrNoRows, "patient")
	}
	return nil
}

const practitionerColumns = `id, user_id, first_name, last_name, specialty, license_number, created_at, updated_at`

func (r *practitionerRepository) Create(ctx context.Context, practitioner *model.Practitioner) error {
	query := `
		INSERT INTO practitioners (
			id, user_id, first_name, last_name, specialty, license_number, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if practitioner.ID == uuid.Nil {
		practitioner.ID = uuid.New()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		practitioner.ID,
		practitioner.UserID,
		practitioner.FirstName,
		practitioner.LastName,
		practitioner.Specialty,
		practitioner.LicenseNumber,
		practitioner.CreatedAt,
		practitioner.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create practitioner: %w", translate(err, "practitioner"))
	}
	return nil
}

func (r *practitionerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Practitioner, error) {
	query := `SELECT ` + practitionerColumns + ` FROM practitioners WHERE id = $1`

	var practitioner model.Practitioner
	if err := sqlx.GetContext(ctx, r.conn(ctx), &practitioner, query, id); err != nil {
		return nil, fmt.Errorf("failed to get practitioner: %w", translate(err, "practitioner"))
	}
	return &practitioner, nil
}

func (r *practitionerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Practitioner, error) {
	query := `SELECT ` + practitionerColumns + ` FROM practitioners WHERE user_id = $1`

	var practitioner model.Practitioner
	if err := sqlx.GetContext(ctx, r.conn(ctx), &practitioner, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get practitioner by user: %w", translate(err, "practitioner"))
	}
	return &practitioner, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
)

const planColumns = `id, patient_id, practitioner_id, status, estimated_session_count, objectives,
	prescribed_exercises, completed_at, created_at, updated_at`

func (r *treatmentPlanRepository) Create(ctx context.Context, plan *model.TreatmentPlan) error {
	query := `
		INSERT INTO treatment_plans (
			id, patient_id, practitioner_id, status, estimated_session_count, objectives,
			prescribed_exercises, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.Objectives == nil {
		plan.Objectives = []string{}
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		plan.ID,
		plan.PatientID,
		plan.PractitionerID,
		plan.Status,
		plan.EstimatedSessionCount,
		plan.Objectives,
		plan.Exercises,
		plan.CompletedAt,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create treatment plan: %w", translate(err, "active treatment plan"))
	}
	return nil
}

func (r *treatmentPlanRepository) Get(ctx context.Context, id uuid.UUID) (*model.TreatmentPlan, error) {
	query := `SELECT ` + planColumns + ` FROM treatment_plans WHERE id = $1`

	var plan model.TreatmentPlan
	if err := sqlx.GetContext(ctx, r.conn(ctx), &plan, query, id); err != nil {
		return nil, fmt.Errorf("failed to get treatment plan: %w", translate(err, "treatment plan"))
	}
	return &plan, nil
}

func (r *treatmentPlanRepository) FindActive(ctx context.Context, patientID, practitionerID uuid.UUID) (*model.TreatmentPlan, error) {
	query := `
		SELECT ` + planColumns + ` FROM treatment_plans
		WHERE patient_id = $1 AND practitioner_id = $2 AND status = 'active'
	`
	var plan model.TreatmentPlan
	err := sqlx.GetContext(ctx, r.conn(ctx), &plan, query, patientID, practitionerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active treatment plan: %w", err)
	}
	return &plan, nil
}

func (r *treatmentPlanRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, status *model.PlanStatus) ([]*model.TreatmentPlan, error) {
	query := `
		SELECT ` + planColumns + ` FROM treatment_plans
		WHERE patient_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY created_at DESC
	`
	var plans []*model.TreatmentPlan
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &plans, query, patientID, status); err != nil {
		return nil, fmt.Errorf("failed to list treatment plans: %w", err)
	}
	return plans, nil
}

func (r *treatmentPlanRepository) Update(ctx context.Context, plan *model.TreatmentPlan) error {
	query := `
		UPDATE treatment_plans
		SET estimated_session_count = $2, objectives = $3, prescribed_exercises = $4, updated_at = $5
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.conn(ctx).ExecContext(ctx, query,
		plan.ID,
		plan.EstimatedSessionCount,
		plan.Objectives,
		plan.Exercises,
		plan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update treatment plan: %w", err)
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

func (r *treatmentPlanRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE treatment_plans
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.conn(ctx).ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to complete treatment plan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return repository.ErrStaleState
	}
	return nil
}

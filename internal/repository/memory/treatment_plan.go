package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

type treatmentPlanRepository struct {
	s *Store
}

func (r *treatmentPlanRepository) Create(ctx context.Context, plan *model.TreatmentPlan) error {
	defer r.s.lock(ctx)()

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.IsActive() {
		for _, p := range r.s.data.plans {
			if p.IsActive() && p.PatientID == plan.PatientID && p.PractitionerID == plan.PractitionerID {
				return apperrors.Conflict("active treatment plan already exists")
			}
		}
	}
	r.s.data.plans[plan.ID] = copyPlan(*plan)
	return nil
}

func (r *treatmentPlanRepository) Get(ctx context.Context, id uuid.UUID) (*model.TreatmentPlan, error) {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.plans[id]
	if !ok {
		return nil, apperrors.NotFound("treatment plan", nil)
	}
	p = copyPlan(p)
	return &p, nil
}

func (r *treatmentPlanRepository) FindActive(ctx context.Context, patientID, practitionerID uuid.UUID) (*model.TreatmentPlan, error) {
	defer r.s.lock(ctx)()

	for _, p := range r.s.data.plans {
		if p.IsActive() && p.PatientID == patientID && p.PractitionerID == practitionerID {
			p = copyPlan(p)
			return &p, nil
		}
	}
	return nil, nil
}

func (r *treatmentPlanRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, status *model.PlanStatus) ([]*model.TreatmentPlan, error) {
	defer r.s.lock(ctx)()

	var out []*model.TreatmentPlan
	for _, p := range r.s.data.plans {
		if p.PatientID != patientID || (status != nil && p.Status != *status) {
			continue
		}
		p = copyPlan(p)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *treatmentPlanRepository) Update(ctx context.Context, plan *model.TreatmentPlan) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.plans[plan.ID]
	if !ok || !p.IsActive() {
		return repository.ErrStaleState
	}
	p.EstimatedSessionCount = plan.EstimatedSessionCount
	p.Objectives = plan.Objectives
	p.Exercises = plan.Exercises
	p.UpdatedAt = plan.UpdatedAt
	r.s.data.plans[plan.ID] = copyPlan(p)
	return nil
}

func (r *treatmentPlanRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.plans[id]
	if !ok {
		return apperrors.NotFound("treatment plan", nil)
	}
	if !p.IsActive() {
		return repository.ErrStaleState
	}
	completedAt := at
	p.Status = model.PlanStatusCompleted
	p.CompletedAt = &completedAt
	p.UpdatedAt = at
	r.s.data.plans[id] = p
	return nil
}

func copyPlan(p model.TreatmentPlan) model.TreatmentPlan {
	p.Objectives = append([]string{}, p.Objectives...)
	p.Exercises = append(model.PrescribedExercises{}, p.Exercises...)
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		p.CompletedAt = &at
	}
	return p
}

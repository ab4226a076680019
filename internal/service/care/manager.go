// Package care owns the patient to practitioner relationship: who a patient
// is assigned to and the active treatment plan that goes with it.
package care

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/logger"
)

type Manager struct {
	tx       repository.Transactor
	patients repository.PatientRepository
	plans    repository.TreatmentPlanRepository
	events   event.Emitter
	clock    clock.Clock
	log      *logger.Logger
}

func NewManager(repos *repository.Repositories, events event.Emitter, clk clock.Clock, log *logger.Logger) *Manager {
	return &Manager{
		tx:       repos.Transactor,
		patients: repos.Patients,
		plans:    repos.Plans,
		events:   events,
		clock:    clk,
		log:      log,
	}
}

// Register subscribes the manager to plan completion.
func (m *Manager) Register(bus event.Subscriber) {
	bus.Subscribe(model.EventPlanCompleted, m.HandlePlanCompleted)
}

// AssignOrValidate makes practitionerID the patient's practitioner if the
// patient has none, creating an empty active plan for the pair. A patient
// already assigned elsewhere is rejected. The active plan of the pair is
// returned. patient is updated in place.
func (m *Manager) AssignOrValidate(ctx context.Context, patient *model.Patient, practitionerID uuid.UUID) (*model.TreatmentPlan, error) {
	if patient.AssignedPractitionerID != nil && *patient.AssignedPractitionerID != practitionerID {
		return nil, apperrors.Conflict("practitioner mismatch: patient %s is followed by another practitioner", patient.ID)
	}

	var plan *model.TreatmentPlan
	err := m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// Conditional on the stored row: of two concurrent first bookings with
		// different practitioners, the second gets a conflict.
		if err := m.patients.AssignPractitioner(ctx, patient.ID, practitionerID, m.clock.Now()); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.Conflict("practitioner mismatch: patient %s is followed by another practitioner", patient.ID)
			}
			return fmt.Errorf("failed to assign practitioner: %w", err)
		}

		var err error
		plan, err = m.plans.FindActive(ctx, patient.ID, practitionerID)
		if err != nil {
			return fmt.Errorf("failed to find active plan: %w", err)
		}
		if plan != nil {
			return nil
		}
		plan, err = m.openPlan(ctx, patient.ID, practitionerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if patient.AssignedPractitionerID == nil {
		m.log.Info("patient assigned to practitioner",
			"patient_id", patient.ID, "practitioner_id", practitionerID, "plan_id", plan.ID)
		assigned := practitionerID
		patient.AssignedPractitionerID = &assigned
	}
	return plan, nil
}

func (m *Manager) openPlan(ctx context.Context, patientID, practitionerID uuid.UUID) (*model.TreatmentPlan, error) {
	now := m.clock.Now()
	plan := &model.TreatmentPlan{
		Base:           model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		PatientID:      patientID,
		PractitionerID: practitionerID,
		Status:         model.PlanStatusActive,
		Objectives:     []string{},
		Exercises:      model.PrescribedExercises{},
	}
	if err := m.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create treatment plan: %w", err)
	}
	if err := m.events.Emit(ctx, model.PlanCreated{
		PlanID:         plan.ID,
		PatientID:      patientID,
		PractitionerID: practitionerID,
		OccurredAt:     now,
	}); err != nil {
		return nil, err
	}
	return plan, nil
}

// HandlePlanCompleted releases the patient from the plan's practitioner.
func (m *Manager) HandlePlanCompleted(ctx context.Context, e model.DomainEvent) error {
	completed, ok := e.(model.PlanCompleted)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}

	patient, err := m.patients.Get(ctx, completed.PatientID)
	if err != nil {
		return err
	}
	if patient.AssignedPractitionerID == nil || *patient.AssignedPractitionerID != completed.PractitionerID {
		return nil
	}
	if err := m.patients.SetAssignedPractitioner(ctx, patient.ID, nil, m.clock.Now()); err != nil {
		return fmt.Errorf("failed to release patient: %w", err)
	}

	m.log.Info("patient released from practitioner",
		"patient_id", patient.ID, "practitioner_id", completed.PractitionerID, "plan_id", completed.PlanID)
	return nil
}

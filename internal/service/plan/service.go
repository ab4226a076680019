// Package plan manages treatment plans, the exercises prescribed in them and
// the patient's daily exercise list.
package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/service/care"
	"github.com/jwalitptl/kine-api/internal/service/catalog"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

type Service struct {
	tx            repository.Transactor
	plans         repository.TreatmentPlanRepository
	patients      repository.PatientRepository
	practitioners repository.PractitionerRepository
	logs          repository.ExerciseLogRepository

	catalog *catalog.Catalog
	care    *care.Manager
	events  event.Emitter

	clock             clock.Clock
	loc               *time.Location
	metrics           *metrics.Metrics
	log               *logger.Logger
	defaultVisibility int
}

func NewService(
	repos *repository.Repositories,
	exercises *catalog.Catalog,
	careMgr *care.Manager,
	events event.Emitter,
	clk clock.Clock,
	loc *time.Location,
	m *metrics.Metrics,
	log *logger.Logger,
	defaultVisibility int,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if defaultVisibility <= 0 {
		defaultVisibility = model.DefaultVisibilityDays
	}
	return &Service{
		tx:                repos.Transactor,
		plans:             repos.Plans,
		patients:          repos.Patients,
		practitioners:     repos.Practitioners,
		logs:              repos.ExerciseLogs,
		catalog:           exercises,
		care:              careMgr,
		events:            events,
		clock:             clk,
		loc:               loc,
		metrics:           m,
		log:               log,
		defaultVisibility: defaultVisibility,
	}
}

// Prescribe appends exercises to the pair's active plan, opening the plan
// (and the care relationship) if there is none yet.
func (s *Service) Prescribe(ctx context.Context, caller model.Caller, req model.PrescribeExercisesRequest) (*model.TreatmentPlan, error) {
	if len(req.Exercises) == 0 {
		return nil, apperrors.Validation("at least one exercise is required")
	}
	visibility := s.defaultVisibility
	if req.VisibilityDays != nil {
		if *req.VisibilityDays <= 0 {
			return nil, apperrors.Validation("visibility_days must be greater than zero")
		}
		visibility = *req.VisibilityDays
	}
	if req.EstimatedSessionCount != nil && *req.EstimatedSessionCount < 0 {
		return nil, apperrors.Validation("estimated_session_count cannot be negative")
	}

	practitionerID, err := s.prescriber(ctx, caller, req.PractitionerID)
	if err != nil {
		return nil, err
	}

	var plan *model.TreatmentPlan
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		// The plan is rewritten as a whole; serialize writers of the pair.
		if err := s.tx.LockPractitioner(ctx, practitionerID); err != nil {
			return fmt.Errorf("failed to lock practitioner: %w", err)
		}

		patient, err := s.patients.Get(ctx, req.PatientID)
		if err != nil {
			return err
		}
		for _, p := range req.Exercises {
			if _, err := s.catalog.Require(ctx, p.ExerciseID); err != nil {
				return err
			}
		}

		plan, err = s.care.AssignOrValidate(ctx, patient, practitionerID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		ids := make([]uuid.UUID, 0, len(req.Exercises))
		for _, p := range req.Exercises {
			plan.Exercises = append(plan.Exercises, model.PrescribedExercise{
				ExerciseID:     p.ExerciseID,
				Instructions:   p.Instructions,
				AssignedAt:     now,
				VisibilityDays: visibility,
			})
			ids = append(ids, p.ExerciseID)
		}
		if req.EstimatedSessionCount != nil && *req.EstimatedSessionCount > plan.EstimatedSessionCount {
			plan.EstimatedSessionCount = *req.EstimatedSessionCount
		}
		plan.UpdatedAt = now

		if err := s.plans.Update(ctx, plan); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.State("treatment plan is no longer active")
			}
			return fmt.Errorf("failed to update treatment plan: %w", err)
		}

		return s.events.Emit(ctx, model.ExercisesPrescribed{
			PlanID:         plan.ID,
			PatientID:      plan.PatientID,
			ExerciseIDs:    ids,
			VisibilityDays: visibility,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ExercisesPrescribed.Add(float64(len(req.Exercises)))
	s.log.Info("exercises prescribed",
		"plan_id", plan.ID, "patient_id", plan.PatientID, "count", len(req.Exercises), "visibility_days", visibility)
	return plan, nil
}

// prescriber resolves the practitioner a prescription is written by.
func (s *Service) prescriber(ctx context.Context, caller model.Caller, requested *uuid.UUID) (uuid.UUID, error) {
	switch caller.Role {
	case model.RolePractitioner:
		self, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return uuid.Nil, err
		}
		if requested != nil && *requested != self.ID {
			return uuid.Nil, apperrors.Forbidden("practitioners can only prescribe in their own name")
		}
		return self.ID, nil
	case model.RoleAdmin:
		if requested == nil {
			return uuid.Nil, apperrors.Validation("practitioner_id is required")
		}
		practitioner, err := s.practitioners.Get(ctx, *requested)
		if err != nil {
			return uuid.Nil, err
		}
		return practitioner.ID, nil
	default:
		return uuid.Nil, apperrors.Forbidden("only practitioners can prescribe exercises")
	}
}

func (s *Service) GetPlan(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.TreatmentPlan, error) {
	plan, err := s.plans.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, caller, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// ListPlansForPatient returns the patient's plans, newest first. Practitioners
// only see the plans they own.
func (s *Service) ListPlansForPatient(ctx context.Context, caller model.Caller, patientID uuid.UUID, status *model.PlanStatus) ([]*model.TreatmentPlan, error) {
	var practitionerID *uuid.UUID
	switch caller.Role {
	case model.RoleAdmin:
	case model.RolePatient:
		if err := s.ensureSelf(ctx, caller, patientID); err != nil {
			return nil, err
		}
	case model.RolePractitioner:
		self, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		practitionerID = &self.ID
	default:
		return nil, apperrors.Forbidden("unknown role")
	}

	plans, err := s.plans.ListByPatient(ctx, patientID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list treatment plans: %w", err)
	}
	if practitionerID == nil {
		return plans, nil
	}

	own := make([]*model.TreatmentPlan, 0, len(plans))
	for _, p := range plans {
		if p.PractitionerID == *practitionerID {
			own = append(own, p)
		}
	}
	return own, nil
}

// UpdatePlan edits objectives and the session estimate of an active plan.
func (s *Service) UpdatePlan(ctx context.Context, caller model.Caller, id uuid.UUID, req model.UpdatePlanRequest) (*model.TreatmentPlan, error) {
	if req.Objectives == nil && req.EstimatedSessionCount == nil {
		return nil, apperrors.Validation("objectives or estimated_session_count is required")
	}
	if req.EstimatedSessionCount != nil && *req.EstimatedSessionCount < 0 {
		return nil, apperrors.Validation("estimated_session_count cannot be negative")
	}

	var plan *model.TreatmentPlan
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		plan, err = s.plans.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeManage(ctx, caller, plan); err != nil {
			return err
		}
		if err := s.tx.LockPractitioner(ctx, plan.PractitionerID); err != nil {
			return fmt.Errorf("failed to lock practitioner: %w", err)
		}
		if plan, err = s.plans.Get(ctx, id); err != nil {
			return err
		}
		if !plan.IsActive() {
			return apperrors.State("treatment plan is %s", plan.Status)
		}

		if req.Objectives != nil {
			plan.Objectives = append([]string{}, *req.Objectives...)
		}
		if req.EstimatedSessionCount != nil {
			plan.EstimatedSessionCount = *req.EstimatedSessionCount
		}
		plan.UpdatedAt = s.clock.Now()

		if err := s.plans.Update(ctx, plan); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.State("treatment plan is no longer active")
			}
			return fmt.Errorf("failed to update treatment plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// CompletePlan closes an active plan. Subscribers of plan.completed release
// the patient and cancel the pair's open appointments in the same transaction.
func (s *Service) CompletePlan(ctx context.Context, caller model.Caller, id uuid.UUID) error {
	var plan *model.TreatmentPlan
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		plan, err = s.plans.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorizeManage(ctx, caller, plan); err != nil {
			return err
		}
		if !plan.IsActive() {
			return apperrors.State("treatment plan is already %s", plan.Status)
		}

		now := s.clock.Now()
		if err := s.plans.Complete(ctx, plan.ID, now); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.State("treatment plan is no longer active")
			}
			return fmt.Errorf("failed to complete treatment plan: %w", err)
		}

		return s.events.Emit(ctx, model.PlanCompleted{
			PlanID:         plan.ID,
			PatientID:      plan.PatientID,
			PractitionerID: plan.PractitionerID,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("treatment plan completed", "plan_id", plan.ID, "patient_id", plan.PatientID)
	return nil
}

// TodaysExercises lists the exercises visible to the patient today with
// today's completion state. An entry assigned on day D for n days is visible
// from D through D+n inclusive. Exercises removed from the catalog are
// skipped, and an exercise prescribed more than once shows up once.
func (s *Service) TodaysExercises(ctx context.Context, caller model.Caller, patientID uuid.UUID) ([]model.VisibleExercise, error) {
	if err := s.authorizePatientData(ctx, caller, patientID); err != nil {
		return nil, err
	}

	active := model.PlanStatusActive
	plans, err := s.plans.ListByPatient(ctx, patientID, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to list treatment plans: %w", err)
	}

	today := clock.DateOf(s.clock.Now(), s.loc)
	visible := make(map[uuid.UUID]model.VisibleExercise)
	for _, p := range plans {
		for _, entry := range p.Exercises {
			until := clock.DateOf(entry.AssignedAt, s.loc).AddDate(0, 0, entry.VisibilityDays)
			if today.After(until) {
				continue
			}
			if current, ok := visible[entry.ExerciseID]; ok && !until.After(current.VisibleUntil) {
				continue
			}
			visible[entry.ExerciseID] = model.VisibleExercise{
				PlanID:       p.ID,
				ExerciseID:   entry.ExerciseID,
				Instructions: entry.Instructions,
				AssignedAt:   entry.AssignedAt,
				VisibleUntil: until,
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(visible))
	for id := range visible {
		ids = append(ids, id)
	}
	exercises, err := s.catalog.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	logs, err := s.logs.ListForDay(ctx, patientID, today)
	if err != nil {
		return nil, fmt.Errorf("failed to load exercise logs: %w", err)
	}
	done := make(map[uuid.UUID]bool, len(logs))
	for _, l := range logs {
		done[l.ExerciseID] = l.Completed
	}

	out := make([]model.VisibleExercise, 0, len(visible))
	for id, v := range visible {
		exercise, ok := exercises[id]
		if !ok {
			continue
		}
		v.Title = exercise.Title
		v.Description = exercise.Description
		v.Category = exercise.Category
		v.Completed = done[id]
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ExerciseID.String() < out[j].ExerciseID.String()
	})
	return out, nil
}

// ToggleExerciseCompletion records today's completion state and feedback.
// Repeated calls on the same day overwrite the same log row.
func (s *Service) ToggleExerciseCompletion(ctx context.Context, caller model.Caller, patientID, exerciseID uuid.UUID, req model.ToggleExerciseRequest) (*model.ExerciseLog, error) {
	if caller.IsPractitioner() {
		return nil, apperrors.Forbidden("only the patient can log exercises")
	}
	if err := s.authorizePatientData(ctx, caller, patientID); err != nil {
		return nil, err
	}
	if err := validateFeedback(req.ExerciseFeedback); err != nil {
		return nil, err
	}
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.catalog.Require(ctx, exerciseID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	saved, err := s.logs.Upsert(ctx, &model.ExerciseLog{
		ID:         uuid.New(),
		PatientID:  patientID,
		ExerciseID: exerciseID,
		Day:        clock.DateOf(now, s.loc),
		Completed:  req.Completed,
		PainLevel:  req.PainLevel,
		Difficulty: req.Difficulty,
		Comment:    req.Comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save exercise log: %w", err)
	}

	s.metrics.ExerciseLogsRecorded.WithLabelValues(strconv.FormatBool(req.Completed)).Inc()
	return saved, nil
}

func validateFeedback(f model.ExerciseFeedback) error {
	if f.PainLevel != nil && (*f.PainLevel < 0 || *f.PainLevel > 10) {
		return apperrors.Validation("pain_level must be between 0 and 10")
	}
	if f.Difficulty != nil && (*f.Difficulty < 1 || *f.Difficulty > 5) {
		return apperrors.Validation("difficulty must be between 1 and 5")
	}
	return nil
}

func (s *Service) ensureSelf(ctx context.Context, caller model.Caller, patientID uuid.UUID) error {
	patient, err := s.patients.GetByUserID(ctx, caller.UserID)
	if err != nil {
		return err
	}
	if patient.ID != patientID {
		return apperrors.Forbidden("patients can only access their own records")
	}
	return nil
}

// authorizePatientData lets a patient reach their own data, a practitioner the
// data of the patients assigned to them, and admins everything.
func (s *Service) authorizePatientData(ctx context.Context, caller model.Caller, patientID uuid.UUID) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RolePatient:
		return s.ensureSelf(ctx, caller, patientID)
	case model.RolePractitioner:
		self, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return err
		}
		patient, err := s.patients.Get(ctx, patientID)
		if err != nil {
			return err
		}
		if patient.AssignedPractitionerID == nil || *patient.AssignedPractitionerID != self.ID {
			return apperrors.Forbidden("patient is not followed by this practitioner")
		}
		return nil
	default:
		return apperrors.Forbidden("unknown role")
	}
}

func (s *Service) authorizeView(ctx context.Context, caller model.Caller, plan *model.TreatmentPlan) error {
	if caller.IsPatient() {
		return s.ensureSelf(ctx, caller, plan.PatientID)
	}
	return s.authorizeManage(ctx, caller, plan)
}

func (s *Service) authorizeManage(ctx context.Context, caller model.Caller, plan *model.TreatmentPlan) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RolePractitioner:
		self, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if self.ID != plan.PractitionerID {
			return apperrors.Forbidden("treatment plan belongs to another practitioner")
		}
		return nil
	default:
		return apperrors.Forbidden("only practitioners can manage treatment plans")
	}
}

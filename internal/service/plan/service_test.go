package plan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/repository/memory"
	"github.com/jwalitptl/kine-api/internal/service/appointment"
	"github.com/jwalitptl/kine-api/internal/service/care"
	"github.com/jwalitptl/kine-api/internal/service/catalog"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
	"github.com/jwalitptl/kine-api/internal/service/slot"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

// Thursday 2026-10-15 09:00 UTC.
var day0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

var admin = model.Caller{UserID: uuid.New(), Role: model.RoleAdmin}

type fixture struct {
	svc          *Service
	appointments *appointment.Service
	catalog      *catalog.Catalog
	store        *memory.Store
	repos        *repository.Repositories
	clock        *clock.Fixed

	patient       *model.Patient
	patientCaller model.Caller
	kine          *model.Practitioner
	kineCaller    model.Caller
	kine2         *model.Practitioner

	bridge, squat, plank *model.Exercise
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	clk := clock.NewFixed(day0)
	log := logger.Nop()
	m := metrics.NewMetrics("test")

	bus := event.NewService(repos.Outbox, clk, log)
	careMgr := care.NewManager(repos, bus, clk, log)
	exercises := catalog.New(repos.Exercises, time.Hour, time.Hour, m)
	appointments := appointment.NewService(repos, schedule.NewPolicy(time.UTC), slot.NewChecker(repos.Appointments),
		careMgr, bus, clk, m, log, 30)
	careMgr.Register(bus)
	appointments.Register(bus)

	f := &fixture{
		svc:          NewService(repos, exercises, careMgr, bus, clk, time.UTC, m, log, model.DefaultVisibilityDays),
		appointments: appointments,
		catalog:      exercises,
		store:        store,
		repos:        repos,
		clock:        clk,
	}

	ctx := context.Background()
	f.patient = &model.Patient{Base: model.Base{ID: uuid.New()}, UserID: uuid.New(), FirstName: "Lea", LastName: "Bernard"}
	require.NoError(t, repos.Patients.Create(ctx, f.patient))
	f.patientCaller = model.Caller{UserID: f.patient.UserID, Role: model.RolePatient}

	f.kine = &model.Practitioner{Base: model.Base{ID: uuid.New()}, UserID: uuid.New(), LastName: "Petit"}
	require.NoError(t, repos.Practitioners.Create(ctx, f.kine))
	f.kineCaller = model.Caller{UserID: f.kine.UserID, Role: model.RolePractitioner}
	f.kine2 = &model.Practitioner{Base: model.Base{ID: uuid.New()}, UserID: uuid.New(), LastName: "Roux"}
	require.NoError(t, repos.Practitioners.Create(ctx, f.kine2))

	f.bridge = f.newExercise(t, "Glute bridge")
	f.squat = f.newExercise(t, "Wall squat")
	f.plank = f.newExercise(t, "Plank")
	return f
}

func (f *fixture) newExercise(t *testing.T, title string) *model.Exercise {
	t.Helper()
	e := &model.Exercise{Base: model.Base{ID: uuid.New()}, Title: title, Category: "strength"}
	require.NoError(t, f.repos.Exercises.Create(context.Background(), e))
	return e
}

func (f *fixture) prescribe(t *testing.T, visibility int, exercises ...*model.Exercise) *model.TreatmentPlan {
	t.Helper()
	req := model.PrescribeExercisesRequest{PatientID: f.patient.ID, VisibilityDays: &visibility}
	for _, e := range exercises {
		req.Exercises = append(req.Exercises, model.ExercisePrescription{ExerciseID: e.ID, Instructions: "3 x 10"})
	}
	plan, err := f.svc.Prescribe(context.Background(), f.kineCaller, req)
	require.NoError(t, err)
	return plan
}

func intPtr(v int) *int { return &v }

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected an application error, got %v", err)
	assert.Equal(t, code, appErr.Code, appErr.Message)
}

func TestPrescribeOpensPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan := f.prescribe(t, 3, f.bridge, f.squat)
	assert.Equal(t, model.PlanStatusActive, plan.Status)
	assert.Equal(t, f.kine.ID, plan.PractitionerID)
	require.Len(t, plan.Exercises, 2)
	assert.Equal(t, day0, plan.Exercises[0].AssignedAt)
	assert.Equal(t, 3, plan.Exercises[0].VisibilityDays)

	patient, err := f.repos.Patients.Get(ctx, f.patient.ID)
	require.NoError(t, err)
	require.NotNil(t, patient.AssignedPractitionerID)
	assert.Equal(t, f.kine.ID, *patient.AssignedPractitionerID)
}

func TestPrescribeAppendsAndRaisesEstimate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
		PatientID:             f.patient.ID,
		Exercises:             []model.ExercisePrescription{{ExerciseID: f.bridge.ID}},
		EstimatedSessionCount: intPtr(10),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, first.EstimatedSessionCount)
	assert.Equal(t, model.DefaultVisibilityDays, first.Exercises[0].VisibilityDays)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
		PatientID:             f.patient.ID,
		Exercises:             []model.ExercisePrescription{{ExerciseID: f.squat.ID}},
		EstimatedSessionCount: intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 10, second.EstimatedSessionCount, "a smaller estimate never lowers the plan")
	require.Len(t, second.Exercises, 2)
	assert.Equal(t, day0.Add(24*time.Hour), second.Exercises[1].AssignedAt)

	third, err := f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
		PatientID:             f.patient.ID,
		Exercises:             []model.ExercisePrescription{{ExerciseID: f.plank.ID}},
		EstimatedSessionCount: intPtr(12),
	})
	require.NoError(t, err)
	assert.Equal(t, 12, third.EstimatedSessionCount)

	stored, err := f.svc.GetPlan(ctx, f.patientCaller, first.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Exercises, 3)
}

type lockRecorder struct {
	repository.Transactor
	mu     sync.Mutex
	locked []uuid.UUID
}

func (l *lockRecorder) LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	l.mu.Lock()
	l.locked = append(l.locked, practitionerID)
	l.mu.Unlock()
	return l.Transactor.LockPractitioner(ctx, practitionerID)
}

func TestPlanWritesLockPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clk := clock.NewFixed(day0)
	log := logger.Nop()
	m := metrics.NewMetrics("test")

	rec := &lockRecorder{Transactor: f.repos.Transactor}
	repos := *f.repos
	repos.Transactor = rec
	bus := event.NewService(repos.Outbox, clk, log)
	svc := NewService(&repos, catalog.New(repos.Exercises, time.Hour, time.Hour, m),
		care.NewManager(&repos, bus, clk, log), bus, clk, time.UTC, m, log, model.DefaultVisibilityDays)

	plan, err := svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
		PatientID: f.patient.ID,
		Exercises: []model.ExercisePrescription{{ExerciseID: f.bridge.ID}},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.kine.ID}, rec.locked)

	_, err = svc.UpdatePlan(ctx, f.kineCaller, plan.ID, model.UpdatePlanRequest{EstimatedSessionCount: intPtr(8)})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.kine.ID, f.kine.ID}, rec.locked)
}

func TestConcurrentPrescriptionsKeepEveryExercise(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for _, e := range []*model.Exercise{f.bridge, f.squat, f.plank} {
		wg.Add(1)
		go func(e *model.Exercise) {
			defer wg.Done()
			_, err := f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
				PatientID: f.patient.ID,
				Exercises: []model.ExercisePrescription{{ExerciseID: e.ID}},
			})
			errs <- err
		}(e)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	plans, err := f.svc.ListPlansForPatient(ctx, f.kineCaller, f.patient.ID, nil)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Len(t, plans[0].Exercises, 3)
}

func TestPrescribeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	one := []model.ExercisePrescription{{ExerciseID: f.bridge.ID}}

	_, err := f.svc.Prescribe(ctx, f.patientCaller, model.PrescribeExercisesRequest{PatientID: f.patient.ID, Exercises: one})
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{
		PatientID: f.patient.ID, Exercises: []model.ExercisePrescription{{ExerciseID: uuid.New()}},
	})
	assertCode(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Prescribe(ctx, f.kineCaller, model.PrescribeExercisesRequest{PatientID: f.patient.ID})
	assertCode(t, err, apperrors.ErrValidation)

	_, err = f.svc.Prescribe(ctx, admin, model.PrescribeExercisesRequest{PatientID: f.patient.ID, Exercises: one})
	assertCode(t, err, apperrors.ErrValidation)

	f.prescribe(t, 7, f.bridge)
	_, err = f.svc.Prescribe(ctx, admin, model.PrescribeExercisesRequest{
		PatientID: f.patient.ID, PractitionerID: &f.kine2.ID, Exercises: one,
	})
	assertCode(t, err, apperrors.ErrConflict)
}

func TestVisibilityWindowIsInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prescribe(t, 3, f.bridge)

	midnight := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	for offset := 0; offset <= 3; offset++ {
		f.clock.Set(midnight.AddDate(0, 0, offset).Add(23*time.Hour + 59*time.Minute))
		list, err := f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
		require.NoError(t, err)
		require.Len(t, list, 1, "day D+%d", offset)
		assert.Equal(t, f.bridge.ID, list[0].ExerciseID)
		assert.Equal(t, midnight.AddDate(0, 0, 3), list[0].VisibleUntil)
	}

	f.clock.Set(midnight.AddDate(0, 0, 4))
	list, err := f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeletedExercisesAreDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prescribe(t, 7, f.bridge, f.squat)

	list, err := f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, list, 2, "both definitions are now cached")

	f.store.DeleteExercise(f.squat.ID)

	list, err = f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Glute bridge", list[0].Title)
	assert.Equal(t, "3 x 10", list[0].Instructions)
}

func TestRepeatedPrescriptionShowsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.prescribe(t, 2, f.bridge)
	f.clock.Advance(24 * time.Hour)
	f.prescribe(t, 5, f.bridge)

	list, err := f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC), list[0].VisibleUntil)
}

func TestToggleExerciseCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.prescribe(t, 7, f.bridge, f.squat)

	pain := 3
	first, err := f.svc.ToggleExerciseCompletion(ctx, f.patientCaller, f.patient.ID, f.bridge.ID, model.ToggleExerciseRequest{
		Completed:        true,
		ExerciseFeedback: model.ExerciseFeedback{PainLevel: &pain},
	})
	require.NoError(t, err)
	assert.True(t, first.Completed)

	list, err := f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, v := range list {
		assert.Equal(t, v.ExerciseID == f.bridge.ID, v.Completed)
	}

	second, err := f.svc.ToggleExerciseCompletion(ctx, f.patientCaller, f.patient.ID, f.bridge.ID, model.ToggleExerciseRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same row for the same day")
	assert.False(t, second.Completed)
	require.NotNil(t, second.PainLevel)
	assert.Equal(t, 3, *second.PainLevel)

	logs, err := f.repos.ExerciseLogs.ListForDay(ctx, f.patient.ID, clock.DateOf(day0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = f.svc.ToggleExerciseCompletion(ctx, f.patientCaller, f.patient.ID, f.bridge.ID, model.ToggleExerciseRequest{Completed: true})
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	list, err = f.svc.TodaysExercises(ctx, f.patientCaller, f.patient.ID)
	require.NoError(t, err)
	for _, v := range list {
		assert.False(t, v.Completed, "completion does not carry over to the next day")
	}
}

func TestToggleRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tooMuch := 11
	_, err := f.svc.ToggleExerciseCompletion(ctx, f.patientCaller, f.patient.ID, f.bridge.ID, model.ToggleExerciseRequest{
		ExerciseFeedback: model.ExerciseFeedback{PainLevel: &tooMuch},
	})
	assertCode(t, err, apperrors.ErrValidation)

	_, err = f.svc.ToggleExerciseCompletion(ctx, f.kineCaller, f.patient.ID, f.bridge.ID, model.ToggleExerciseRequest{})
	assertCode(t, err, apperrors.ErrForbidden)

	_, err = f.svc.ToggleExerciseCompletion(ctx, f.patientCaller, f.patient.ID, uuid.New(), model.ToggleExerciseRequest{})
	assertCode(t, err, apperrors.ErrNotFound)

	_, err = f.svc.TodaysExercises(ctx, f.kineCaller, f.patient.ID)
	assertCode(t, err, apperrors.ErrForbidden)
}

func TestCompletePlanCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	nextWeek := time.Date(2026, 10, 22, 10, 0, 0, 0, time.UTC)
	apt, err := f.appointments.Book(ctx, f.patientCaller, model.BookAppointmentRequest{
		PractitionerID: &f.kine.ID, StartTime: nextWeek,
	})
	require.NoError(t, err)
	_, err = f.appointments.Confirm(ctx, f.kineCaller, apt.ID)
	require.NoError(t, err)

	plan, err := f.repos.Plans.FindActive(ctx, f.patient.ID, f.kine.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)

	assertCode(t, f.svc.CompletePlan(ctx, f.patientCaller, plan.ID), apperrors.ErrForbidden)
	require.NoError(t, f.svc.CompletePlan(ctx, f.kineCaller, plan.ID))

	stored, err := f.repos.Appointments.Get(ctx, apt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)

	patient, err := f.repos.Patients.Get(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Nil(t, patient.AssignedPractitionerID)

	completed, err := f.svc.GetPlan(ctx, f.kineCaller, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	assertCode(t, f.svc.CompletePlan(ctx, f.kineCaller, plan.ID), apperrors.ErrState)

	// The patient is free to start with another practitioner.
	_, err = f.appointments.Book(ctx, f.patientCaller, model.BookAppointmentRequest{
		PractitionerID: &f.kine2.ID, StartTime: nextWeek,
	})
	assert.NoError(t, err)
}

func TestUpdatePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.prescribe(t, 7, f.bridge)

	objectives := []string{"walk without pain", "climb stairs"}
	updated, err := f.svc.UpdatePlan(ctx, f.kineCaller, plan.ID, model.UpdatePlanRequest{
		Objectives: &objectives, EstimatedSessionCount: intPtr(8),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"walk without pain", "climb stairs"}, []string(updated.Objectives))
	assert.Equal(t, 8, updated.EstimatedSessionCount)
	assert.Len(t, updated.Exercises, 1)

	kine2 := model.Caller{UserID: f.kine2.UserID, Role: model.RolePractitioner}
	_, err = f.svc.UpdatePlan(ctx, kine2, plan.ID, model.UpdatePlanRequest{EstimatedSessionCount: intPtr(2)})
	assertCode(t, err, apperrors.ErrForbidden)

	require.NoError(t, f.svc.CompletePlan(ctx, f.kineCaller, plan.ID))
	_, err = f.svc.UpdatePlan(ctx, f.kineCaller, plan.ID, model.UpdatePlanRequest{EstimatedSessionCount: intPtr(2)})
	assertCode(t, err, apperrors.ErrState)
}

func TestListPlansForPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plan := f.prescribe(t, 7, f.bridge)

	mine, err := f.svc.ListPlansForPatient(ctx, f.patientCaller, f.patient.ID, nil)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, plan.ID, mine[0].ID)

	kine2 := model.Caller{UserID: f.kine2.UserID, Role: model.RolePractitioner}
	theirs, err := f.svc.ListPlansForPatient(ctx, kine2, f.patient.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	completed := model.PlanStatusCompleted
	none, err := f.svc.ListPlansForPatient(ctx, admin, f.patient.ID, &completed)
	require.NoError(t, err)
	assert.Empty(t, none)

	other := model.Caller{UserID: uuid.New(), Role: model.RolePatient}
	_, err = f.svc.ListPlansForPatient(ctx, other, f.patient.ID, nil)
	assertCode(t, err, apperrors.ErrNotFound)
}

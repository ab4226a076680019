package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
)

// ErrStaleState is returned by compare-and-set updates when the row no longer
// holds the expected status.
var ErrStaleState = errors.New("record state changed concurrently")

// All repository interfaces in one file
type (
	// Transactor runs work atomically. Repositories called with the context
	// passed to fn participate in the same transaction.
	Transactor interface {
		WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
		// LockPractitioner serializes booking work for one practitioner until the
		// surrounding transaction ends.
		LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error
	}

	AppointmentRepository interface {
		Create(ctx context.Context, appointment *model.Appointment) error
		Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error)
		HasConflict(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error)
		CountActiveForPatient(ctx context.Context, patientID uuid.UUID, after time.Time) (int, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, paymentConfirmed *bool, at time.Time) (*model.Appointment, error)
		UpdateSlot(ctx context.Context, appointment *model.Appointment) error
		TransitionPast(ctx context.Context, from, to model.AppointmentStatus, before time.Time, practitionerID *uuid.UUID, at time.Time) (int64, error)
		CancelForPair(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) (int64, error)
	}

	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error)
		// AssignPractitioner sets the practitioner only while the patient is
		// unassigned or already assigned to the same practitioner, and returns
		// ErrStaleState otherwise.
		AssignPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) error
		SetAssignedPractitioner(ctx context.Context, patientID uuid.UUID, practitionerID *uuid.UUID, at time.Time) error
	}

	PractitionerRepository interface {
		Create(ctx context.Context, practitioner *model.Practitioner) error
		Get(ctx context.Context, id uuid.UUID) (*model.Practitioner, error)
		GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Practitioner, error)
	}

	TreatmentPlanRepository interface {
		Create(ctx context.Context, plan *model.TreatmentPlan) error
		Get(ctx context.Context, id uuid.UUID) (*model.TreatmentPlan, error)
		// FindActive returns nil without error when the pair has no active plan.
		FindActive(ctx context.Context, patientID, practitionerID uuid.UUID) (*model.TreatmentPlan, error)
		ListByPatient(ctx context.Context, patientID uuid.UUID, status *model.PlanStatus) ([]*model.TreatmentPlan, error)
		Update(ctx context.Context, plan *model.TreatmentPlan) error
		Complete(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	ExerciseRepository interface {
		Create(ctx context.Context, exercise *model.Exercise) error
		Get(ctx context.Context, id uuid.UUID) (*model.Exercise, error)
		List(ctx context.Context) ([]*model.Exercise, error)
		// Existing reports which of ids are still in the catalog.
		Existing(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	}

	ExerciseLogRepository interface {
		Upsert(ctx context.Context, log *model.ExerciseLog) (*model.ExerciseLog, error)
		ListForDay(ctx context.Context, patientID uuid.UUID, day time.Time) ([]*model.ExerciseLog, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxRetries int, at time.Time) error
		CountPending(ctx context.Context) (int, error)
	}
)

// Repositories bundles every store the services need.
type Repositories struct {
	Transactor    Transactor
	Appointments  AppointmentRepository
	Patients      PatientRepository
	Practitioners PractitionerRepository
	Plans         TreatmentPlanRepository
	Exercises     ExerciseRepository
	ExerciseLogs  ExerciseLogRepository
	Outbox        OutboxRepository
}

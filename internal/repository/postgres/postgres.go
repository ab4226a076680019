package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/kine-api/internal/repository"
)

type appointmentRepository struct {
	BaseRepository
}

type patientRepository struct {
	BaseRepository
}

type practitionerRepository struct {
	BaseRepository
}

type treatmentPlanRepository struct {
	BaseRepository
}

type exerciseRepository struct {
	BaseRepository
}

type exerciseLogRepository struct {
	BaseRepository
}

type outboxRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func NewPractitionerRepository(base BaseRepository) repository.PractitionerRepository {
	return &practitionerRepository{base}
}

func NewTreatmentPlanRepository(base BaseRepository) repository.TreatmentPlanRepository {
	return &treatmentPlanRepository{base}
}

func NewExerciseRepository(base BaseRepository) repository.ExerciseRepository {
	return &exerciseRepository{base}
}

func NewExerciseLogRepository(base BaseRepository) repository.ExerciseLogRepository {
	return &exerciseLogRepository{base}
}

func NewOutboxRepository(base BaseRepository) repository.OutboxRepository {
	return &outboxRepository{base}
}

// NewRepositories wires every postgres repository over one pool.
func NewRepositories(db *sqlx.DB) *repository.Repositories {
	base := NewBaseRepository(db)
	return &repository.Repositories{
		Transactor:    &base,
		Appointments:  NewAppointmentRepository(base),
		Patients:      NewPatientRepository(base),
		Practitioners: NewPractitionerRepository(base),
		Plans:         NewTreatmentPlanRepository(base),
		Exercises:     NewExerciseRepository(base),
		ExerciseLogs:  NewExerciseLogRepository(base),
		Outbox:        NewOutboxRepository(base),
	}
}

package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

type patientRepository struct {
	s *Store
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	defer r.s.lock(ctx)()

	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}
	for _, p := range r.s.data.patients {
		if p.ID == patient.ID || p.UserID == patient.UserID {
			return apperrors.Conflict("patient already exists")
		}
	}
	r.s.data.patients[patient.ID] = copyPatient(*patient)
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.patients[id]
	if !ok {
		return nil, apperrors.NotFound("patient", nil)
	}
	p = copyPatient(p)
	return &p, nil
}

func (r *patientRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Patient, error) {
	defer r.s.lock(ctx)()

	for _, p := range r.s.data.patients {
		if p.UserID == userID {
			p = copyPatient(p)
			return &p, nil
		}
	}
	return nil, apperrors.NotFound("patient", nil)
}

func (r *patientRepository) AssignPractitioner(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.patients[patientID]
	if !ok {
		return apperrors.NotFound("patient", nil)
	}
	if p.AssignedPractitionerID != nil && *p.AssignedPractitionerID != practitionerID {
		return repository.ErrStaleState
	}
	id := practitionerID
	p.AssignedPractitionerID = &id
	p.UpdatedAt = at
	r.s.data.patients[patientID] = p
	return nil
}

func (r *patientRepository) SetAssignedPractitioner(ctx context.Context, patientID uuid.UUID, practitionerID *uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.patients[patientID]
	if !ok {
		return apperrors.NotFound("patient", nil)
	}
	if practitionerID != nil {
		id := *practitionerID
		p.AssignedPractitionerID = &id
	} else {
		p.AssignedPractitionerID = nil
	}
	p.UpdatedAt = at
	r.s.data.patients[patientID] = p
	return nil
}

func copyPatient(p model.Patient) model.Patient {
	if p.AssignedPractitionerID != nil {
		id := *p.AssignedPractitionerID
		p.AssignedPractitionerID = &id
	}
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		p.DateOfBirth = &dob
	}
	return p
}

type practitionerRepository struct {
	s *Store
}

func (r *practitionerRepository) Create(ctx context.Context, practitioner *model.Practitioner) error {
	defer r.s.lock(ctx)()

	if practitioner.ID == uuid.Nil {
		practitioner.ID = uuid.New()
	}
	for _, p := range r.s.data.practitioners {
		if p.ID == practitioner.ID || p.UserID == practitioner.UserID {
			return apperrors.Conflict("practitioner already exists")
		}
	}
	r.s.data.practitioners[practitioner.ID] = *practitioner
	return nil
}

func (r *practitionerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Practitioner, error) {
	defer r.s.lock(ctx)()

	p, ok := r.s.data.practitioners[id]
	if !ok {
		return nil, apperrors.NotFound("practitioner", nil)
	}
	return &p, nil
}

func (r *practitionerRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.Practitioner, error) {
	defer r.s.lock(ctx)()

	for _, p := range r.s.data.practitioners {
		if p.UserID == userID {
			return &p, nil
		}
	}
	return nil, apperrors.NotFound("practitioner", nil)
}

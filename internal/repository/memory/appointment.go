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

type appointmentRepository struct {
	s *Store
}

func (r *appointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	defer r.s.lock(ctx)()

	if appointment.ID == uuid.Nil {
		appointment.ID = uuid.New()
	}
	if _, ok := r.s.data.appointments[appointment.ID]; ok {
		return apperrors.Conflict("appointment already exists")
	}
	if appointment.Status != model.AppointmentStatusCancelled {
		for _, existing := range r.s.data.appointments {
			if existing.PractitionerID == appointment.PractitionerID &&
				existing.Status != model.AppointmentStatusCancelled &&
				existing.Overlaps(appointment.StartTime, appointment.EndTime) {
				return apperrors.Conflict("time slot overlaps an existing appointment")
			}
		}
	}
	r.s.data.appointments[appointment.ID] = *appointment
	return nil
}

func (r *appointmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	defer r.s.lock(ctx)()

	a, ok := r.s.data.appointments[id]
	if !ok {
		return nil, apperrors.NotFound("appointment", nil)
	}
	return &a, nil
}

func (r *appointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.data.appointments[id]; !ok {
		return apperrors.NotFound("appointment", nil)
	}
	delete(r.s.data.appointments, id)
	return nil
}

func (r *appointmentRepository) List(ctx context.Context, filter model.AppointmentFilter) ([]*model.Appointment, error) {
	defer r.s.lock(ctx)()

	var out []*model.Appointment
	for _, a := range r.s.data.appointments {
		if filter.PractitionerID != nil && a.PractitionerID != *filter.PractitionerID {
			continue
		}
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.From != nil && a.StartTime.Before(*filter.From) {
			continue
		}
		if len(filter.Statuses) > 0 && !statusIn(a.Status, filter.Statuses) {
			continue
		}
		a := a
		out = append(out, &a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func statusIn(s model.AppointmentStatus, set []model.AppointmentStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func (r *appointmentRepository) HasConflict(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	defer r.s.lock(ctx)()

	for _, a := range r.s.data.appointments {
		if a.PractitionerID != practitionerID || a.Status == model.AppointmentStatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Overlaps(start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (r *appointmentRepository) CountActiveForPatient(ctx context.Context, patientID uuid.UUID, after time.Time) (int, error) {
	defer r.s.lock(ctx)()

	count := 0
	for _, a := range r.s.data.appointments {
		if a.PatientID == patientID && !a.Status.IsTerminal() && a.StartTime.After(after) {
			count++
		}
	}
	return count, nil
}

func (r *appointmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, paymentConfirmed *bool, at time.Time) (*model.Appointment, error) {
	defer r.s.lock(ctx)()

	a, ok := r.s.data.appointments[id]
	if !ok {
		return nil, apperrors.NotFound("appointment", nil)
	}
	if a.Status != from {
		return nil, repository.ErrStaleState
	}
	a.Status = to
	if paymentConfirmed != nil {
		a.PaymentConfirmed = *paymentConfirmed
	}
	a.UpdatedAt = at
	r.s.data.appointments[id] = a
	return &a, nil
}

func (r *appointmentRepository) UpdateSlot(ctx context.Context, appointment *model.Appointment) error {
	defer r.s.lock(ctx)()

	a, ok := r.s.data.appointments[appointment.ID]
	if !ok || a.Status.IsTerminal() {
		return repository.ErrStaleState
	}
	for _, existing := range r.s.data.appointments {
		if existing.ID == a.ID || existing.PractitionerID != a.PractitionerID ||
			existing.Status == model.AppointmentStatusCancelled {
			continue
		}
		if existing.Overlaps(appointment.StartTime, appointment.EndTime) {
			return apperrors.Conflict("time slot overlaps an existing appointment")
		}
	}
	a.StartTime = appointment.StartTime
	a.EndTime = appointment.EndTime
	a.DurationMinutes = appointment.DurationMinutes
	a.UpdatedAt = appointment.UpdatedAt
	r.s.data.appointments[a.ID] = a
	return nil
}

func (r *appointmentRepository) TransitionPast(ctx context.Context, from, to model.AppointmentStatus, before time.Time, practitionerID *uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	for id, a := range r.s.data.appointments {
		if a.Status != from || !a.StartTime.Before(before) {
			continue
		}
		if practitionerID != nil && a.PractitionerID != *practitionerID {
			continue
		}
		a.Status = to
		a.UpdatedAt = at
		r.s.data.appointments[id] = a
		n++
	}
	return n, nil
}

func (r *appointmentRepository) CancelForPair(ctx context.Context, patientID, practitionerID uuid.UUID, at time.Time) (int64, error) {
	defer r.s.lock(ctx)()

	var n int64
	for id, a := range r.s.data.appointments {
		if a.PatientID != patientID || a.PractitionerID != practitionerID || a.Status.IsTerminal() {
			continue
		}
		a.Status = model.AppointmentStatusCancelled
		a.UpdatedAt = at
		r.s.data.appointments[id] = a
		n++
	}
	return n, nil
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/service/care"
	"github.com/jwalitptl/kine-api/internal/service/event"
	"github.com/jwalitptl/kine-api/internal/service/schedule"
	"github.com/jwalitptl/kine-api/internal/service/slot"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

const DefaultDurationMinutes = 30

type Service struct {
	tx            repository.Transactor
	appointments  repository.AppointmentRepository
	patients      repository.PatientRepository
	practitioners repository.PractitionerRepository

	policy  *schedule.Policy
	checker *slot.Checker
	care    *care.Manager
	events  event.Emitter

	clock           clock.Clock
	metrics         *metrics.Metrics
	log             *logger.Logger
	defaultDuration int
}

func NewService(
	repos *repository.Repositories,
	policy *schedule.Policy,
	checker *slot.Checker,
	careMgr *care.Manager,
	events event.Emitter,
	clk clock.Clock,
	m *metrics.Metrics,
	log *logger.Logger,
	defaultDuration int,
) *Service {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDurationMinutes
	}
	return &Service{
		tx:              repos.Transactor,
		appointments:    repos.Appointments,
		patients:        repos.Patients,
		practitioners:   repos.Practitioners,
		policy:          policy,
		checker:         checker,
		care:            careMgr,
		events:          events,
		clock:           clk,
		metrics:         m,
		log:             log,
		defaultDuration: defaultDuration,
	}
}

// Register subscribes the service to plan completion so the pair's open
// bookings are cancelled in the same transaction as the plan change.
func (s *Service) Register(bus event.Subscriber) {
	bus.Subscribe(model.EventPlanCompleted, s.HandlePlanCompleted)
}

// Book creates a pending appointment. The practitioner's schedule is locked
// for the duration of the checks so two requests cannot both claim a slot.
func (s *Service) Book(ctx context.Context, caller model.Caller, req model.BookAppointmentRequest) (*model.Appointment, error) {
	apt, err := s.book(ctx, caller, req)
	s.recordBooking(err)
	return apt, err
}

func (s *Service) book(ctx context.Context, caller model.Caller, req model.BookAppointmentRequest) (*model.Appointment, error) {
	duration := s.defaultDuration
	if req.DurationMinutes != nil {
		duration = *req.DurationMinutes
	}
	if duration <= 0 {
		return nil, apperrors.Validation("duration_minutes must be greater than zero")
	}
	if req.StartTime.IsZero() {
		return nil, apperrors.Validation("start_time is required")
	}

	var apt *model.Appointment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		patient, err := s.bookingPatient(ctx, caller, req.PatientID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if caller.IsPatient() {
			active, err := s.appointments.CountActiveForPatient(ctx, patient.ID, now)
			if err != nil {
				return fmt.Errorf("failed to count active appointments: %w", err)
			}
			if active > 0 {
				return apperrors.Conflict("patient already has an upcoming appointment")
			}
		}

		practitionerID, err := s.bookingPractitioner(ctx, caller, patient, req.PractitionerID)
		if err != nil {
			return err
		}
		if err := s.tx.LockPractitioner(ctx, practitionerID); err != nil {
			return fmt.Errorf("failed to lock practitioner schedule: %w", err)
		}

		end := req.StartTime.Add(time.Duration(duration) * time.Minute)
		if req.StartTime.Before(now) {
			return apperrors.PolicyViolation("appointment cannot be booked in the past")
		}
		if !s.policy.Contains(req.StartTime, end) {
			return apperrors.PolicyViolation("appointment must fit inside the clinic opening hours")
		}

		if _, err := s.care.AssignOrValidate(ctx, patient, practitionerID); err != nil {
			return err
		}
		if err := s.checker.EnsureFree(ctx, practitionerID, req.StartTime, end, nil); err != nil {
			return err
		}

		apt = &model.Appointment{
			Base:           model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
			PatientID:      patient.ID,
			PractitionerID: practitionerID,
			Reason:         req.Reason,
			Status:         model.AppointmentStatusPending,
		}
		apt.SetSlot(req.StartTime, duration)
		if err := s.appointments.Create(ctx, apt); err != nil {
			return fmt.Errorf("failed to create appointment: %w", err)
		}

		return s.events.Emit(ctx, model.AppointmentBooked{
			AppointmentID:   apt.ID,
			PatientID:       apt.PatientID,
			PractitionerID:  apt.PractitionerID,
			StartTime:       apt.StartTime,
			DurationMinutes: apt.DurationMinutes,
			OccurredAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		"appointment_id", apt.ID, "patient_id", apt.PatientID,
		"practitioner_id", apt.PractitionerID, "start_time", apt.StartTime)
	return apt, nil
}

func (s *Service) recordBooking(err error) {
	outcome := "booked"
	if err != nil {
		outcome = apperrors.ErrInternal.String()
		if appErr, ok := apperrors.As(err); ok {
			outcome = appErr.Code.String()
		}
	}
	s.metrics.BookingAttempts.WithLabelValues(outcome).Inc()
}

// bookingPatient resolves whom the booking is for. Patients always book for
// themselves.
func (s *Service) bookingPatient(ctx context.Context, caller model.Caller, requested *uuid.UUID) (*model.Patient, error) {
	if caller.IsPatient() {
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		if requested != nil && *requested != patient.ID {
			return nil, apperrors.Forbidden("patients can only book for themselves")
		}
		return patient, nil
	}

	if requested == nil {
		return nil, apperrors.Validation("patient_id is required")
	}
	return s.patients.Get(ctx, *requested)
}

// bookingPractitioner falls back to the patient's assigned practitioner when
// none is given.
func (s *Service) bookingPractitioner(ctx context.Context, caller model.Caller, patient *model.Patient, requested *uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	switch {
	case requested != nil:
		id = *requested
	case patient.AssignedPractitionerID != nil:
		id = *patient.AssignedPractitionerID
	default:
		return uuid.Nil, apperrors.Validation("practitioner_id is required: patient has no assigned practitioner")
	}

	practitioner, err := s.practitioners.Get(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	if caller.IsPractitioner() && practitioner.UserID != caller.UserID {
		return uuid.Nil, apperrors.Forbidden("practitioners can only book into their own schedule")
	}
	return practitioner.ID, nil
}

func (s *Service) Confirm(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	if !caller.IsStaff() {
		return nil, apperrors.Forbidden("only practitioners can confirm appointments")
	}
	paid := true
	return s.transition(ctx, caller, id, model.AppointmentStatusConfirmed, &paid)
}

func (s *Service) Complete(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	if !caller.IsStaff() {
		return nil, apperrors.Forbidden("only practitioners can complete appointments")
	}
	return s.transition(ctx, caller, id, model.AppointmentStatusCompleted, nil)
}

func (s *Service) Cancel(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	return s.transition(ctx, caller, id, model.AppointmentStatusCancelled, nil)
}

func (s *Service) transition(ctx context.Context, caller model.Caller, id uuid.UUID, to model.AppointmentStatus, paid *bool) (*model.Appointment, error) {
	var updated *model.Appointment
	var from model.AppointmentStatus
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		apt, err := s.appointments.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, caller, apt); err != nil {
			return err
		}
		from = apt.Status
		if !from.CanTransitionTo(to) {
			return apperrors.State("cannot move appointment from %s to %s", from, to)
		}

		now := s.clock.Now()
		updated, err = s.appointments.UpdateStatus(ctx, id, from, to, paid, now)
		if errors.Is(err, repository.ErrStaleState) {
			return apperrors.State("appointment is no longer %s", from)
		}
		if err != nil {
			return fmt.Errorf("failed to update appointment status: %w", err)
		}

		return s.events.Emit(ctx, model.AppointmentStatusChanged{
			AppointmentID:  updated.ID,
			PatientID:      updated.PatientID,
			PractitionerID: updated.PractitionerID,
			From:           from,
			To:             to,
			OccurredAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StatusTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.log.Debug("appointment status changed", "appointment_id", id, "from", from, "to", to)
	return updated, nil
}

// Reschedule moves and/or resizes a non-terminal appointment. A patient may
// only shift a confirmed appointment within the same calendar day.
func (s *Service) Reschedule(ctx context.Context, caller model.Caller, id uuid.UUID, req model.RescheduleAppointmentRequest) (*model.Appointment, error) {
	if req.StartTime == nil && req.DurationMinutes == nil {
		return nil, apperrors.Validation("start_time or duration_minutes is required")
	}
	if req.DurationMinutes != nil && *req.DurationMinutes <= 0 {
		return nil, apperrors.Validation("duration_minutes must be greater than zero")
	}

	var apt *model.Appointment
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		apt, err = s.appointments.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, caller, apt); err != nil {
			return err
		}
		if err := s.tx.LockPractitioner(ctx, apt.PractitionerID); err != nil {
			return fmt.Errorf("failed to lock practitioner schedule: %w", err)
		}
		if apt.Status.IsTerminal() {
			return apperrors.State("cannot reschedule a %s appointment", apt.Status)
		}

		start, duration := apt.StartTime, apt.DurationMinutes
		if req.StartTime != nil {
			start = *req.StartTime
		}
		if req.DurationMinutes != nil {
			duration = *req.DurationMinutes
		}
		end := start.Add(time.Duration(duration) * time.Minute)

		now := s.clock.Now()
		if start.Before(now) {
			return apperrors.PolicyViolation("appointment cannot be moved into the past")
		}
		if caller.IsPatient() && apt.Status == model.AppointmentStatusConfirmed &&
			!clock.SameDay(apt.StartTime, start, s.policy.Location()) {
			return apperrors.PolicyViolation("a confirmed appointment can only be moved within the same day")
		}
		if !s.policy.Contains(start, end) {
			return apperrors.PolicyViolation("appointment must fit inside the clinic opening hours")
		}
		if err := s.checker.EnsureFree(ctx, apt.PractitionerID, start, end, &apt.ID); err != nil {
			return err
		}

		previous := apt.StartTime
		apt.SetSlot(start, duration)
		apt.UpdatedAt = now
		if err := s.appointments.UpdateSlot(ctx, apt); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperrors.State("appointment can no longer be rescheduled")
			}
			return fmt.Errorf("failed to reschedule appointment: %w", err)
		}

		return s.events.Emit(ctx, model.AppointmentRescheduled{
			AppointmentID:   apt.ID,
			PreviousStart:   previous,
			StartTime:       apt.StartTime,
			DurationMinutes: apt.DurationMinutes,
			OccurredAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("appointment rescheduled", "appointment_id", apt.ID, "start_time", apt.StartTime)
	return apt, nil
}

func (s *Service) Get(ctx context.Context, caller model.Caller, id uuid.UUID) (*model.Appointment, error) {
	apt, err := s.appointments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, caller, apt); err != nil {
		return nil, err
	}
	return apt, nil
}

// List returns a practitioner's appointments starting at or after from. With
// upcoming set only future pending and confirmed appointments are returned.
func (s *Service) List(ctx context.Context, caller model.Caller, practitionerID uuid.UUID, from *time.Time, upcoming bool) ([]*model.Appointment, error) {
	if err := s.authorizePractitioner(ctx, caller, practitionerID); err != nil {
		return nil, err
	}

	filter := model.AppointmentFilter{PractitionerID: &practitionerID, From: from}
	if upcoming {
		now := s.clock.Now()
		if filter.From == nil || filter.From.Before(now) {
			filter.From = &now
		}
		filter.Statuses = model.ActiveAppointmentStatuses
	}

	list, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return list, nil
}

// ListForPatient returns a patient's appointments. Practitioners only see the
// ones booked with them.
func (s *Service) ListForPatient(ctx context.Context, caller model.Caller, patientID uuid.UUID) ([]*model.Appointment, error) {
	filter := model.AppointmentFilter{PatientID: &patientID}

	switch caller.Role {
	case model.RoleAdmin:
	case model.RolePatient:
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		if patient.ID != patientID {
			return nil, apperrors.Forbidden("patients can only view their own appointments")
		}
	case model.RolePractitioner:
		practitioner, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, err
		}
		filter.PractitionerID = &practitioner.ID
	default:
		return nil, apperrors.Forbidden("unknown role")
	}

	list, err := s.appointments.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return list, nil
}

// Delete removes an appointment outright. Admin only.
func (s *Service) Delete(ctx context.Context, caller model.Caller, id uuid.UUID) error {
	if !caller.IsAdmin() {
		return apperrors.Forbidden("only admins can delete appointments")
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("appointment deleted", "appointment_id", id)
	return nil
}

// AvailableSlots lists the free slots of the given length on the clinic-local
// date of day. A closed day yields no slots.
func (s *Service) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, day time.Time, durationMinutes int) ([]model.TimeSlot, error) {
	if durationMinutes <= 0 {
		durationMinutes = s.defaultDuration
	}
	if _, err := s.practitioners.Get(ctx, practitionerID); err != nil {
		return nil, err
	}

	opens, closes, ok := s.policy.OpeningBounds(day)
	if !ok {
		return []model.TimeSlot{}, nil
	}
	return s.checker.FreeSlots(ctx, practitionerID, opens, closes,
		time.Duration(durationMinutes)*time.Minute, s.clock.Now())
}

// HandlePlanCompleted cancels every open booking of the plan's pair.
func (s *Service) HandlePlanCompleted(ctx context.Context, e model.DomainEvent) error {
	completed, ok := e.(model.PlanCompleted)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}

	n, err := s.appointments.CancelForPair(ctx, completed.PatientID, completed.PractitionerID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel appointments: %w", err)
	}
	if n > 0 {
		s.log.Info("appointments cancelled after plan completion",
			"plan_id", completed.PlanID, "cancelled", n)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, caller model.Caller, apt *model.Appointment) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RolePatient:
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if patient.ID != apt.PatientID {
			return apperrors.Forbidden("appointment belongs to another patient")
		}
		return nil
	case model.RolePractitioner:
		return s.authorizePractitioner(ctx, caller, apt.PractitionerID)
	default:
		return apperrors.Forbidden("unknown role")
	}
}

func (s *Service) authorizePractitioner(ctx context.Context, caller model.Caller, practitionerID uuid.UUID) error {
	switch caller.Role {
	case model.RoleAdmin:
		return nil
	case model.RolePractitioner:
		practitioner, err := s.practitioners.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if practitioner.ID != practitionerID {
			return apperrors.Forbidden("appointment belongs to another practitioner")
		}
		return nil
	default:
		return apperrors.Forbidden("not allowed to view a practitioner schedule")
	}
}

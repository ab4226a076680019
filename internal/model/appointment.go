package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusPending   AppointmentStatus = "pending"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// ActiveAppointmentStatuses are the non-terminal statuses.
var ActiveAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusPending,
	AppointmentStatusConfirmed,
}

func (s AppointmentStatus) IsTerminal() bool {
	return s == AppointmentStatusCompleted || s == AppointmentStatusCancelled
}

// CanTransitionTo encodes pending -> confirmed -> completed, with cancellation
// allowed from either non-terminal state.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case AppointmentStatusPending:
		return next == AppointmentStatusConfirmed || next == AppointmentStatusCancelled
	case AppointmentStatusConfirmed:
		return next == AppointmentStatusCompleted || next == AppointmentStatusCancelled
	default:
		return false
	}
}

type Appointment struct {
	Base
	PatientID        uuid.UUID         `db:"patient_id" json:"patient_id"`
	PractitionerID   uuid.UUID         `db:"practitioner_id" json:"practitioner_id"`
	StartTime        time.Time         `db:"start_time" json:"start_time"`
	EndTime          time.Time         `db:"end_time" json:"end_time"`
	DurationMinutes  int               `db:"duration_minutes" json:"duration_minutes"`
	Reason           *Reason           `db:"reason" json:"reason,omitempty"`
	Status           AppointmentStatus `db:"status" json:"status"`
	PaymentConfirmed bool              `db:"payment_confirmed" json:"payment_confirmed"`
}

// SetSlot sets start, duration and the derived end time.
func (a *Appointment) SetSlot(start time.Time, durationMinutes int) {
	a.StartTime = start
	a.DurationMinutes = durationMinutes
	a.EndTime = start.Add(time.Duration(durationMinutes) * time.Minute)
}

// Overlaps applies half-open interval overlap against [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && a.EndTime.After(start)
}

type BookAppointmentRequest struct {
	PatientID       *uuid.UUID `json:"patient_id"`
	PractitionerID  *uuid.UUID `json:"practitioner_id"`
	StartTime       time.Time  `json:"start_time" validate:"required"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,gt=0,max=480"`
	Reason          *Reason    `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	StartTime       *time.Time `json:"start_time"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,gt=0,max=480"`
}

type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type AppointmentFilter struct {
	PractitionerID *uuid.UUID
	PatientID      *uuid.UUID
	From           *time.Time
	Statuses       []AppointmentStatus
	Limit          int
}

// SweepResult reports how many appointments the maintenance sweep moved.
type SweepResult struct {
	ExpiredCount   int64 `json:"expired_count"`
	CompletedCount int64 `json:"completed_count"`
}

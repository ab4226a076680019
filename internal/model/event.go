package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked        = "appointment.booked"
	EventAppointmentStatusChanged = "appointment.status_changed"
	EventAppointmentRescheduled   = "appointment.rescheduled"
	EventPlanCreated              = "plan.created"
	EventExercisesPrescribed      = "plan.exercises_prescribed"
	EventPlanCompleted            = "plan.completed"
)

// DomainEvent is anything the event dispatcher can route and persist.
type DomainEvent interface {
	EventType() string
}

type AppointmentBooked struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PractitionerID  uuid.UUID `json:"practitioner_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (AppointmentBooked) EventType() string { return EventAppointmentBooked }

type AppointmentStatusChanged struct {
	AppointmentID  uuid.UUID         `json:"appointment_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	From           AppointmentStatus `json:"from"`
	To             AppointmentStatus `json:"to"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

func (AppointmentStatusChanged) EventType() string { return EventAppointmentStatusChanged }

type AppointmentRescheduled struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PreviousStart   time.Time `json:"previous_start"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (AppointmentRescheduled) EventType() string { return EventAppointmentRescheduled }

type PlanCreated struct {
	PlanID         uuid.UUID `json:"plan_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (PlanCreated) EventType() string { return EventPlanCreated }

type ExercisesPrescribed struct {
	PlanID         uuid.UUID   `json:"plan_id"`
	PatientID      uuid.UUID   `json:"patient_id"`
	ExerciseIDs    []uuid.UUID `json:"exercise_ids"`
	VisibilityDays int         `json:"visibility_days"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func (ExercisesPrescribed) EventType() string { return EventExercisesPrescribed }

type PlanCompleted struct {
	PlanID         uuid.UUID `json:"plan_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (PlanCompleted) EventType() string { return EventPlanCompleted }

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

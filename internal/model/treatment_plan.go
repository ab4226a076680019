package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusCompleted PlanStatus = "completed"
)

// DefaultVisibilityDays applies when a prescription does not say how long
// exercises stay on the patient's daily list.
const DefaultVisibilityDays = 7

type TreatmentPlan struct {
	Base
	PatientID             uuid.UUID           `db:"patient_id" json:"patient_id"`
	PractitionerID        uuid.UUID           `db:"practitioner_id" json:"practitioner_id"`
	Status                PlanStatus          `db:"status" json:"status"`
	EstimatedSessionCount int                 `db:"estimated_session_count" json:"estimated_session_count"`
	Objectives            pq.StringArray      `db:"objectives" json:"objectives"`
	Exercises             PrescribedExercises `db:"prescribed_exercises" json:"prescribed_exercises"`
	CompletedAt           *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
}

func (p *TreatmentPlan) IsActive() bool {
	return p.Status == PlanStatusActive
}

type PrescribedExercise struct {
	ExerciseID     uuid.UUID `json:"exercise_id"`
	Instructions   string    `json:"instructions,omitempty"`
	AssignedAt     time.Time `json:"assigned_at"`
	VisibilityDays int       `json:"visibility_days"`
}

// PrescribedExercises is persisted as a JSONB array.
type PrescribedExercises []PrescribedExercise

func (p PrescribedExercises) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p)
}

func (p *PrescribedExercises) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = PrescribedExercises{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into PrescribedExercises", src)
	}
	return json.Unmarshal(data, p)
}

type PrescribeExercisesRequest struct {
	PatientID             uuid.UUID              `json:"patient_id" validate:"required"`
	PractitionerID        *uuid.UUID             `json:"practitioner_id"`
	Exercises             []ExercisePrescription `json:"exercises" validate:"required,min=1,dive"`
	VisibilityDays        *int                   `json:"visibility_days" validate:"omitempty,gt=0,max=365"`
	EstimatedSessionCount *int                   `json:"estimated_session_count" validate:"omitempty,min=0"`
}

type ExercisePrescription struct {
	ExerciseID   uuid.UUID `json:"exercise_id" validate:"required"`
	Instructions string    `json:"instructions" validate:"max=2000"`
}

type UpdatePlanRequest struct {
	Objectives            *[]string `json:"objectives" validate:"omitempty,dive,required,max=500"`
	EstimatedSessionCount *int      `json:"estimated_session_count" validate:"omitempty,min=0"`
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// Exercise is an entry of the exercise catalog.
type Exercise struct {
	Base
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Category    string `db:"category" json:"category"`
}

// ExerciseLog records whether a patient did an exercise on a given day.
// There is at most one row per (patient, exercise, day).
type ExerciseLog struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	ExerciseID uuid.UUID `db:"exercise_id" json:"exercise_id"`
	Day        time.Time `db:"day" json:"day"`
	Completed  bool      `db:"completed" json:"completed"`
	PainLevel  *int      `db:"pain_level" json:"pain_level,omitempty"`
	Difficulty *int      `db:"difficulty" json:"difficulty,omitempty"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type ExerciseFeedback struct {
	PainLevel  *int    `json:"pain_level" validate:"omitempty,min=0,max=10"`
	Difficulty *int    `json:"difficulty" validate:"omitempty,min=1,max=5"`
	Comment    *string `json:"comment" validate:"omitempty,max=1000"`
}

type ToggleExerciseRequest struct {
	Completed bool `json:"completed"`
	ExerciseFeedback
}

// VisibleExercise is one line of the patient's daily exercise list.
type VisibleExercise struct {
	PlanID       uuid.UUID `json:"plan_id"`
	ExerciseID   uuid.UUID `json:"exercise_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Instructions string    `json:"instructions,omitempty"`
	AssignedAt   time.Time `json:"assigned_at"`
	VisibleUntil time.Time `json:"visible_until"`
	Completed    bool      `json:"completed"`
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/kine-api/internal/model"
)

const exerciseColumns = `id, title, description, category, created_at, updated_at`

func (r *exerciseRepository) Create(ctx context.Context, exercise *model.Exercise) error {
	query := `
		INSERT INTO exercises (id, title, description, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if exercise.ID == uuid.Nil {
		exercise.ID = uuid.New()
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		exercise.ID,
		exercise.Title,
		exercise.Description,
		exercise.Category,
		exercise.CreatedAt,
		exercise.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create exercise: %w", translate(err, "exercise"))
	}
	return nil
}

func (r *exerciseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Exercise, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises WHERE id = $1`

	var exercise model.Exercise
	if err := sqlx.GetContext(ctx, r.conn(ctx), &exercise, query, id); err != nil {
		return nil, fmt.Errorf("failed to get exercise: %w", translate(err, "exercise"))
	}
	return &exercise, nil
}

func (r *exerciseRepository) List(ctx context.Context) ([]*model.Exercise, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises ORDER BY category, title`

	var exercises []*model.Exercise
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &exercises, query); err != nil {
		return nil, fmt.Errorf("failed to list exercises: %w", err)
	}
	return exercises, nil
}

func (r *exerciseRepository) Existing(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make(pq.StringArray, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	var found []uuid.UUID
	query := `SELECT id FROM exercises WHERE id = ANY($1::uuid[])`
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &found, query, keys); err != nil {
		return nil, fmt.Errorf("failed to check exercises: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

const exerciseLogColumns = `id, patient_id, exercise_id, day, completed, pain_level, difficulty,
	comment, created_at, updated_at`

// Upsert writes the single (patient, exercise, day) row.
func (r *exerciseLogRepository) Upsert(ctx context.Context, log *model.ExerciseLog) (*model.ExerciseLog, error) {
	query := `
		INSERT INTO exercise_logs (
			id, patient_id, exercise_id, day, completed, pain_level, difficulty,
			comment, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (patient_id, exercise_id, day) DO UPDATE SET
			completed = EXCLUDED.completed,
			pain_level = COALESCE(EXCLUDED.pain_level, exercise_logs.pain_level),
			difficulty = COALESCE(EXCLUDED.difficulty, exercise_logs.difficulty),
			comment = COALESCE(EXCLUDED.comment, exercise_logs.comment),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + exerciseLogColumns

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	var saved model.ExerciseLog
	err := sqlx.GetContext(ctx, r.conn(ctx), &saved, query,
		log.ID,
		log.PatientID,
		log.ExerciseID,
		log.Day,
		log.Completed,
		log.PainLevel,
		log.Difficulty,
		log.Comment,
		log.CreatedAt,
		log.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert exercise log: %w", translate(err, "exercise log"))
	}
	return &saved, nil
}

func (r *exerciseLogRepository) ListForDay(ctx context.Context, patientID uuid.UUID, day time.Time) ([]*model.ExerciseLog, error) {
	query := `SELECT ` + exerciseLogColumns + ` FROM exercise_logs WHERE patient_id = $1 AND day = $2`

	var logs []*model.ExerciseLog
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &logs, query, patientID, day); err != nil {
		return nil, fmt.Errorf("failed to list exercise logs: %w", err)
	}
	return logs, nil
}

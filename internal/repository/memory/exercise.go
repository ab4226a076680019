package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

type exerciseRepository struct {
	s *Store
}

func (r *exerciseRepository) Create(ctx context.Context, exercise *model.Exercise) error {
	defer r.s.lock(ctx)()

	if exercise.ID == uuid.Nil {
		exercise.ID = uuid.New()
	}
	if _, ok := r.s.data.exercises[exercise.ID]; ok {
		return apperrors.Conflict("exercise already exists")
	}
	r.s.data.exercises[exercise.ID] = *exercise
	return nil
}

func (r *exerciseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Exercise, error) {
	defer r.s.lock(ctx)()

	e, ok := r.s.data.exercises[id]
	if !ok {
		return nil, apperrors.NotFound("exercise", nil)
	}
	return &e, nil
}

func (r *exerciseRepository) List(ctx context.Context) ([]*model.Exercise, error) {
	defer r.s.lock(ctx)()

	out := make([]*model.Exercise, 0, len(r.s.data.exercises))
	for _, e := range r.s.data.exercises {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (r *exerciseRepository) Existing(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	defer r.s.lock(ctx)()

	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if _, ok := r.s.data.exercises[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

type exerciseLogRepository struct {
	s *Store
}

func dayKey(day time.Time) string {
	return day.Format(time.DateOnly)
}

func (r *exerciseLogRepository) Upsert(ctx context.Context, log *model.ExerciseLog) (*model.ExerciseLog, error) {
	defer r.s.lock(ctx)()

	key := logKey{patientID: log.PatientID, exerciseID: log.ExerciseID, day: dayKey(log.Day)}
	saved, ok := r.s.data.logs[key]
	if !ok {
		saved = *log
		if saved.ID == uuid.Nil {
			saved.ID = uuid.New()
		}
	} else {
		saved.Completed = log.Completed
		if log.PainLevel != nil {
			saved.PainLevel = log.PainLevel
		}
		if log.Difficulty != nil {
			saved.Difficulty = log.Difficulty
		}
		if log.Comment != nil {
			saved.Comment = log.Comment
		}
		saved.UpdatedAt = log.UpdatedAt
	}
	r.s.data.logs[key] = saved
	return &saved, nil
}

func (r *exerciseLogRepository) ListForDay(ctx context.Context, patientID uuid.UUID, day time.Time) ([]*model.ExerciseLog, error) {
	defer r.s.lock(ctx)()

	want := dayKey(day)
	var out []*model.ExerciseLog
	for key, l := range r.s.data.logs {
		if key.patientID == patientID && key.day == want {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil || event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	defer r.s.lock(ctx)()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}
	stored := *event
	stored.Payload = append([]byte(nil), event.Payload...)
	r.s.data.outbox[event.ID] = stored
	return nil
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	defer r.s.lock(ctx)()

	var out []*model.OutboxEvent
	for _, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusPending {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.s.lock(ctx)()

	e, ok := r.s.data.outbox[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	processedAt := at
	e.Status = model.OutboxStatusProcessed
	e.ProcessedAt = &processedAt
	e.ErrorMessage = nil
	e.UpdatedAt = at
	r.s.data.outbox[id] = e
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxRetries int, at time.Time) error {
	defer r.s.lock(ctx)()

	e, ok := r.s.data.outbox[id]
	if !ok {
		return apperrors.NotFound("outbox event", nil)
	}
	msg := reason
	e.RetryCount++
	e.ErrorMessage = &msg
	if e.RetryCount >= maxRetries {
		e.Status = model.OutboxStatusFailed
	}
	e.UpdatedAt = at
	r.s.data.outbox[id] = e
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	defer r.s.lock(ctx)()

	n := 0
	for _, e := range r.s.data.outbox {
		if e.Status == model.OutboxStatusPending {
			n++
		}
	}
	return n, nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/kine-api/internal/model"
)

const outboxColumns = `id, event_type, payload, status, error_message, retry_count,
	created_at, updated_at, processed_at`

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}

	_, err := r.conn(ctx).ExecContext(ctx, query,
		event.ID,
		event.EventType,
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// GetPendingEvents claims nothing; concurrent processors may publish an event
// twice, consumers must tolerate at-least-once delivery.
func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM outbox_events
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1
	`
	var events []*model.OutboxEvent
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = 'PROCESSED', processed_at = $2, updated_at = $2, error_message = NULL
		WHERE id = $1
	`
	if _, err := r.conn(ctx).ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// MarkFailed records the failure and gives up on the event once maxRetries is reached.
func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, maxRetries int, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
			error_message = $2,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE 'PENDING' END,
			updated_at = $4
		WHERE id = $1
	`
	if _, err := r.conn(ctx).ExecContext(ctx, query, id, reason, maxRetries, at); err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.conn(ctx), &count, `SELECT COUNT(*) FROM outbox_events WHERE status = 'PENDING'`); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/logger"
)

// Service records every emitted event in the outbox and hands it to the
// in-process subscribers. Both happen on the caller's context, so when the
// caller runs inside a transaction a failing subscriber rolls back the
// outbox row together with the change that produced the event.
type Service struct {
	outboxRepo repository.OutboxRepository
	clock      clock.Clock
	log        *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewService(outboxRepo repository.OutboxRepository, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{
		outboxRepo: outboxRepo,
		clock:      clk,
		log:        log,
		handlers:   make(map[string][]Handler),
	}
}

// Subscribe registers h for eventType. Handlers run in registration order.
func (s *Service) Subscribe(eventType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[eventType] = append(s.handlers[eventType], h)
}

func (s *Service) Emit(ctx context.Context, e model.DomainEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := s.clock.Now()
	row := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: e.EventType(),
		Payload:   payload,
		Status:    model.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.outboxRepo.Create(ctx, row); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.mu.RLock()
	handlers := append([]Handler(nil), s.handlers[e.EventType()]...)
	s.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			return fmt.Errorf("handler for %s failed: %w", e.EventType(), err)
		}
	}

	s.log.Debug("event emitted", "event_type", e.EventType(), "event_id", row.ID, "subscribers", len(handlers))
	return nil
}

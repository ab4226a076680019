package event

import (
	"context"

	"github.com/jwalitptl/kine-api/internal/model"
)

// Emitter is what the domain services depend on to publish events.
type Emitter interface {
	Emit(ctx context.Context, event model.DomainEvent) error
}

// Handler consumes a domain event inside the emitting transaction.
type Handler func(ctx context.Context, event model.DomainEvent) error

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, event model.DomainEvent) error

func (f EmitterFunc) Emit(ctx context.Context, event model.DomainEvent) error {
	return f(ctx, event)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, model.DomainEvent) error { return nil })

// Subscriber registers in-process handlers.
type Subscriber interface {
	Subscribe(eventType string, h Handler)
}

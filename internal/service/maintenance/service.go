// Package maintenance decays appointment statuses once their start time has
// passed.
package maintenance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

type Service struct {
	appointments repository.AppointmentRepository
	clock        clock.Clock
	metrics      *metrics.Metrics
	log          *logger.Logger
}

func NewService(appointments repository.AppointmentRepository, clk clock.Clock, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		appointments: appointments,
		clock:        clk,
		metrics:      m,
		log:          log,
	}
}

// Run cancels pending and completes confirmed appointments that started
// before now, for one practitioner or for everyone when practitionerID is
// nil. Each step is a single guarded update, so concurrent or repeated runs
// converge on the same state.
func (s *Service) Run(ctx context.Context, practitionerID *uuid.UUID) (*model.SweepResult, error) {
	now := s.clock.Now()

	expired, err := s.appointments.TransitionPast(ctx,
		model.AppointmentStatusPending, model.AppointmentStatusCancelled, now, practitionerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire pending appointments: %w", err)
	}

	completed, err := s.appointments.TransitionPast(ctx,
		model.AppointmentStatusConfirmed, model.AppointmentStatusCompleted, now, practitionerID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to complete past appointments: %w", err)
	}

	s.metrics.SweepRuns.Inc()
	s.metrics.SweepTransitions.WithLabelValues("expired").Add(float64(expired))
	s.metrics.SweepTransitions.WithLabelValues("completed").Add(float64(completed))

	fields := []interface{}{"expired", expired, "completed", completed}
	if practitionerID != nil {
		fields = append(fields, "practitioner_id", *practitionerID)
	}
	s.log.Info("maintenance sweep finished", fields...)

	return &model.SweepResult{ExpiredCount: expired, CompletedCount: completed}, nil
}

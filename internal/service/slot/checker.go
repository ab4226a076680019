package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

// Checker detects overlaps between a proposed slot and a practitioner's
// non-cancelled appointments.
type Checker struct {
	repo repository.AppointmentRepository
}

func NewChecker(repo repository.AppointmentRepository) *Checker {
	return &Checker{repo: repo}
}

func (c *Checker) HasConflict(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	conflict, err := c.repo.HasConflict(ctx, practitionerID, start, end, excludeID)
	if err != nil {
		return false, fmt.Errorf("failed to check conflicts: %w", err)
	}
	return conflict, nil
}

// EnsureFree returns a ConflictError when the slot is taken.
func (c *Checker) EnsureFree(ctx context.Context, practitionerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) error {
	conflict, err := c.HasConflict(ctx, practitionerID, start, end, excludeID)
	if err != nil {
		return err
	}
	if conflict {
		return apperrors.Conflict("practitioner already has an appointment between %s and %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

// FreeSlots splits [opens, closes) into consecutive slots of the given length
// and keeps those that start at or after notBefore and overlap nothing.
func (c *Checker) FreeSlots(ctx context.Context, practitionerID uuid.UUID, opens, closes time.Time, length time.Duration, notBefore time.Time) ([]model.TimeSlot, error) {
	appointments, err := c.repo.List(ctx, model.AppointmentFilter{
		PractitionerID: &practitionerID,
		Statuses:       model.ActiveAppointmentStatuses,
		// An appointment starting before opening cannot reach into the window
		// because every booking is contained in a single window.
		From: &opens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list practitioner appointments: %w", err)
	}

	var slots []model.TimeSlot
	for _, s := range generateTimeSlots(opens, closes, length) {
		if s.Start.Before(notBefore) {
			continue
		}
		slots = append(slots, s)
	}
	return filterAvailableSlots(slots, appointments), nil
}

func generateTimeSlots(start, end time.Time, length time.Duration) []model.TimeSlot {
	if length <= 0 {
		return nil
	}
	var slots []model.TimeSlot
	for t := start; !t.Add(length).After(end); t = t.Add(length) {
		slots = append(slots, model.TimeSlot{
			Start: t,
			End:   t.Add(length),
		})
	}
	return slots
}

func filterAvailableSlots(slots []model.TimeSlot, appointments []*model.Appointment) []model.TimeSlot {
	available := make([]model.TimeSlot, 0, len(slots))
	for _, s := range slots {
		conflict := false
		for _, apt := range appointments {
			if apt.Overlaps(s.Start, s.End) {
				conflict = true
				break
			}
		}
		if !conflict {
			available = append(available, s)
		}
	}
	return available
}

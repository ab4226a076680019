package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/logger"
)

type Sweeper interface {
	Run(ctx context.Context, practitionerID *uuid.UUID) (*model.SweepResult, error)
}

// SweepScheduler runs the maintenance sweep on a fixed interval. The first
// run happens as soon as the scheduler starts.
type SweepScheduler struct {
	scheduler *gocron.Scheduler
	sweeper   Sweeper
	interval  time.Duration
	logger    *logger.Logger
}

func NewSweepScheduler(sweeper Sweeper, interval time.Duration, loc *time.Location, log *logger.Logger) *SweepScheduler {
	if loc == nil {
		loc = time.UTC
	}
	s := gocron.NewScheduler(loc)
	// A slow sweep must not overlap the next tick.
	s.SingletonModeAll()

	return &SweepScheduler{
		scheduler: s,
		sweeper:   sweeper,
		interval:  interval,
		logger:    log,
	}
}

func (w *SweepScheduler) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}

	_, err := w.scheduler.Every(w.interval).Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.sweeper.Run(ctx, nil); err != nil {
			w.logger.Error(err, "maintenance sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	w.scheduler.StartAsync()
	w.logger.Info("sweep scheduler started", "interval", w.interval.String())
	return nil
}

func (w *SweepScheduler) Stop() {
	w.scheduler.Stop()
	w.logger.Info("sweep scheduler stopped")
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/logger"
)

type sweeperFunc func(ctx context.Context, practitionerID *uuid.UUID) (*model.SweepResult, error)

func (f sweeperFunc) Run(ctx context.Context, practitionerID *uuid.UUID) (*model.SweepResult, error) {
	return f(ctx, practitionerID)
}

func TestSweepSchedulerRunsImmediately(t *testing.T) {
	ran := make(chan *uuid.UUID, 1)
	sweeper := sweeperFunc(func(_ context.Context, id *uuid.UUID) (*model.SweepResult, error) {
		select {
		case ran <- id:
		default:
		}
		return &model.SweepResult{}, nil
	})

	s := NewSweepScheduler(sweeper, time.Hour, time.UTC, logger.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case id := <-ran:
		assert.Nil(t, id, "the scheduled sweep is global")
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
}

func TestSweepSchedulerRejectsZeroInterval(t *testing.T) {
	s := NewSweepScheduler(sweeperFunc(nil), 0, time.UTC, logger.Nop())
	assert.Error(t, s.Start(context.Background()))
}

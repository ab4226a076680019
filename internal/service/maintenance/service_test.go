package maintenance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/internal/repository"
	"github.com/jwalitptl/kine-api/internal/repository/memory"
	"github.com/jwalitptl/kine-api/pkg/clock"
	"github.com/jwalitptl/kine-api/pkg/logger"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

var now = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, repos *repository.Repositories, practitionerID uuid.UUID, start time.Time, status model.AppointmentStatus) uuid.UUID {
	t.Helper()
	a := &model.Appointment{PatientID: uuid.New(), PractitionerID: practitionerID, Status: status}
	a.SetSlot(start, 30)
	require.NoError(t, repos.Appointments.Create(context.Background(), a))
	return a.ID
}

func statusOf(t *testing.T, repos *repository.Repositories, id uuid.UUID) model.AppointmentStatus {
	t.Helper()
	a, err := repos.Appointments.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

func TestSweepDecaysPastAppointments(t *testing.T) {
	repos := memory.NewStore().Repositories()
	m := metrics.NewMetrics("test")
	svc := NewService(repos.Appointments, clock.NewFixed(now), m, logger.Nop())
	kine := uuid.New()
	yesterday := now.AddDate(0, 0, -1)

	stalePending := seed(t, repos, kine, yesterday, model.AppointmentStatusPending)
	pastConfirmed := seed(t, repos, kine, yesterday.Add(time.Hour), model.AppointmentStatusConfirmed)
	futurePending := seed(t, repos, kine, now.Add(time.Hour), model.AppointmentStatusPending)
	futureConfirmed := seed(t, repos, kine, now.Add(2*time.Hour), model.AppointmentStatusConfirmed)
	cancelled := seed(t, repos, kine, yesterday.Add(2*time.Hour), model.AppointmentStatusCancelled)

	result, err := svc.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &model.SweepResult{ExpiredCount: 1, CompletedCount: 1}, result)

	assert.Equal(t, model.AppointmentStatusCancelled, statusOf(t, repos, stalePending))
	assert.Equal(t, model.AppointmentStatusCompleted, statusOf(t, repos, pastConfirmed))
	assert.Equal(t, model.AppointmentStatusPending, statusOf(t, repos, futurePending))
	assert.Equal(t, model.AppointmentStatusConfirmed, statusOf(t, repos, futureConfirmed))
	assert.Equal(t, model.AppointmentStatusCancelled, statusOf(t, repos, cancelled))

	again, err := svc.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &model.SweepResult{}, again, "a second run changes nothing")
	assert.Equal(t, model.AppointmentStatusCompleted, statusOf(t, repos, pastConfirmed))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepTransitions.WithLabelValues("expired")))
}

func TestSweepScopedToPractitioner(t *testing.T) {
	repos := memory.NewStore().Repositories()
	svc := NewService(repos.Appointments, clock.NewFixed(now), metrics.NewMetrics("test"), logger.Nop())
	kine, other := uuid.New(), uuid.New()
	yesterday := now.AddDate(0, 0, -1)

	mine := seed(t, repos, kine, yesterday, model.AppointmentStatusPending)
	theirs := seed(t, repos, other, yesterday, model.AppointmentStatusPending)

	result, err := svc.Run(context.Background(), &kine)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ExpiredCount)
	assert.Equal(t, model.AppointmentStatusCancelled, statusOf(t, repos, mine))
	assert.Equal(t, model.AppointmentStatusPending, statusOf(t, repos, theirs))
}

func TestConcurrentSweepsTransitionEachAppointmentOnce(t *testing.T) {
	repos := memory.NewStore().Repositories()
	svc := NewService(repos.Appointments, clock.NewFixed(now), metrics.NewMetrics("test"), logger.Nop())
	kine := uuid.New()
	for i := 0; i < 10; i++ {
		seed(t, repos, kine, now.Add(-time.Duration(i+1)*time.Hour), model.AppointmentStatusConfirmed)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Run(context.Background(), nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			total += result.CompletedCount
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), total)
}

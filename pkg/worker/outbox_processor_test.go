package worker

import (
	"context"
	"errors"
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
	"github.com/jwalitptl/kine-api/pkg/messaging"
	"github.com/jwalitptl/kine-api/pkg/metrics"
)

type failingBroker struct {
	messaging.Broker
	calls int
}

func (b *failingBroker) Publish(context.Context, string, []byte) error {
	b.calls++
	return errors.New("redis unavailable")
}

var testConfig = OutboxProcessorConfig{
	Channel:       "kine.events",
	BatchSize:     10,
	PollInterval:  time.Second,
	RetryAttempts: 2,
	RetryDelay:    time.Millisecond,
	MaxRetries:    2,
}

func addEvent(t *testing.T, repo repository.OutboxRepository, eventType string) uuid.UUID {
	t.Helper()
	e := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   []byte(`{"ok":true}`),
		Status:    model.OutboxStatusPending,
		CreatedAt: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Create(context.Background(), e))
	return e.ID
}

func TestProcessBatchPublishesPendingEvents(t *testing.T) {
	repos := memory.NewStore().Repositories()
	broker := messaging.NewMemoryBroker(10)
	m := metrics.NewMetrics("test")
	p := NewOutboxProcessor(repos.Outbox, broker, testConfig, clock.Real(), logger.Nop(), m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := broker.Subscribe(ctx, testConfig.Channel)
	require.NoError(t, err)

	id := addEvent(t, repos.Outbox, model.EventPlanCompleted)

	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, err := messaging.Decode(<-sub)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, model.EventPlanCompleted, msg.Type)
	assert.JSONEq(t, `{"ok":true}`, string(msg.Payload))

	pending, err := repos.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxEventsProcessed))

	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "processed events are not sent twice")
}

func TestProcessBatchParksEventAfterMaxRetries(t *testing.T) {
	repos := memory.NewStore().Repositories()
	broker := &failingBroker{}
	m := metrics.NewMetrics("test")
	p := NewOutboxProcessor(repos.Outbox, broker, testConfig, clock.Real(), logger.Nop(), m)
	ctx := context.Background()

	addEvent(t, repos.Outbox, model.EventAppointmentBooked)

	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, testConfig.RetryAttempts, broker.calls)

	pending, err := repos.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "still pending after the first failed batch")

	_, err = p.ProcessBatch(ctx)
	require.NoError(t, err)

	pending, err = repos.Outbox.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxEventsFailed))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxQueueSize))
}

func TestNewOutboxProcessorValidatesConfig(t *testing.T) {
	cfg := testConfig
	cfg.BatchSize = 0
	assert.Panics(t, func() {
		NewOutboxProcessor(nil, nil, cfg, clock.Real(), logger.Nop(), metrics.NewMetrics("test"))
	})
}

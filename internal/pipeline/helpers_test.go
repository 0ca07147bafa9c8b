package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store/memory"
)

type fixture struct {
	queue  *queue.Manager
	db     *memory.Store
	clock  *clockwork.FakeClock
	logger *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC))
	return &fixture{
		queue:  queue.NewManager(queue.NewMemoryStore(), logger, queue.WithClock(clock)),
		db:     memory.New(),
		clock:  clock,
		logger: logger,
	}
}

// claim enqueues payload and dequeues it so handlers see a live active job.
func (f *fixture) claim(t *testing.T, queueName string, payload queue.Payload) *queue.Job {
	t.Helper()
	ctx := context.Background()
	_, err := f.queue.Enqueue(ctx, queueName, payload)
	require.NoError(t, err)
	j, err := f.queue.TryDequeue(ctx, queueName)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

// drainNotifications returns every waiting notification payload.
func (f *fixture) drainNotifications(t *testing.T) []jobs.Notification {
	t.Helper()
	var out []jobs.Notification
	for {
		j, err := f.queue.TryDequeue(context.Background(), queue.QueueNotification)
		require.NoError(t, err)
		if j == nil {
			return out
		}
		var n jobs.Notification
		require.NoError(t, json.Unmarshal(j.Payload, &n))
		out = append(out, n)
	}
}

package pgstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/shared/postgresql"
)

type payload struct {
	N int `json:"n"`
}

func (payload) JobType() string { return "TEST" }

// openTestDB connects to TEST_POSTGRES_DSN and starts from an empty jobs table.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, postgresql.Migrate(context.Background(), db, logger))
	_, err = db.Exec(`TRUNCATE jobs`)
	require.NoError(t, err)
	return db
}

func TestStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := queue.NewManager(New(db, logger), logger)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, queue.QueueInventory, payload{N: 1}, queue.WithMaxAttempts(2))
	require.NoError(t, err)

	j, err := m.TryDequeue(ctx, queue.QueueInventory)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, queue.StatusActive, j.Status)

	status, err := m.MarkFailed(ctx, j, errors.New("out of stock"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusDelayed, status)

	j, err = m.TryDequeue(ctx, queue.QueueInventory)
	require.NoError(t, err)
	assert.Nil(t, j, "fixed 2s backoff has not elapsed")

	time.Sleep(2100 * time.Millisecond)
	j, err = m.TryDequeue(ctx, queue.QueueInventory)
	require.NoError(t, err)
	require.NotNil(t, j)

	status, err = m.MarkFailed(ctx, j, errors.New("out of stock"))
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, status)

	counts, err := m.Store().Counts(ctx, queue.QueueInventory)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[queue.StatusFailed])

	require.NoError(t, m.Retry(ctx, id))
	j, err = m.TryDequeue(ctx, queue.QueueInventory)
	require.NoError(t, err)
	require.NotNil(t, j)
	require.NoError(t, m.MarkCompleted(ctx, j))

	_, err = m.Store().Get(ctx, id)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestStoreList(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := New(db, logger)
	m := queue.NewManager(store, logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue(ctx, queue.QueueEmail, payload{N: i})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, queue.ListFilter{Queue: queue.QueueEmail, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)

	rest, err := store.List(ctx, queue.ListFilter{
		Queue: queue.QueueEmail,
		After: &queue.Cursor{CreatedAt: page[1].CreatedAt, JobID: page[1].ID},
	})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

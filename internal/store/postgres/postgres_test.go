package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/store"
	"github.com/cuongbtq/order-fulfillment/shared/postgresql"
)

func openStorage(t *testing.T) *Storage {
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
	_, err = db.Exec(`TRUNCATE users, products, orders, notifications`)
	require.NoError(t, err)
	return NewStorage(db, logger)
}

func TestDecodeOrders_SkipsCorruptItems(t *testing.T) {
	s := NewStorage(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	created := time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC)

	orders := s.decodeOrders([]orderRow{
		{ID: "o1", UserID: "u1", Items: []byte(`[{"product":"p1","amount":2}]`), CreatedAt: created},
		{ID: "o2", UserID: "u1", Items: []byte(`{"product":"p1"}`), CreatedAt: created},
		{ID: "o3", UserID: "u2", Items: []byte(`[]`), CreatedAt: created},
	})

	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].ID)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "p1", orders[0].Items[0].ProductID)
	assert.Equal(t, 2, orders[0].Items[0].Amount)
	assert.Equal(t, "o3", orders[1].ID)
}

func TestConcurrentDecrementNeverNegative(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	require.NoError(t, s.PutProduct(ctx, store.Product{ID: "p1", Name: "Mouse", CountInStock: 10, Status: store.ProductActive}))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecrementStock(ctx, "p1", 1)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, store.ErrInsufficientStock), err)
		}()
	}
	wg.Wait()

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, ok)
	assert.Equal(t, 0, p.CountInStock)
	assert.Equal(t, 10, p.Sold)
}

func TestMarkPaidAndCancel(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.PutOrder(ctx, store.Order{
		ID: "o1", UserID: "u1", CreatedAt: now.Add(-25 * time.Hour), UpdatedAt: now.Add(-25 * time.Hour),
		Items: []store.OrderItem{{ProductID: "p1", Amount: 2}},
	}))

	stale, err := s.FindStaleUnpaid(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, 2, stale[0].Items[0].Amount)

	changed, err := s.CancelUnpaid(ctx, "o1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.CancelUnpaid(ctx, "o1", now)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkPaid(ctx, "o1", now)
	assert.ErrorIs(t, err, store.ErrOrderCancelled)

	_, err = s.MarkPaid(ctx, "missing", now)
	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestRecipients(t *testing.T) {
	s := openStorage(t)
	ctx := context.Background()
	require.NoError(t, s.PutUser(ctx, store.User{ID: "u1", DeviceTokens: []string{"tok-1"}}))
	require.NoError(t, s.PutUser(ctx, store.User{ID: "a1", IsAdmin: true, DeviceTokens: []string{"tok-a"}}))
	require.NoError(t, s.PutUser(ctx, store.User{ID: "u2"}))

	r, err := s.Recipients(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1"}, r.RecipientIDs)
	assert.Equal(t, []string{"tok-1", "tok-a"}, r.DeviceTokens)
}

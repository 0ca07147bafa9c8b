package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/config"
	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/mail"
	"github.com/cuongbtq/order-fulfillment/internal/push"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/scheduler"
	"github.com/cuongbtq/order-fulfillment/internal/store"
	"github.com/cuongbtq/order-fulfillment/internal/store/memory"
)

type nopTransport struct{}

func (nopTransport) Send(context.Context, mail.Message) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryStores() (Stores, *memory.Store) {
	db := memory.New()
	return Stores{Orders: db, Products: db, Notifications: db, Recipients: db}, db
}

func TestNewCollaborators(t *testing.T) {
	cfg := config.Default()

	c := NewCollaborators(cfg, testLogger())
	assert.IsType(t, push.Noop{}, c.Push)
	assert.IsType(t, &mail.SMTPTransport{}, c.Mail)

	cfg.Push.Endpoint = "http://push.local/send"
	c = NewCollaborators(cfg, testLogger())
	assert.IsType(t, &push.HTTPSender{}, c.Push)
}

func TestNewPools_OnePerQueue(t *testing.T) {
	cfg := config.Default()
	stores, _ := memoryStores()
	m := queue.NewManager(queue.NewMemoryStore(), testLogger())

	pools := NewPools(cfg, m, stores, Collaborators{Mail: nopTransport{}, Push: push.Noop{}}, clockwork.NewRealClock(), testLogger())

	require.Len(t, pools, len(queue.Names()))
	for i, name := range queue.Names() {
		assert.Equal(t, name, pools[i].Queue())
	}
}

func TestNewPools_ProcessInventoryJob(t *testing.T) {
	cfg := config.Default()
	stores, db := memoryStores()
	db.PutProduct(store.Product{ID: "p1", CountInStock: 5, Status: store.ProductActive})
	m := queue.NewManager(queue.NewMemoryStore(), testLogger(), queue.WithPollInterval(10*time.Millisecond))

	pools := NewPools(cfg, m, stores, Collaborators{Mail: nopTransport{}, Push: push.Noop{}}, clockwork.NewRealClock(), testLogger())
	for _, p := range pools {
		require.NoError(t, p.Start(context.Background()))
		t.Cleanup(func() { _ = p.Stop() })
	}

	_, err := m.Enqueue(context.Background(), queue.QueueInventory, jobs.UpdateStock{ProductID: "p1", Amount: 2})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, err := db.GetProduct(context.Background(), "p1")
		return err == nil && p.CountInStock == 3 && p.Sold == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewScheduler_RegistersSweeps(t *testing.T) {
	cfg := config.Default()
	cfg.Scheduler.Timezone = "UTC"
	stores, _ := memoryStores()
	m := queue.NewManager(queue.NewMemoryStore(), testLogger())

	s, err := NewScheduler(cfg, m, stores, nil, clockwork.NewFakeClock(), testLogger())
	require.NoError(t, err)

	for _, name := range []string{
		scheduler.SweepAutoCancel,
		scheduler.SweepPurge,
		scheduler.SweepDiscountExpiry,
		scheduler.SweepDeliveryReminder,
	} {
		assert.NoError(t, s.RunNow(context.Background(), name), name)
	}
}

func TestNewScheduler_Errors(t *testing.T) {
	stores, _ := memoryStores()
	m := queue.NewManager(queue.NewMemoryStore(), testLogger())

	cfg := config.Default()
	cfg.Scheduler.Timezone = "Nowhere/Special"
	_, err := NewScheduler(cfg, m, stores, nil, clockwork.NewFakeClock(), testLogger())
	assert.ErrorContains(t, err, "invalid scheduler timezone")

	cfg = config.Default()
	cfg.Scheduler.Timezone = "UTC"
	cfg.Scheduler.Sweeps.PurgeSchedule = "not a cron"
	_, err = NewScheduler(cfg, m, stores, nil, clockwork.NewFakeClock(), testLogger())
	assert.ErrorContains(t, err, "invalid schedule")
}

func TestSchedulerLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := &App{Config: config.Default(), redis: client}
	assert.Nil(t, a.SchedulerLocker())

	a.Config.Scheduler.Lock.Enabled = true
	locker := a.SchedulerLocker()
	require.NotNil(t, locker)

	ok, err := locker.Acquire(context.Background(), "purge:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("fulfillment:sweep-lock:purge:1"))
}

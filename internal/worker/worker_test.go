package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

type testPayload struct {
	Name string `json:"name"`
}

func (testPayload) JobType() string { return "TEST" }

func newTestManager(t *testing.T) (*queue.Manager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC))
	policies := queue.DefaultPolicies()
	p := policies[queue.QueueEmail]
	p.RemoveOnComplete = false
	policies[queue.QueueEmail] = p
	m := queue.NewManager(queue.NewMemoryStore(), discardLogger(), queue.WithClock(clock), queue.WithPolicies(policies))
	return m, clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPool(t *testing.T, m *queue.Manager, h Handler, cfg Config) *Pool {
	t.Helper()
	if cfg.Queue == "" {
		cfg.Queue = queue.QueueEmail
	}
	cfg.Logger = discardLogger()
	p := NewPool(m, h, cfg)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func waitForStatus(t *testing.T, m *queue.Manager, id string, want queue.Status) *queue.Job {
	t.Helper()
	var got *queue.Job
	require.Eventually(t, func() bool {
		j, err := m.Store().Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestPool_CompletesJob(t *testing.T) {
	m, _ := newTestManager(t)
	seen := make(chan string, 1)
	startPool(t, m, HandlerFunc(func(_ context.Context, j *queue.Job) error {
		seen <- j.ID
		return nil
	}), Config{Concurrency: 2})

	id, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{Name: "a"})
	require.NoError(t, err)

	select {
	case got := <-seen:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}

	j := waitForStatus(t, m, id, queue.StatusCompleted)
	assert.Equal(t, 1, j.Attempts)
}

func TestPool_FailureIsRetried(t *testing.T) {
	m, clock := newTestManager(t)
	startPool(t, m, HandlerFunc(func(context.Context, *queue.Job) error {
		return errors.New("smtp unavailable")
	}), Config{})

	id, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{})
	require.NoError(t, err)

	j := waitForStatus(t, m, id, queue.StatusDelayed)
	assert.Equal(t, 1, j.Attempts)
	assert.Equal(t, "smtp unavailable", j.FailedReason)
	assert.Equal(t, clock.Now().Add(5*time.Second), j.AvailableAt)
}

func TestPool_PermanentFailure(t *testing.T) {
	m, _ := newTestManager(t)
	startPool(t, m, HandlerFunc(func(context.Context, *queue.Job) error {
		return queue.Permanent(errors.New("bad payload"))
	}), Config{})

	id, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{})
	require.NoError(t, err)

	j := waitForStatus(t, m, id, queue.StatusFailed)
	assert.Equal(t, 1, j.Attempts)
	assert.NotNil(t, j.FinishedAt)
}

func TestPool_PanicCountsAsFailure(t *testing.T) {
	m, _ := newTestManager(t)
	startPool(t, m, HandlerFunc(func(context.Context, *queue.Job) error {
		panic("boom")
	}), Config{})

	id, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{})
	require.NoError(t, err)

	j := waitForStatus(t, m, id, queue.StatusDelayed)
	assert.Contains(t, j.FailedReason, "handler panic: boom")
}

func TestPool_StopWaitsForInFlightJob(t *testing.T) {
	m, _ := newTestManager(t)
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewPool(m, HandlerFunc(func(context.Context, *queue.Job) error {
		close(started)
		<-release
		return nil
	}), Config{Queue: queue.QueueEmail, Logger: discardLogger(), ShutdownTimeout: 5 * time.Second})
	require.NoError(t, p.Start(context.Background()))

	id, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{})
	require.NoError(t, err)
	<-started

	var stopped atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.Stop())
		stopped.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, stopped.Load(), "Stop returned while a job was running")

	close(release)
	wg.Wait()
	assert.True(t, stopped.Load())

	j, err := m.Store().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, j.Status)
}

func TestPool_ShutdownTimeoutAbortsJob(t *testing.T) {
	m, _ := newTestManager(t)
	started := make(chan struct{})
	aborted := make(chan struct{})
	p := NewPool(m, HandlerFunc(func(ctx context.Context, _ *queue.Job) error {
		close(started)
		<-ctx.Done()
		close(aborted)
		return ctx.Err()
	}), Config{Queue: queue.QueueEmail, Logger: discardLogger(), ShutdownTimeout: 20 * time.Millisecond})
	require.NoError(t, p.Start(context.Background()))

	_, err := m.Enqueue(context.Background(), queue.QueueEmail, testPayload{})
	require.NoError(t, err)
	<-started

	err = p.Stop()
	assert.ErrorIs(t, err, ErrShutdownTimeout)
	select {
	case <-aborted:
	default:
		t.Fatal("handler context was not canceled")
	}
}

func TestPool_RecoversStalledJobsOnStart(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()

	id, err := m.Enqueue(ctx, queue.QueueEmail, testPayload{})
	require.NoError(t, err)
	claimed, err := m.TryDequeue(ctx, queue.QueueEmail)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	clock.Advance(10 * time.Minute)

	startPool(t, m, HandlerFunc(func(context.Context, *queue.Job) error { return nil }),
		Config{StalledAfter: 5 * time.Minute})

	waitForStatus(t, m, id, queue.StatusCompleted)
}

func TestPool_StartRejectsUnknownQueue(t *testing.T) {
	m, _ := newTestManager(t)
	p := NewPool(m, HandlerFunc(func(context.Context, *queue.Job) error { return nil }),
		Config{Queue: "reports", Logger: discardLogger()})

	err := p.Start(context.Background())
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)
	assert.NoError(t, p.Stop())
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type chanSource chan amqp.Delivery

func (s chanSource) Consume(string) (<-chan amqp.Delivery, error) {
	return s, nil
}

type recordingWaker struct {
	mu     sync.Mutex
	queues []string
}

func (w *recordingWaker) Wake(q string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queues = append(w.queues, q)
}

func TestWakeConsumer_Dispatch(t *testing.T) {
	ack := &fakeAcknowledger{}
	source := make(chanSource, 4)
	source <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"queue":"payment","job_id":"6f1c2b1e-9a52-4a36-9d43-2f0d1f1a7c11"}`)}
	source <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	source <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte(`{"queue":"reports","job_id":"6f1c2b1e-9a52-4a36-9d43-2f0d1f1a7c11"}`)}
	source <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 4, Body: []byte(`{"queue":"email","job_id":"42"}`)}
	close(source)

	waker := &recordingWaker{}
	c := NewWakeConsumer(source, waker, "test-consumer", discardLogger())
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{queue.QueuePayment}, waker.queues)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3, 4}, ack.nacked)
}

func TestWakeConsumer_WakesBlockedDequeue(t *testing.T) {
	m, _ := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := m.Clock().Now()
	blocked := make(chan *queue.Job, 1)
	go func() {
		j, err := m.Dequeue(ctx, queue.QueuePayment)
		if err == nil {
			blocked <- j
		}
	}()

	// Added directly to the store so the manager sends no wake-up itself.
	require.NoError(t, m.Store().Add(ctx, &queue.Job{
		ID:          "0b7e4a8f-3c1d-4f7e-8a0b-5d6c7e8f9a10",
		Queue:       queue.QueuePayment,
		Type:        "TEST",
		Payload:     []byte(`{}`),
		Status:      queue.StatusWaiting,
		MaxAttempts: 1,
		CreatedAt:   now,
		AvailableAt: now,
	}))

	ack := &fakeAcknowledger{}
	source := make(chanSource, 1)
	source <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(`{"queue":"payment","job_id":"0b7e4a8f-3c1d-4f7e-8a0b-5d6c7e8f9a10"}`)}
	close(source)
	require.NoError(t, NewWakeConsumer(source, m, "test-consumer", discardLogger()).Run(ctx))

	select {
	case j := <-blocked:
		assert.Equal(t, "0b7e4a8f-3c1d-4f7e-8a0b-5d6c7e8f9a10", j.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("wake message did not release the blocked dequeue")
	}
}

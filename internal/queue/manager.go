package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const defaultPollInterval = time.Second

// Manager is the queue engine: it applies per-queue retry policies on top of
// a Store and wakes blocked consumers when new work arrives.
type Manager struct {
	store        Store
	policies     map[string]Policy
	notifier     Notifier
	clock        clockwork.Clock
	logger       *slog.Logger
	pollInterval time.Duration

	mu    sync.Mutex
	wakes map[string]chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicies replaces the retry table. Queues missing from p are rejected.
func WithPolicies(p map[string]Policy) Option {
	return func(m *Manager) { m.policies = p }
}

// WithNotifier publishes wake-ups to other processes after each enqueue.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithPollInterval bounds how long Dequeue sleeps without a wake-up.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func NewManager(store Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		policies:     DefaultPolicies(),
		notifier:     NopNotifier{},
		clock:        clockwork.NewRealClock(),
		logger:       logger,
		pollInterval: defaultPollInterval,
		wakes:        make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying store for operator reads.
func (m *Manager) Store() Store {
	return m.store
}

// Clock returns the engine's time source.
func (m *Manager) Clock() clockwork.Clock {
	return m.clock
}

// Policy returns the retry policy of a queue.
func (m *Manager) Policy(queue string) (Policy, error) {
	p, ok := m.policies[queue]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return p, nil
}

// Enqueue persists payload on queue and returns the job id.
func (m *Manager) Enqueue(ctx context.Context, queue string, payload Payload, opts ...EnqueueOption) (string, error) {
	policy, err := m.Policy(queue)
	if err != nil {
		return "", err
	}

	o := enqueueOptions{maxAttempts: policy.MaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	backoff := policy.Backoff
	if o.backoff != nil {
		backoff = *o.backoff
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", queue, err)
	}

	now := m.clock.Now()
	j := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Type:        payload.JobType(),
		Payload:     body,
		Status:      StatusWaiting,
		MaxAttempts: o.maxAttempts,
		Backoff:     backoff,
		CreatedAt:   now,
		AvailableAt: now,
	}
	if o.delay > 0 {
		j.Status = StatusDelayed
		j.AvailableAt = now.Add(o.delay)
	}

	if err := m.store.Add(ctx, j); err != nil {
		return "", fmt.Errorf("failed to add job to %s: %w", queue, err)
	}

	m.Wake(queue)
	if err := m.notifier.Notify(ctx, queue, j.ID); err != nil {
		// The job is durable; consumers still find it on their next poll.
		m.logger.Warn("Failed to publish wake-up",
			slog.String("queue", queue),
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()))
	}

	m.logger.Debug("Job enqueued",
		slog.String("queue", queue),
		slog.String("job_id", j.ID),
		slog.String("type", j.Type))
	return j.ID, nil
}

// TryDequeue claims the next eligible job or returns nil when there is none.
func (m *Manager) TryDequeue(ctx context.Context, queue string) (*Job, error) {
	j, err := m.store.Claim(ctx, queue, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim job from %s: %w", queue, err)
	}
	return j, nil
}

// Dequeue blocks until a job is claimed from queue or ctx is done.
func (m *Manager) Dequeue(ctx context.Context, queue string) (*Job, error) {
	wake := m.wakeChan(queue)
	for {
		j, err := m.TryDequeue(ctx, queue)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case <-m.clock.After(m.pollInterval):
		}
	}
}

// Wake releases one blocked Dequeue on queue, if any.
func (m *Manager) Wake(queue string) {
	select {
	case m.wakeChan(queue) <- struct{}{}:
	default:
	}
}

func (m *Manager) wakeChan(queue string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.wakes[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		m.wakes[queue] = ch
	}
	return ch
}

// MarkCompleted records a successful attempt. Completed jobs are deleted
// when the queue policy asks for it.
func (m *Manager) MarkCompleted(ctx context.Context, j *Job) error {
	policy, err := m.Policy(j.Queue)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	j.Attempts++
	j.Status = StatusCompleted
	j.FinishedAt = &now
	j.FailedReason = ""

	if err := m.store.Complete(ctx, j, policy.RemoveOnComplete); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", j.ID, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The job is delayed for another attempt
// while its budget lasts and cause is not permanent, otherwise it becomes
// terminally failed and is kept. It returns the status the job moved to.
func (m *Manager) MarkFailed(ctx context.Context, j *Job, cause error) (Status, error) {
	now := m.clock.Now()
	j.Attempts++
	if cause != nil {
		j.FailedReason = cause.Error()
	}

	if j.Attempts < j.MaxAttempts && !IsPermanent(cause) {
		j.Status = StatusDelayed
		j.AvailableAt = now.Add(j.Backoff.Next(j.Attempts))
		if err := m.store.Delay(ctx, j); err != nil {
			return j.Status, fmt.Errorf("failed to delay job %s: %w", j.ID, err)
		}
		return StatusDelayed, nil
	}

	j.Status = StatusFailed
	j.FinishedAt = &now
	if err := m.store.Fail(ctx, j); err != nil {
		return j.Status, fmt.Errorf("failed to fail job %s: %w", j.ID, err)
	}
	return StatusFailed, nil
}

// SaveProgress persists an updated payload for an active job so a later
// attempt resumes from it.
func (m *Manager) SaveProgress(ctx context.Context, j *Job, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := m.store.SaveProgress(ctx, j.ID, body); err != nil {
		return fmt.Errorf("failed to save progress of job %s: %w", j.ID, err)
	}
	j.Payload = body
	return nil
}

// Retry moves a terminally failed job back to waiting.
func (m *Manager) Retry(ctx context.Context, id string) error {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.Requeue(ctx, id, m.clock.Now()); err != nil {
		return err
	}
	m.Wake(j.Queue)
	if err := m.notifier.Notify(ctx, j.Queue, id); err != nil {
		m.logger.Warn("Failed to publish wake-up",
			slog.String("queue", j.Queue),
			slog.String("job_id", id),
			slog.String("error", err.Error()))
	}
	return nil
}

// RecoverStalled hands back jobs left active longer than after, typically by
// a worker process that died mid-job.
func (m *Manager) RecoverStalled(ctx context.Context, queue string, after time.Duration) (int, error) {
	n, err := m.store.RequeueStalled(ctx, queue, m.clock.Now().Add(-after))
	if err != nil {
		return 0, fmt.Errorf("failed to recover stalled jobs on %s: %w", queue, err)
	}
	if n > 0 {
		m.Wake(queue)
	}
	return n, nil
}

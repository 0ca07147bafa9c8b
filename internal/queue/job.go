package queue

import (
	"encoding/json"
	"time"
)

// Queue names served by the fulfillment workers.
const (
	QueueEmail        = "email"
	QueueInventory    = "inventory"
	QueueNotification = "notification"
	QueuePayment      = "payment"
)

// Names returns every known queue name in a stable order.
func Names() []string {
	return []string{QueueEmail, QueueInventory, QueueNotification, QueuePayment}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"

	// StatusDelayed marks a job that failed and waits for its backoff to elapse.
	StatusDelayed Status = "delayed"

	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for statuses a job never leaves on its own.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusDelayed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Payload is implemented by every job body that can be enqueued.
// JobType is the discriminator persisted next to the encoded body.
type Payload interface {
	JobType() string
}

// Job is a unit of deferred work on a named queue.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      Backoff         `json:"backoff"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	AvailableAt  time.Time       `json:"available_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		cp.ProcessedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// EnqueueOption customises a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	maxAttempts int
	backoff     *Backoff
	delay       time.Duration
}

// WithMaxAttempts overrides the queue policy's attempt budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// WithBackoff overrides the queue policy's backoff.
func WithBackoff(b Backoff) EnqueueOption {
	return func(o *enqueueOptions) { o.backoff = &b }
}

// WithDelay makes the job eligible only after d has elapsed.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

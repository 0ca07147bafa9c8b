package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Cursor marks the last job of a listing page.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListFilter selects jobs for operator listings, newest first.
type ListFilter struct {
	Queue  string
	Status Status
	Limit  int
	After  *Cursor
}

// Store persists jobs and their lifecycle. Implementations must be safe for
// concurrent use and Claim must hand a job to exactly one caller.
type Store interface {
	// Add persists a new job in waiting or delayed state.
	Add(ctx context.Context, j *Job) error
	// Claim moves the oldest eligible job of queue to active and returns it.
	// Delayed jobs whose AvailableAt is not after now are eligible.
	// It returns nil, nil when nothing is eligible.
	Claim(ctx context.Context, queue string, now time.Time) (*Job, error)
	// Complete records success; remove deletes the job instead of keeping it.
	Complete(ctx context.Context, j *Job, remove bool) error
	// Delay records a failed attempt that will be retried at j.AvailableAt.
	Delay(ctx context.Context, j *Job) error
	// Fail records terminal failure. The job is retained for inspection.
	Fail(ctx context.Context, j *Job) error
	// SaveProgress replaces the payload of an active job.
	SaveProgress(ctx context.Context, id string, payload json.RawMessage) error

	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, f ListFilter) ([]*Job, error)
	Counts(ctx context.Context, queue string) (map[Status]int, error)
	// Requeue moves a failed job back to waiting with a fresh attempt budget.
	Requeue(ctx context.Context, id string, now time.Time) error
	Remove(ctx context.Context, id string) error
	// RequeueStalled returns active jobs claimed before the cutoff to waiting.
	RequeueStalled(ctx context.Context, queue string, before time.Time) (int, error)
}

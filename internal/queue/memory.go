package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process. Used by tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	waiting map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		waiting: make(map[string][]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Add(_ context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID] = j.Clone()
	if j.Status == StatusWaiting {
		s.waiting[j.Queue] = append(s.waiting[j.Queue], j.ID)
	}
	return nil
}

func (s *MemoryStore) Claim(_ context.Context, queue string, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoteDue(queue, now)

	ids := s.waiting[queue]
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]
	s.waiting[queue] = ids[1:]

	j := s.jobs[id]
	j.Status = StatusActive
	processed := now
	j.ProcessedAt = &processed
	return j.Clone(), nil
}

// promoteDue appends delayed jobs whose backoff elapsed to the waiting list,
// earliest availability first. Caller holds the lock.
func (s *MemoryStore) promoteDue(queue string, now time.Time) {
	var due []*Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.Status == StatusDelayed && !j.AvailableAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].AvailableAt.Equal(due[b].AvailableAt) {
			return due[a].CreatedAt.Before(due[b].CreatedAt)
		}
		return due[a].AvailableAt.Before(due[b].AvailableAt)
	})
	for _, j := range due {
		j.Status = StatusWaiting
		s.waiting[queue] = append(s.waiting[queue], j.ID)
	}
}

func (s *MemoryStore) Complete(_ context.Context, j *Job, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	if remove {
		delete(s.jobs, j.ID)
		return nil
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) Delay(_ context.Context, j *Job) error {
	return s.replace(j)
}

func (s *MemoryStore) Fail(_ context.Context, j *Job) error {
	return s.replace(j)
}

func (s *MemoryStore) replace(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) SaveProgress(_ context.Context, id string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Payload = append(json.RawMessage(nil), payload...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, f ListFilter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, j := range s.jobs {
		if f.Queue != "" && j.Queue != f.Queue {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.After != nil && !olderThanCursor(j, f.After) {
			continue
		}
		out = append(out, j.Clone())
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Counts(_ context.Context, queue string) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := EmptyCounts()
	for _, j := range s.jobs {
		if j.Queue == queue {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) Requeue(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status != StatusFailed {
		return ErrInvalidState
	}
	resetForRequeue(j, now)
	s.waiting[j.Queue] = append(s.waiting[j.Queue], j.ID)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Status == StatusActive {
		return ErrInvalidState
	}
	delete(s.jobs, id)
	ids := s.waiting[j.Queue]
	for i, wid := range ids {
		if wid == id {
			s.waiting[j.Queue] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) RequeueStalled(_ context.Context, queue string, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Queue != queue || j.Status != StatusActive || j.ProcessedAt == nil {
			continue
		}
		if j.ProcessedAt.Before(before) {
			j.Status = StatusWaiting
			j.ProcessedAt = nil
			s.waiting[queue] = append(s.waiting[queue], j.ID)
			n++
		}
	}
	return n, nil
}

// EmptyCounts returns a count map with every status present.
func EmptyCounts() map[Status]int {
	return map[Status]int{
		StatusWaiting:   0,
		StatusActive:    0,
		StatusDelayed:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}
}

func resetForRequeue(j *Job, now time.Time) {
	j.Status = StatusWaiting
	j.Attempts = 0
	j.FailedReason = ""
	j.AvailableAt = now
	j.ProcessedAt = nil
	j.FinishedAt = nil
}

// olderThanCursor reports whether j sorts after c in newest-first order.
func olderThanCursor(j *Job, c *Cursor) bool {
	if j.CreatedAt.Equal(c.CreatedAt) {
		return j.ID < c.JobID
	}
	return j.CreatedAt.Before(c.CreatedAt)
}

func sortNewestFirst(jobs []*Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID > jobs[b].ID
		}
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
}

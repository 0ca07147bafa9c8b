// Package redisstore keeps queue jobs in Redis with a wait list plus a
// delayed sorted set per queue.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

const DefaultPrefix = "fulfillment"

// claimScript promotes due delayed jobs to the wait list, then pops the head
// of the wait list into the active set. Returns false when nothing is waiting.
//
// KEYS[1] wait, KEYS[2] delayed, KEYS[3] active; ARGV[1] now in ms.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('RPUSH', KEYS[1], id)
end
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[3], ARGV[1], id)
return id
`)

// Store implements queue.Store on Redis.
type Store struct {
	client goredis.UniversalClient
	keys   keys
}

var _ queue.Store = (*Store)(nil)

func New(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, keys: keys{prefix: prefix}}
}

func (s *Store) Add(ctx context.Context, j *queue.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redisstore: encode job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.job(j.ID), data, 0)
	pipe.ZAdd(ctx, s.keys.all(j.Queue), goredis.Z{Score: score(j.CreatedAt), Member: j.ID})
	if j.Status == queue.StatusDelayed {
		pipe.ZAdd(ctx, s.keys.delayed(j.Queue), goredis.Z{Score: score(j.AvailableAt), Member: j.ID})
	} else {
		pipe.RPush(ctx, s.keys.wait(j.Queue), j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: add job: %w", err)
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, q string, now time.Time) (*queue.Job, error) {
	id, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.wait(q), s.keys.delayed(q), s.keys.active(q)},
		now.UnixMilli(),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: claim: %w", err)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	j.Status = queue.StatusActive
	processed := now
	j.ProcessedAt = &processed
	if err := s.put(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Store) Complete(ctx context.Context, j *queue.Job, remove bool) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.keys.active(j.Queue), j.ID)
	if remove {
		pipe.Del(ctx, s.keys.job(j.ID))
		pipe.ZRem(ctx, s.keys.all(j.Queue), j.ID)
	} else {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("redisstore: encode job: %w", err)
		}
		pipe.Set(ctx, s.keys.job(j.ID), data, 0)
		pipe.SAdd(ctx, s.keys.completed(j.Queue), j.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: complete job: %w", err)
	}
	return nil
}

func (s *Store) Delay(ctx context.Context, j *queue.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redisstore: encode job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.keys.active(j.Queue), j.ID)
	pipe.Set(ctx, s.keys.job(j.ID), data, 0)
	pipe.ZAdd(ctx, s.keys.delayed(j.Queue), goredis.Z{Score: score(j.AvailableAt), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delay job: %w", err)
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, j *queue.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redisstore: encode job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.keys.active(j.Queue), j.ID)
	pipe.Set(ctx, s.keys.job(j.ID), data, 0)
	pipe.SAdd(ctx, s.keys.failed(j.Queue), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: fail job: %w", err)
	}
	return nil
}

func (s *Store) SaveProgress(ctx context.Context, id string, payload json.RawMessage) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	j.Payload = payload
	return s.put(ctx, j)
}

func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	data, err := s.client.Get(ctx, s.keys.job(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get job: %w", err)
	}

	var j queue.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("redisstore: decode job %s: %w", id, err)
	}
	return &j, nil
}

func (s *Store) List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error) {
	queues := queue.Names()
	if f.Queue != "" {
		queues = []string{f.Queue}
	}

	var ids []string
	for _, q := range queues {
		qids, err := s.client.ZRange(ctx, s.keys.all(q), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redisstore: list %s: %w", q, err)
		}
		ids = append(ids, qids...)
	}

	jobs, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := jobs[:0]
	for _, j := range jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.After != nil && !olderThan(j, f.After) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) getMany(ctx context.Context, ids []string) ([]*queue.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	jobKeys := make([]string, len(ids))
	for i, id := range ids {
		jobKeys[i] = s.keys.job(id)
	}

	vals, err := s.client.MGet(ctx, jobKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: mget jobs: %w", err)
	}

	jobs := make([]*queue.Job, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // removed between index read and fetch
		}
		var j queue.Job
		if err := json.Unmarshal([]byte(str), &j); err != nil {
			return nil, fmt.Errorf("redisstore: decode job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

func (s *Store) Counts(ctx context.Context, q string) (map[queue.Status]int, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.LLen(ctx, s.keys.wait(q))
	delayed := pipe.ZCard(ctx, s.keys.delayed(q))
	active := pipe.ZCard(ctx, s.keys.active(q))
	completed := pipe.SCard(ctx, s.keys.completed(q))
	failed := pipe.SCard(ctx, s.keys.failed(q))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisstore: counts: %w", err)
	}

	counts := queue.EmptyCounts()
	counts[queue.StatusWaiting] = int(waiting.Val())
	counts[queue.StatusDelayed] = int(delayed.Val())
	counts[queue.StatusActive] = int(active.Val())
	counts[queue.StatusCompleted] = int(completed.Val())
	counts[queue.StatusFailed] = int(failed.Val())
	return counts, nil
}

func (s *Store) Requeue(ctx context.Context, id string, now time.Time) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status != queue.StatusFailed {
		return queue.ErrInvalidState
	}

	j.Status = queue.StatusWaiting
	j.Attempts = 0
	j.FailedReason = ""
	j.AvailableAt = now
	j.ProcessedAt = nil
	j.FinishedAt = nil
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redisstore: encode job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.keys.failed(j.Queue), id)
	pipe.Set(ctx, s.keys.job(id), data, 0)
	pipe.RPush(ctx, s.keys.wait(j.Queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: requeue job: %w", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Status == queue.StatusActive {
		return queue.ErrInvalidState
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.job(id))
	pipe.ZRem(ctx, s.keys.all(j.Queue), id)
	pipe.LRem(ctx, s.keys.wait(j.Queue), 0, id)
	pipe.ZRem(ctx, s.keys.delayed(j.Queue), id)
	pipe.SRem(ctx, s.keys.completed(j.Queue), id)
	pipe.SRem(ctx, s.keys.failed(j.Queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: remove job: %w", err)
	}
	return nil
}

func (s *Store) RequeueStalled(ctx context.Context, q string, before time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.keys.active(q), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", before.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: scan active: %w", err)
	}

	n := 0
	for _, id := range ids {
		// ZRem decides ownership when two workers recover at once.
		removed, err := s.client.ZRem(ctx, s.keys.active(q), id).Result()
		if err != nil {
			return n, fmt.Errorf("redisstore: release stalled job: %w", err)
		}
		if removed == 0 {
			continue
		}
		j, err := s.Get(ctx, id)
		if errors.Is(err, queue.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		j.Status = queue.StatusWaiting
		j.ProcessedAt = nil
		if err := s.put(ctx, j); err != nil {
			return n, err
		}
		if err := s.client.RPush(ctx, s.keys.wait(q), id).Err(); err != nil {
			return n, fmt.Errorf("redisstore: requeue stalled job: %w", err)
		}
		n++
	}
	return n, nil
}

func (s *Store) put(ctx context.Context, j *queue.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("redisstore: encode job: %w", err)
	}
	if err := s.client.Set(ctx, s.keys.job(j.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: put job: %w", err)
	}
	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func olderThan(j *queue.Job, c *queue.Cursor) bool {
	if j.CreatedAt.Equal(c.CreatedAt) {
		return j.ID < c.JobID
	}
	return j.CreatedAt.Before(c.CreatedAt)
}

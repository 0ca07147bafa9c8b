// Package pgstore keeps queue jobs in the PostgreSQL jobs table.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

const jobColumns = `id, queue, job_type, payload, status, attempts, max_attempts,
	backoff_type, backoff_delay_ms, failed_reason, created_at, available_at,
	processed_at, finished_at`

// jobRow is the database shape of a queue.Job
type jobRow struct {
	ID             string       `db:"id"`
	Queue          string       `db:"queue"`
	JobType        string       `db:"job_type"`
	Payload        []byte       `db:"payload"`
	Status         string       `db:"status"`
	Attempts       int          `db:"attempts"`
	MaxAttempts    int          `db:"max_attempts"`
	BackoffType    string       `db:"backoff_type"`
	BackoffDelayMs int64        `db:"backoff_delay_ms"`
	FailedReason   string       `db:"failed_reason"`
	CreatedAt      time.Time    `db:"created_at"`
	AvailableAt    time.Time    `db:"available_at"`
	ProcessedAt    sql.NullTime `db:"processed_at"`
	FinishedAt     sql.NullTime `db:"finished_at"`
}

func (r *jobRow) toJob() *queue.Job {
	j := &queue.Job{
		ID:          r.ID,
		Queue:       r.Queue,
		Type:        r.JobType,
		Payload:     json.RawMessage(r.Payload),
		Status:      queue.Status(r.Status),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Backoff: queue.Backoff{
			Type: queue.BackoffType(r.BackoffType),
			Base: time.Duration(r.BackoffDelayMs) * time.Millisecond,
		},
		FailedReason: r.FailedReason,
		CreatedAt:    r.CreatedAt,
		AvailableAt:  r.AvailableAt,
	}
	if r.ProcessedAt.Valid {
		t := r.ProcessedAt.Time
		j.ProcessedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		j.FinishedAt = &t
	}
	return j
}

// Store handles all job table operations
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ queue.Store = (*Store)(nil)

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (s *Store) Add(ctx context.Context, j *queue.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		j.ID, j.Queue, j.Type, []byte(j.Payload), string(j.Status), j.Attempts, j.MaxAttempts,
		string(j.Backoff.Type), j.Backoff.Base.Milliseconds(), j.FailedReason,
		j.CreatedAt, j.AvailableAt, nullTime(j.ProcessedAt), nullTime(j.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Claim locks the oldest eligible row with SKIP LOCKED so concurrent workers
// never receive the same job
func (s *Store) Claim(ctx context.Context, q string, now time.Time) (*queue.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    processed_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $3
			  AND status IN ($4, $5)
			  AND available_at <= $2
			ORDER BY available_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(queue.StatusActive), now, q, string(queue.StatusWaiting), string(queue.StatusDelayed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Debug("Job claimed",
		slog.String("job_id", row.ID),
		slog.String("queue", q),
	)
	return row.toJob(), nil
}

func (s *Store) Complete(ctx context.Context, j *queue.Job, remove bool) error {
	if remove {
		return s.delete(ctx, j.ID)
	}
	return s.update(ctx, j)
}

func (s *Store) Delay(ctx context.Context, j *queue.Job) error {
	return s.update(ctx, j)
}

func (s *Store) Fail(ctx context.Context, j *queue.Job) error {
	return s.update(ctx, j)
}

// update writes the mutable lifecycle columns of a job
func (s *Store) update(ctx context.Context, j *queue.Job) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = $2,
		    failed_reason = $3,
		    available_at = $4,
		    processed_at = $5,
		    finished_at = $6
		WHERE id = $7
	`

	res, err := s.db.ExecContext(ctx, query,
		string(j.Status), j.Attempts, j.FailedReason, j.AvailableAt,
		nullTime(j.ProcessedAt), nullTime(j.FinishedAt), j.ID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return expectOne(res)
}

func (s *Store) SaveProgress(ctx context.Context, id string, payload json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET payload = $1 WHERE id = $2`, []byte(payload), id)
	if err != nil {
		return fmt.Errorf("failed to save job progress: %w", err)
	}
	return expectOne(res)
}

// Get retrieves a job from the database by its ID
func (s *Store) Get(ctx context.Context, id string) (*queue.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toJob(), nil
}

func (s *Store) List(ctx context.Context, f queue.ListFilter) ([]*queue.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Queue != "" {
		where = append(where, "queue = "+arg(f.Queue))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.After != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(f.After.CreatedAt), arg(f.After.JobID)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*queue.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toJob()
	}
	return jobs, nil
}

func (s *Store) Counts(ctx context.Context, q string) (map[queue.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM jobs WHERE queue = $1 GROUP BY status`, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts := queue.EmptyCounts()
	for _, r := range rows {
		counts[queue.Status(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *Store) Requeue(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = 0,
		    failed_reason = '',
		    available_at = $2,
		    processed_at = NULL,
		    finished_at = NULL
		WHERE id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, string(queue.StatusWaiting), now, id, string(queue.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return queue.ErrInvalidState
}

func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status <> $2`, id, string(queue.StatusActive))
	if err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return queue.ErrInvalidState
}

func (s *Store) RequeueStalled(ctx context.Context, q string, before time.Time) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    processed_at = NULL
		WHERE queue = $2 AND status = $3 AND processed_at < $4
	`

	res, err := s.db.ExecContext(ctx, query, string(queue.StatusWaiting), q, string(queue.StatusActive), before)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stalled jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Warn("Requeued stalled jobs",
			slog.String("queue", q),
			slog.Int64("count", n),
		)
	}
	return int(n), nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

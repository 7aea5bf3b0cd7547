package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hireflow/hireflow/internal/store"
)

var (
	// ErrNoJobs is returned by Dequeue when nothing is ready to run
	ErrNoJobs = errors.New("no jobs available")

	// ErrJobNotFound is returned when a job id matches no row in the expected state
	ErrJobNotFound = fmt.Errorf("job %w", store.ErrNotFound)

	// ErrRetriesExhausted is returned by Retry when the job has no attempts left
	ErrRetriesExhausted = errors.New("job exceeded max attempts")
)

// Enqueuer adds jobs to the queue. Domain services depend on this rather than *Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) error
}

// Backoff configures retry delays: Base * 2^(attempts-1), capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at 30s and caps at 1h
func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Max: time.Hour}
}

// Delay returns the delay before retrying a job that has made attempts attempts
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// Channel is the NOTIFY channel workers of queue listen on
func Channel(queue string) string {
	return "jobs_" + queue
}

// Queue provides PostgreSQL-backed job queue operations
type Queue struct {
	db      *sql.DB
	backoff Backoff
	now     func() time.Time
}

// NewQueue creates a new job queue with PostgreSQL backing
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db, backoff: DefaultBackoff(), now: time.Now}
}

// WithBackoff overrides the retry backoff
func (q *Queue) WithBackoff(b Backoff) *Queue {
	q.backoff = b
	return q
}

const jobColumns = `id, queue, type, payload, status, priority, attempts, max_attempts,
	error, created_at, run_at, started_at, completed_at, locked_by, locked_at`

func scanJob(row store.RowScanner) (*Job, error) {
	var job Job
	var payload []byte
	err := row.Scan(
		&job.ID, &job.Queue, &job.Type, &payload, &job.Status, &job.Priority,
		&job.Attempts, &job.MaxAttempts, &job.Error, &job.CreatedAt, &job.RunAt,
		&job.StartedAt, &job.CompletedAt, &job.LockedBy, &job.LockedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	return &job, nil
}

// Enqueue adds a job to the queue and notifies listening workers. When ctx
// carries a transaction the job commits or rolls back with it.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.Payload == nil {
		job.Payload = []byte("{}")
	}

	conn := store.Conn(ctx, q.db)
	_, err := conn.ExecContext(ctx, `
		INSERT INTO jobs (
			id, queue, type, payload, status, priority,
			attempts, max_attempts, created_at, run_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Queue, job.Type, []byte(job.Payload), job.Status, job.Priority,
		job.Attempts, job.MaxAttempts, job.CreatedAt, job.RunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel(job.Queue), job.ID.String()); err != nil {
		return fmt.Errorf("failed to notify workers: %w", err)
	}
	return nil
}

// EnqueueWithPriority adds a job with specific priority
func (q *Queue) EnqueueWithPriority(ctx context.Context, job *Job, priority JobPriority) error {
	job.Priority = priority
	return q.Enqueue(ctx, job)
}

// Schedule adds a job to be executed at a specific time
func (q *Queue) Schedule(ctx context.Context, job *Job, runAt time.Time) error {
	job.RunAt = runAt
	return q.Enqueue(ctx, job)
}

// Dequeue locks the next runnable job of queueName for workerID and counts
// the attempt. Highest priority first, then oldest. Returns ErrNoJobs when
// nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, workerID string, queueName string) (*Job, error) {
	now := q.now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1, locked_by = $2, locked_at = $3, started_at = $3, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $4
				AND queue = $5
				AND run_at <= $3
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		JobStatusRunning, workerID, now, JobStatusPending, queueName,
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobs
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return job, nil
}

func (q *Queue) execOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if err := store.ExpectOneRow(result); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrJobNotFound
		}
		return err
	}
	return nil
}

// Complete marks a job as successfully completed
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID) error {
	err := q.execOne(ctx, `
		UPDATE jobs
		SET status = $1, completed_at = $2, error = NULL, locked_by = NULL, locked_at = NULL
		WHERE id = $3`,
		JobStatusCompleted, q.now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail marks a job as permanently failed with an error message
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	err := q.execOne(ctx, `
		UPDATE jobs
		SET status = $1, error = $2, completed_at = $3, locked_by = NULL, locked_at = NULL
		WHERE id = $4`,
		JobStatusFailed, errMsg, q.now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	return nil
}

// Retry returns a job to pending after the backoff for its attempt count.
// Returns ErrRetriesExhausted when the job has no attempts left.
func (q *Queue) Retry(ctx context.Context, job *Job, errMsg string) (time.Time, error) {
	if !job.IsRetryable() {
		return time.Time{}, ErrRetriesExhausted
	}

	runAt := q.now().Add(q.backoff.Delay(job.Attempts))
	err := q.execOne(ctx, `
		UPDATE jobs
		SET status = $1, run_at = $2, error = $3, locked_by = NULL, locked_at = NULL
		WHERE id = $4 AND attempts < max_attempts`,
		JobStatusPending, runAt, errMsg, job.ID,
	)
	if errors.Is(err, ErrJobNotFound) {
		return time.Time{}, ErrRetriesExhausted
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to retry job %s: %w", job.ID, err)
	}
	return runAt, nil
}

// Reschedule returns a running job to pending at runAt and refunds the
// attempt Dequeue counted
func (q *Queue) Reschedule(ctx context.Context, jobID uuid.UUID, runAt time.Time) error {
	err := q.execOne(ctx, `
		UPDATE jobs
		SET status = $1, run_at = $2, attempts = GREATEST(attempts - 1, 0),
			locked_by = NULL, locked_at = NULL
		WHERE id = $3 AND status = $4`,
		JobStatusPending, runAt, jobID, JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", jobID, err)
	}
	return nil
}

// Cancel cancels a pending or running job
func (q *Queue) Cancel(ctx context.Context, jobID uuid.UUID) error {
	err := q.execOne(ctx, `
		UPDATE jobs
		SET status = $1, completed_at = $2, locked_by = NULL, locked_at = NULL
		WHERE id = $3 AND status IN ($4, $5)`,
		JobStatusCancelled, q.now(), jobID, JobStatusPending, JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return nil
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Queue  string
	Status JobStatus
	Type   string
	Limit  int
}

// List retrieves jobs matching filter, most urgent first
func (q *Queue) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE ($1 = '' OR queue = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR type = $3)
		ORDER BY priority DESC, created_at ASC
		LIMIT $4`,
		filter.Queue, string(filter.Status), filter.Type, filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// PurgeCompleted removes completed and cancelled jobs finished before olderThan ago
func (q *Queue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ($1, $2) AND completed_at < $3`,
		JobStatusCompleted, JobStatusCancelled, q.now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	return result.RowsAffected()
}

// RequeueStale returns running jobs locked longer than lockTimeout to
// pending. Their attempt stays counted, so stale jobs that already used
// their last attempt are failed instead.
func (q *Queue) RequeueStale(ctx context.Context, lockTimeout time.Duration) (requeued, failed int64, err error) {
	now := q.now()
	cutoff := now.Add(-lockTimeout)

	result, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, error = $2, completed_at = $3, locked_by = NULL, locked_at = NULL
		WHERE status = $4 AND locked_at < $5 AND attempts >= max_attempts`,
		JobStatusFailed, "lock timeout exceeded on final attempt", now, JobStatusRunning, cutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fail stale jobs: %w", err)
	}
	if failed, err = result.RowsAffected(); err != nil {
		return 0, 0, err
	}

	result, err = q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, locked_by = NULL, locked_at = NULL
		WHERE status = $2 AND locked_at < $3 AND attempts < max_attempts`,
		JobStatusPending, JobStatusRunning, cutoff,
	)
	if err != nil {
		return 0, failed, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	if requeued, err = result.RowsAffected(); err != nil {
		return 0, failed, err
	}
	return requeued, failed, nil
}

// QueueStats holds statistics for a job queue
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// Stats returns job counts by status for every queue that has jobs
func (q *Queue) Stats(ctx context.Context) ([]QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT queue,
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled')
		FROM jobs
		GROUP BY queue
		ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	var stats []QueueStats
	for rows.Next() {
		var s QueueStats
		if err := rows.Scan(&s.Queue, &s.Pending, &s.Running, &s.Completed, &s.Failed, &s.Cancelled); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

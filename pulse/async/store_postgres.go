package async

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teranos/pulseq/errors"
)

// PostgresStore is the pgx job store. Concurrent claimers skip each
// other's locked rows instead of waiting on them.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a job store on a migrated pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) *PostgresStore {
	o := applyStoreOptions(opts)
	return &PostgresStore{pool: pool, now: o.now}
}

// Save inserts a new job and returns it with the generated ID
func (s *PostgresStore) Save(ctx context.Context, job *Job) (*Job, error) {
	query := `
		INSERT INTO queue_jobs (
			queue, job_type, payload, status,
			attempts, max_attempts, error,
			available_at, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		job.Queue,
		job.JobType,
		string(job.Payload),
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		nullableText(job.Error),
		job.AvailableAt.UTC(),
		job.CreatedAt.UTC(),
		job.CompletedAt,
	).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save job")
	}

	saved := *job
	saved.ID = id
	return &saved, nil
}

// Update writes the mutable fields of a job
func (s *PostgresStore) Update(ctx context.Context, job *Job) error {
	query := `
		UPDATE queue_jobs
		SET status = $1,
		    attempts = $2,
		    error = $3,
		    completed_at = $4
		WHERE id = $5
	`

	_, err := s.pool.Exec(ctx, query,
		string(job.Status),
		job.Attempts,
		nullableText(job.Error),
		job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	return nil
}

// ClaimNext locks the oldest available pending job with FOR UPDATE SKIP
// LOCKED and moves it to processing in the same transaction.
func (s *PostgresStore) ClaimNext(ctx context.Context, queue string) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pick := `
		SELECT id FROM queue_jobs
		WHERE queue = $1
		  AND status = 'pending'
		  AND available_at <= $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id int64
	err = tx.QueryRow(ctx, pick, queue, s.now().UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		err = errors.Wrap(err, "failed to claim job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Queue: %s", queue))
	}

	claim := `
		UPDATE queue_jobs
		SET status = 'processing',
		    attempts = attempts + 1
		WHERE id = $1
		RETURNING ` + jobSelectColumns

	job, err := scanJob(tx.QueryRow(ctx, claim, id))
	if err != nil {
		err = errors.Wrap(err, "failed to mark job as processing")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %d", id))
	}

	// The row is ours; a shutdown arriving now must not leave the commit
	// outcome unknown to us.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		err = errors.Wrap(err, "failed to commit claim")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %d", id))
	}

	return job, nil
}

// FindFailed returns all failed jobs, oldest first
func (s *PostgresStore) FindFailed(ctx context.Context) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM queue_jobs
		WHERE status = 'failed'
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find failed jobs")
	}
	return collectJobs(rows, "failed jobs")
}

// CountByStatus returns the number of jobs with status
func (s *PostgresStore) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_jobs WHERE status = $1`, string(status)).Scan(&count)
	if err != nil {
		err = errors.Wrap(err, "failed to count jobs")
		return 0, errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
	}
	return count, nil
}

// CountPending returns the number of pending jobs across all queues
func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	return s.CountByStatus(ctx, JobStatusPending)
}

// GetJob retrieves a job by ID
func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM queue_jobs WHERE id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *PostgresStore) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	var (
		rows pgx.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM queue_jobs`
	if status != nil {
		rows, err = s.pool.Query(ctx, baseQuery+` WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, string(*status), limit)
	} else {
		rows, err = s.pool.Query(ctx, baseQuery+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	return collectJobs(rows, "jobs")
}

// CleanupOldJobs removes completed/failed jobs older than the specified duration
func (s *PostgresStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC()

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM queue_jobs
		WHERE status IN ('completed', 'failed')
		  AND COALESCE(completed_at, created_at) < $1
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	return int(tag.RowsAffected()), nil
}

// collectJobs scans and closes rows.
func collectJobs(rows pgx.Rows, what string) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", what)
	}
	return jobs, nil
}

package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/pulseq/errors"
)

// SQLiteStore is the database/sql job store used with go-sqlite3.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a job store on an open, migrated database.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) *SQLiteStore {
	o := applyStoreOptions(opts)
	return &SQLiteStore{db: db, now: o.now}
}

// Save inserts a new job into the database
func (s *SQLiteStore) Save(ctx context.Context, job *Job) (*Job, error) {
	query := `
		INSERT INTO queue_jobs (
			queue, job_type, payload, status,
			attempts, max_attempts, error,
			available_at, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
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
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save job")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read job id")
	}

	saved := *job
	saved.ID = id
	return &saved, nil
}

// Update writes the mutable fields of a job
func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	query := `
		UPDATE queue_jobs
		SET status = ?,
		    attempts = ?,
		    error = ?,
		    completed_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
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

// ClaimNext atomically claims the oldest available pending job in queue.
//
// The UPDATE re-checks status = 'pending' on the row picked by the subquery,
// and the transaction is opened with BEGIN IMMEDIATE (see db.Open), so
// SQLite's single writer lock serialises claimers.
func (s *SQLiteStore) ClaimNext(ctx context.Context, queue string) (*Job, error) {
	// Only the claim statement observes ctx. Once it has taken a row the
	// transaction must finish, or a shutdown could strand the job in processing.
	settled := context.WithoutCancel(ctx)

	tx, err := s.db.BeginTx(settled, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	claim := `
		UPDATE queue_jobs
		SET status = 'processing',
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue = ?
			  AND status = 'pending'
			  AND available_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		  AND status = 'pending'
		RETURNING id
	`

	var id int64
	err = tx.QueryRowContext(ctx, claim, queue, s.now().UTC()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		err = errors.Wrap(err, "failed to claim job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Queue: %s", queue))
	}

	job, err := scanJob(tx.QueryRowContext(settled, `SELECT `+jobSelectColumns+` FROM queue_jobs WHERE id = ?`, id))
	if err != nil {
		err = errors.Wrap(err, "failed to read claimed job")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %d", id))
	}

	if err := tx.Commit(); err != nil {
		err = errors.Wrap(err, "failed to commit claim")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job ID: %d", id))
	}

	return job, nil
}

// FindFailed returns all failed jobs, oldest first
func (s *SQLiteStore) FindFailed(ctx context.Context) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM queue_jobs
		WHERE status = 'failed'
		ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find failed jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "failed jobs")
}

// CountByStatus returns the number of jobs with status
func (s *SQLiteStore) CountByStatus(ctx context.Context, status JobStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_jobs WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		err = errors.Wrap(err, "failed to count jobs")
		return 0, errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
	}
	return count, nil
}

// CountPending returns the number of pending jobs across all queues
func (s *SQLiteStore) CountPending(ctx context.Context) (int, error) {
	return s.CountByStatus(ctx, JobStatusPending)
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM queue_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *SQLiteStore) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []any

	baseQuery := `SELECT ` + jobSelectColumns + ` FROM queue_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{string(*status), limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// CleanupOldJobs removes completed/failed jobs older than the specified duration.
// Failed jobs have no completion time, so their creation time is used.
func (s *SQLiteStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).UTC()

	query := `
		DELETE FROM queue_jobs
		WHERE status IN ('completed', 'failed')
		  AND COALESCE(completed_at, created_at) < ?
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// scanJobs scans every row into a job.
func scanJobs(rows *sql.Rows, what string) ([]*Job, error) {
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

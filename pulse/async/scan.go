package async

import (
	"time"

	"github.com/teranos/pulseq/errors"
)

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row, so both
// backends share one column order and one scan path.
type rowScanner interface {
	Scan(dest ...any) error
}

// jobScanArgs holds the nullable and converted columns of a job row.
type jobScanArgs struct {
	Status      string
	Payload     string
	ErrorMsg    *string
	CompletedAt *time.Time
}

// jobScanTargets returns scan destinations in the order of jobSelectColumns.
func jobScanTargets(job *Job, args *jobScanArgs) []any {
	return []any{
		&job.ID,
		&job.Queue,
		&job.JobType,
		&args.Payload,
		&args.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&args.ErrorMsg,
		&job.AvailableAt,
		&job.CreatedAt,
		&args.CompletedAt,
	}
}

// applyJobScanArgs copies the converted columns onto job and normalises
// timestamps to UTC.
func applyJobScanArgs(job *Job, args *jobScanArgs) error {
	if !IsValidStatus(args.Status) {
		return errors.Newf("job %d has unknown status %q", job.ID, args.Status)
	}
	job.Status = JobStatus(args.Status)
	job.Payload = []byte(args.Payload)

	if args.ErrorMsg != nil {
		job.Error = *args.ErrorMsg
	}
	if args.CompletedAt != nil {
		completed := args.CompletedAt.UTC()
		job.CompletedAt = &completed
	}
	job.AvailableAt = job.AvailableAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	return nil
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(&job, args)...); err != nil {
		return nil, err
	}
	if err := applyJobScanArgs(&job, args); err != nil {
		return nil, err
	}
	return &job, nil
}

// jobSelectColumns is the standard column list for job SELECT queries
const jobSelectColumns = `id, queue, job_type, payload, status,
		attempts, max_attempts, error,
		available_at, created_at, completed_at`

// nullableText maps "" to SQL NULL.
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

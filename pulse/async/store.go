package async

import (
	"context"
	"time"
)

// Store persists jobs. Implementations must make ClaimNext atomic: two
// concurrent callers never receive the same job.
type Store interface {
	// Save persists a new job and returns it with ID set.
	Save(ctx context.Context, job *Job) (*Job, error)

	// Update writes status, attempts, error and completed_at by ID.
	// Updating an ID that does not exist is not an error.
	Update(ctx context.Context, job *Job) error

	// ClaimNext moves the oldest available pending job in queue to
	// processing, increments its attempts and returns it.
	// Returns nil, nil when nothing is claimable.
	ClaimNext(ctx context.Context, queue string) (*Job, error)

	// FindFailed returns every failed job, oldest first.
	FindFailed(ctx context.Context) ([]*Job, error)

	CountByStatus(ctx context.Context, status JobStatus) (int, error)
	CountPending(ctx context.Context) (int, error)

	// GetJob returns errors.ErrNotFound when id does not exist.
	GetJob(ctx context.Context, id int64) (*Job, error)

	// ListJobs returns jobs newest first, optionally filtered by status.
	ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error)

	// CleanupOldJobs removes completed/failed jobs that finished before
	// now-olderThan and returns how many were removed.
	CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error)
}

// StoreOption configures a store backend.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithStoreClock overrides the time source used for claim visibility and cleanup.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		o.now = now
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

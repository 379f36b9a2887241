package async

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pulseq/errors"
)

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	t.Run("pending with zero attempts", func(t *testing.T) {
		job, err := NewJob("email", "mail.send", json.RawMessage(`{"to":"ada@example.com"}`), 3, now, now)
		require.NoError(t, err)

		assert.Zero(t, job.ID, "ID is assigned by the store")
		assert.Equal(t, "email", job.Queue)
		assert.Equal(t, "mail.send", job.JobType)
		assert.Equal(t, JobStatusPending, job.Status)
		assert.Equal(t, 0, job.Attempts)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.Empty(t, job.Error)
		assert.Nil(t, job.CompletedAt)
		assert.Equal(t, time.UTC, job.CreatedAt.Location())
		assert.True(t, job.CreatedAt.Equal(now))
	})

	t.Run("empty queue means default", func(t *testing.T) {
		job, err := NewJob("", "mail.send", nil, 1, now, now)
		require.NoError(t, err)
		assert.Equal(t, DefaultQueue, job.Queue)
		assert.Equal(t, json.RawMessage("null"), job.Payload)
	})

	t.Run("delayed availability", func(t *testing.T) {
		later := now.Add(time.Hour)
		job, err := NewJob("", "mail.send", nil, 1, now, later)
		require.NoError(t, err)
		assert.True(t, job.AvailableAt.Equal(later))
	})

	t.Run("job type is required", func(t *testing.T) {
		_, err := NewJob("default", "", nil, 3, now, now)
		assert.Error(t, err)
	})

	t.Run("at least one attempt", func(t *testing.T) {
		_, err := NewJob("default", "mail.send", nil, 0, now, now)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequestError(err))
	})
}

func TestJobLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	job, err := NewJob("default", "mail.send", nil, 2, now, now)
	require.NoError(t, err)

	// First attempt fails and is retried
	job.Status = JobStatusProcessing
	job.Attempts = 1
	require.True(t, job.CanRetry())
	job.Retry(errors.New("smtp timeout"))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, "smtp timeout", job.Error)
	assert.False(t, job.IsTerminal())

	// Second attempt exhausts the budget
	job.Status = JobStatusProcessing
	job.Attempts = 2
	require.False(t, job.CanRetry())
	job.Fail(errors.New("smtp refused"))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "smtp refused", job.Error)
	assert.True(t, job.IsTerminal())

	// Operator retries
	job.ResetForRetry()
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Empty(t, job.Error)
	assert.True(t, job.CanRetry())

	// And it finally goes through
	job.Attempts = 1
	job.Complete(now.Add(time.Minute))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, now.Add(time.Minute), *job.CompletedAt)
	assert.True(t, job.IsTerminal())
}

func TestJob_NilErrorStillRecordsMessage(t *testing.T) {
	job := &Job{Status: JobStatusProcessing, Attempts: 1, MaxAttempts: 1}
	job.Fail(nil)
	assert.Equal(t, "unknown error", job.Error)
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("done")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.False(t, IsValidStatus("PENDING"), "statuses are case sensitive")
}

package async

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/pulseq/errors"
	pulseqtest "github.com/teranos/pulseq/internal/testing"
)

// backend builds a fresh, empty store driven by clock.
type backend struct {
	name string
	open func(t *testing.T, clock *fakeClock) Store
}

// backends lists every Store implementation. Postgres runs only when
// PULSEQ_TEST_POSTGRES_URL is set.
func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T, clock *fakeClock) Store {
			return NewSQLiteStore(pulseqtest.CreateTestDB(t), WithStoreClock(clock.Now))
		}},
		{"postgres", func(t *testing.T, clock *fakeClock) Store {
			return NewPostgresStore(pulseqtest.CreateTestPostgres(t), WithStoreClock(clock.Now))
		}},
	}
}

// forEachBackend runs fn once per backend as a subtest.
func forEachBackend(t *testing.T, fn func(t *testing.T, store Store, clock *fakeClock)) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			fn(t, b.open(t, clock), clock)
		})
	}
}

// saveJob persists a pending job created at createdAt and available immediately.
func saveJob(t *testing.T, store Store, queue string, createdAt time.Time) *Job {
	t.Helper()
	job, err := NewJob(queue, "test.greet", json.RawMessage(`{"name":"ada"}`), 3, createdAt, createdAt)
	require.NoError(t, err)
	saved, err := store.Save(context.Background(), job)
	require.NoError(t, err)
	return saved
}

func TestStore_SaveAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		saved := saveJob(t, store, "email", clock.Now())

		assert.NotZero(t, saved.ID, "store assigns the ID")

		got, err := store.GetJob(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "email", got.Queue)
		assert.Equal(t, "test.greet", got.JobType)
		assert.JSONEq(t, `{"name":"ada"}`, string(got.Payload))
		assert.Equal(t, JobStatusPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.Equal(t, 3, got.MaxAttempts)
		assert.Empty(t, got.Error)
		assert.Nil(t, got.CompletedAt)
		assert.WithinDuration(t, clock.Now(), got.CreatedAt, time.Millisecond)
		assert.WithinDuration(t, clock.Now(), got.AvailableAt, time.Millisecond)
		assert.Equal(t, time.UTC, got.CreatedAt.Location())
	})
}

func TestStore_GetJobNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		_, err := store.GetJob(context.Background(), 424242)
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestStore_ClaimNext(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
			job, err := store.ClaimNext(context.Background(), "default")
			require.NoError(t, err)
			assert.Nil(t, job)
		})
	})

	t.Run("claims oldest first and marks processing", func(t *testing.T) {
		forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
			ctx := context.Background()
			base := clock.Now().Add(-time.Hour)
			newest := saveJob(t, store, "default", base.Add(2*time.Minute))
			oldest := saveJob(t, store, "default", base)
			middle := saveJob(t, store, "default", base.Add(time.Minute))

			var order []int64
			for range 3 {
				job, err := store.ClaimNext(ctx, "default")
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, JobStatusProcessing, job.Status)
				assert.Equal(t, 1, job.Attempts, "claim increments attempts")
				order = append(order, job.ID)
			}
			assert.Equal(t, []int64{oldest.ID, middle.ID, newest.ID}, order)

			job, err := store.ClaimNext(ctx, "default")
			require.NoError(t, err)
			assert.Nil(t, job, "nothing left to claim")
		})
	})

	t.Run("ties on created_at break by id", func(t *testing.T) {
		forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
			at := clock.Now().Add(-time.Minute)
			first := saveJob(t, store, "default", at)
			saveJob(t, store, "default", at)

			job, err := store.ClaimNext(context.Background(), "default")
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, first.ID, job.ID)
		})
	})

	t.Run("future available_at is not claimed until due", func(t *testing.T) {
		forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
			ctx := context.Background()
			job, err := NewJob("default", "test.greet", json.RawMessage(`{}`), 3, clock.Now(), clock.Now().Add(10*time.Minute))
			require.NoError(t, err)
			_, err = store.Save(ctx, job)
			require.NoError(t, err)

			claimed, err := store.ClaimNext(ctx, "default")
			require.NoError(t, err)
			assert.Nil(t, claimed, "job is not yet available")

			clock.Advance(10 * time.Minute)
			claimed, err = store.ClaimNext(ctx, "default")
			require.NoError(t, err)
			assert.NotNil(t, claimed, "job is claimable once available_at <= now")
		})
	})

	t.Run("other queues are never claimed", func(t *testing.T) {
		forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
			ctx := context.Background()
			saveJob(t, store, "email", clock.Now())

			job, err := store.ClaimNext(ctx, "default")
			require.NoError(t, err)
			assert.Nil(t, job)

			job, err = store.ClaimNext(ctx, "email")
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, "email", job.Queue)
		})
	})
}

func TestStore_ConcurrentClaimsAreExclusive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		const jobs = 24
		const claimers = 8
		ctx := context.Background()

		for i := range jobs {
			saveJob(t, store, "default", clock.Now().Add(time.Duration(i)*time.Millisecond))
		}
		clock.Advance(time.Second)

		var mu sync.Mutex
		claimed := make(map[int64]int)

		g, gctx := errgroup.WithContext(ctx)
		for range claimers {
			g.Go(func() error {
				for {
					job, err := store.ClaimNext(gctx, "default")
					if err != nil {
						return err
					}
					if job == nil {
						return nil
					}
					mu.Lock()
					claimed[job.ID]++
					mu.Unlock()
				}
			})
		}
		require.NoError(t, g.Wait())

		assert.Len(t, claimed, jobs, "every job claimed")
		for id, n := range claimed {
			assert.Equal(t, 1, n, "job %d claimed %d times", id, n)
		}

		pending, err := store.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, pending)

		processing, err := store.CountByStatus(ctx, JobStatusProcessing)
		require.NoError(t, err)
		assert.Equal(t, jobs, processing)
	})
}

func TestStore_Update(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		saveJob(t, store, "default", clock.Now())

		job, err := store.ClaimNext(ctx, "default")
		require.NoError(t, err)
		require.NotNil(t, job)

		job.Complete(clock.Now())
		require.NoError(t, store.Update(ctx, job))
		require.NoError(t, store.Update(ctx, job), "update is idempotent")

		got, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, JobStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		assert.WithinDuration(t, clock.Now(), *got.CompletedAt, time.Millisecond)

		ghost := &Job{ID: 999999, Status: JobStatusFailed, Error: "gone"}
		assert.NoError(t, store.Update(ctx, ghost), "unknown id is not an error")
	})
}

func TestStore_FindFailedAndCounts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		base := clock.Now().Add(-time.Hour)

		var failedIDs []int64
		for i := range 4 {
			job := saveJob(t, store, "default", base.Add(time.Duration(i)*time.Minute))
			if i%2 == 0 {
				continue
			}
			job.Fail(fmt.Errorf("boom %d", i))
			require.NoError(t, store.Update(ctx, job))
			failedIDs = append(failedIDs, job.ID)
		}

		failed, err := store.FindFailed(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, failedIDs[0], failed[0].ID, "oldest first")
		assert.Equal(t, "boom 1", failed[0].Error)

		pending, err := store.CountPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, pending)

		nFailed, err := store.CountByStatus(ctx, JobStatusFailed)
		require.NoError(t, err)
		assert.Equal(t, 2, nFailed)
	})
}

func TestStore_ListJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		base := clock.Now().Add(-time.Hour)
		first := saveJob(t, store, "default", base)
		second := saveJob(t, store, "default", base.Add(time.Minute))
		third := saveJob(t, store, "email", base.Add(2*time.Minute))

		second.Fail(errors.New("nope"))
		require.NoError(t, store.Update(ctx, second))

		all, err := store.ListJobs(ctx, nil, 10)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []int64{third.ID, second.ID, first.ID}, []int64{all[0].ID, all[1].ID, all[2].ID}, "newest first")

		limited, err := store.ListJobs(ctx, nil, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		status := JobStatusFailed
		failed, err := store.ListJobs(ctx, &status, 10)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, second.ID, failed[0].ID)
	})
}

func TestStore_CleanupOldJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		old := clock.Now().Add(-48 * time.Hour)

		done := saveJob(t, store, "default", old)
		done.Complete(old)
		require.NoError(t, store.Update(ctx, done))

		dead := saveJob(t, store, "default", old)
		dead.Fail(errors.New("boom"))
		require.NoError(t, store.Update(ctx, dead))

		waiting := saveJob(t, store, "default", old)

		recent := saveJob(t, store, "default", clock.Now())
		recent.Complete(clock.Now())
		require.NoError(t, store.Update(ctx, recent))

		removed, err := store.CleanupOldJobs(ctx, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		_, err = store.GetJob(ctx, done.ID)
		assert.True(t, errors.IsNotFoundError(err))
		_, err = store.GetJob(ctx, waiting.ID)
		assert.NoError(t, err, "pending jobs are never pruned")
		_, err = store.GetJob(ctx, recent.ID)
		assert.NoError(t, err)
	})
}

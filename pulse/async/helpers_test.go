package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pulseq/errors"
	pulseqtest "github.com/teranos/pulseq/internal/testing"
)

// fakeClock is a settable time source shared by stores and services in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// greeting is the well-behaved unit of work used across tests.
type greeting struct {
	Name      string `json:"name"`
	QueueName string `json:"queue_name,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

func (g greeting) Queue() string    { return g.QueueName }
func (g greeting) JobType() string  { return "test.greet" }
func (g greeting) MaxAttempts() int { return g.Attempts }

// firework always fails with its Message.
type firework struct {
	Message  string `json:"message"`
	Attempts int    `json:"attempts,omitempty"`
}

func (f firework) Queue() string    { return "" }
func (f firework) JobType() string  { return "test.firework" }
func (f firework) MaxAttempts() int { return f.Attempts }

// stray has no registered handler.
type stray struct{}

func (stray) Queue() string    { return "" }
func (stray) JobType() string  { return "test.stray" }
func (stray) MaxAttempts() int { return 0 }

// testQueue bundles a migrated SQLite store, a service and the greetings it handled.
type testQueue struct {
	store   *SQLiteStore
	service *Service
	clock   *fakeClock

	mu     sync.Mutex
	greets []string
}

func newTestQueue(t *testing.T, opts ...ServiceOption) *testQueue {
	t.Helper()

	tq := &testQueue{clock: newFakeClock()}
	tq.store = NewSQLiteStore(pulseqtest.CreateTestDB(t), WithStoreClock(tq.clock.Now))

	registry := NewHandlerRegistry()
	Register(registry, "test.greet", func(ctx context.Context, g greeting, ec *ExecContext) error {
		tq.mu.Lock()
		defer tq.mu.Unlock()
		tq.greets = append(tq.greets, g.Name)
		return nil
	})
	Register(registry, "test.firework", func(ctx context.Context, f firework, ec *ExecContext) error {
		return errors.New(f.Message)
	})

	opts = append([]ServiceOption{WithClock(tq.clock.Now)}, opts...)
	tq.service = NewService(tq.store, registry, zaptest.NewLogger(t).Sugar(), opts...)
	return tq
}

func (tq *testQueue) greeted() []string {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return append([]string(nil), tq.greets...)
}

// dispatch enqueues unit and fails the test on error.
func (tq *testQueue) dispatch(t *testing.T, unit Unit) *Job {
	t.Helper()
	job, err := tq.service.Dispatch(context.Background(), unit)
	require.NoError(t, err)
	return job
}

// reload reads the current persisted state of job.
func (tq *testQueue) reload(t *testing.T, job *Job) *Job {
	t.Helper()
	fresh, err := tq.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	return fresh
}

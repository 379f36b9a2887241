package async

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/logger"
	"github.com/teranos/pulseq/sym"
)

const (
	// DefaultMaxAttempts applies when neither the unit nor the service sets one
	DefaultMaxAttempts = 3
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// ErrUnknownJobType is recorded on jobs whose type has no registered handler.
var ErrUnknownJobType = errors.New("unknown job type")

// Processor processes at most one job per call. Service implements it;
// Worker depends only on this.
type Processor interface {
	ProcessNext(ctx context.Context, queue string) (bool, error)
}

// Service is the producer and consumer facade over a Store.
type Service struct {
	store    Store
	registry *HandlerRegistry
	logger   *zap.SugaredLogger
	metrics  *Metrics
	now      func() time.Time

	defaultMaxAttempts int

	mu          sync.RWMutex
	subscribers []chan *Job // Channels notified of job state changes
}

var (
	_ Processor  = (*Service)(nil)
	_ Dispatcher = (*Service)(nil)
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records dispatch and processing metrics on m.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithDefaultMaxAttempts sets the attempt budget for units that do not choose one.
func WithDefaultMaxAttempts(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.defaultMaxAttempts = n
		}
	}
}

// NewService creates a queue service
func NewService(store Store, registry *HandlerRegistry, log *zap.SugaredLogger, opts ...ServiceOption) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		store:              store,
		registry:           registry,
		logger:             log.Named("pulse"),
		now:                time.Now,
		defaultMaxAttempts: DefaultMaxAttempts,
		subscribers:        make([]chan *Job, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch enqueues unit for immediate processing.
func (s *Service) Dispatch(ctx context.Context, unit Unit) (*Job, error) {
	return s.DispatchAt(ctx, unit, s.now())
}

// DispatchAt enqueues unit so that it becomes claimable at availableAt.
func (s *Service) DispatchAt(ctx context.Context, unit Unit, availableAt time.Time) (*Job, error) {
	payload, err := json.Marshal(unit)
	if err != nil {
		err = errors.Wrap(err, "failed to encode job payload")
		return nil, errors.WithDetail(err, fmt.Sprintf("Job type: %s", unit.JobType()))
	}

	maxAttempts := unit.MaxAttempts()
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	job, err := NewJob(unit.Queue(), unit.JobType(), payload, maxAttempts, s.now(), availableAt)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.Save(ctx, job)
	if err != nil {
		err = errors.Wrap(err, "failed to dispatch job")
		err = errors.WithDetail(err, fmt.Sprintf("Queue: %s", job.Queue))
		err = errors.WithDetail(err, fmt.Sprintf("Job type: %s", job.JobType))
		return nil, err
	}

	s.metrics.dispatched(saved)
	s.logger.Debugw(sym.Pulse+" Job dispatched",
		logger.FieldJobID, saved.ID,
		logger.FieldQueue, saved.Queue,
		logger.FieldJobType, saved.JobType,
		logger.FieldMaxAttempts, saved.MaxAttempts,
	)
	s.notifySubscribers(saved)

	return saved, nil
}

// ProcessNext claims and runs at most one job from queue.
// It returns false when nothing was claimable. Handler failures are
// recorded on the job; only store failures are returned.
func (s *Service) ProcessNext(ctx context.Context, queue string) (bool, error) {
	job, err := s.store.ClaimNext(ctx, queue)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	jobLog := s.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldQueue, job.Queue,
		logger.FieldJobType, job.JobType,
		logger.FieldAttempts, job.Attempts,
		logger.FieldMaxAttempts, job.MaxAttempts,
	)

	// A stop request must not abandon an attempt that has already been claimed
	runCtx := context.WithoutCancel(ctx)

	handler, ok := s.registry.Resolve(job.JobType)
	if !ok {
		job.Fail(errors.Newf("%w: %s", ErrUnknownJobType, job.JobType))
		jobLog.Errorw(sym.Pulse+" Queue job failed permanently: "+job.JobType,
			logger.FieldError, job.Error,
		)
		s.metrics.processed(job, OutcomeUnknownType)
		return true, s.record(runCtx, job)
	}

	start := time.Now()
	execErr := s.execute(runCtx, handler, job, jobLog)
	elapsed := time.Since(start)
	s.metrics.observe(job, elapsed)

	switch {
	case execErr == nil:
		job.Complete(s.now())
		jobLog.Infow(sym.Pulse+" Queue job completed: "+job.JobType,
			logger.FieldDurationMS, elapsed.Milliseconds(),
		)
		s.metrics.processed(job, OutcomeCompleted)

	case job.CanRetry():
		job.Retry(execErr)
		jobLog.Warnw(sym.Pulse+" Queue job failed, will retry: "+job.JobType,
			logger.FieldError, job.Error,
		)
		s.metrics.processed(job, OutcomeRetried)

	default:
		job.Fail(execErr)
		jobLog.Errorw(sym.Pulse+" Queue job failed permanently: "+job.JobType,
			logger.FieldError, job.Error,
		)
		s.metrics.processed(job, OutcomeFailed)
	}

	return true, s.record(runCtx, job)
}

// execute decodes and runs one attempt, converting panics into errors.
func (s *Service) execute(ctx context.Context, handler Handler, job *Job, jobLog *zap.SugaredLogger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()

	payload, err := handler.Decode(job.Payload)
	if err != nil {
		return err
	}

	ec := &ExecContext{
		JobID:       job.ID,
		Queue:       job.Queue,
		JobType:     job.JobType,
		Attempt:     job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Logger:      jobLog,
		Dispatcher:  s,
	}
	return handler.Execute(ctx, payload, ec)
}

// record persists the outcome of an attempt.
func (s *Service) record(ctx context.Context, job *Job) error {
	if err := s.store.Update(ctx, job); err != nil {
		err = errors.Wrap(err, "failed to record job outcome")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %d", job.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Status: %s", job.Status))
		return err
	}
	s.notifySubscribers(job)
	return nil
}

// RetryFailed resets every failed job to pending with a fresh attempt budget
// and returns how many were reset.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	failed, err := s.store.FindFailed(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find failed jobs")
	}

	if len(failed) > 0 {
		s.logger.Infow(fmt.Sprintf("%s Retrying %d failed job(s)", sym.Pulse, len(failed)),
			logger.FieldCount, len(failed),
		)
	}

	for i, job := range failed {
		job.ResetForRetry()
		if err := s.store.Update(ctx, job); err != nil {
			s.metrics.reset(i)
			err = errors.Wrap(err, "failed to reset job")
			err = errors.WithDetail(err, fmt.Sprintf("Job ID: %d", job.ID))
			return i, err
		}
		s.notifySubscribers(job)
	}

	s.metrics.reset(len(failed))
	return len(failed), nil
}

// CountPending returns the number of pending jobs across all queues
func (s *Service) CountPending(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Stats returns job counts by status
func (s *Service) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{}

	for _, status := range AllStatuses {
		count, err := s.store.CountByStatus(ctx, status)
		if err != nil {
			err = errors.Wrapf(err, "failed to count %s jobs", status)
			return nil, errors.WithDetail(err, fmt.Sprintf("Status: %s", status))
		}

		switch status {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusProcessing:
			stats.Processing = count
		case JobStatusCompleted:
			stats.Completed = count
		case JobStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}

	return stats, nil
}

// Store returns the underlying store (listing and pruning from the CLI).
func (s *Service) Store() Store {
	return s.store
}

// Subscribe returns a channel that receives a copy of every job after a
// state change. The caller is responsible for calling Unsubscribe when done.
func (s *Service) Subscribe() chan *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed;
// callers close it themselves after unsubscribing if needed.
func (s *Service) Unsubscribe(ch chan *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot of job to every subscriber.
// Uses non-blocking send so a slow subscriber never stalls processing.
func (s *Service) notifySubscribers(job *Job) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		snapshot := *job
		select {
		case ch <- &snapshot:
		default:
			// Channel full, skip
		}
	}
}

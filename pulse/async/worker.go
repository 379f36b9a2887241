package async

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/logger"
	"github.com/teranos/pulseq/sym"
)

// DefaultSleep is the idle pause between polls that found nothing.
const DefaultSleep = 3 * time.Second

// WorkerState is what a worker is doing right now.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerPolling  WorkerState = "polling" // claiming or running a job
	WorkerSleeping WorkerState = "sleeping"
	WorkerStopped  WorkerState = "stopped"
)

// pulseLogger wraps zap.SugaredLogger with lifecycle methods.
// Both log at INFO so a worker's start and stop appear at the default level;
// the glyph tells them apart:
// - ✿ Opening operations
// - ❀ Closing operations
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow(sym.PulseClose+" "+msg, keysAndValues...)
}

// WorkerConfig contains configuration for a worker
type WorkerConfig struct {
	Queue string        `json:"queue"` // Queue to poll
	Sleep time.Duration `json:"sleep"` // Pause after an empty poll

	// MaxJobsPerMinute caps how often this worker polls (0 = unlimited)
	MaxJobsPerMinute int `json:"max_jobs_per_minute"`
}

// Worker polls one queue and processes jobs one at a time until its
// context is cancelled.
type Worker struct {
	id        string
	processor Processor
	config    WorkerConfig
	limiter   *rate.Limiter // nil when unlimited
	logger    pulseLogger
	state     atomic.Value // WorkerState
	processed atomic.Int64
}

// NewWorker creates a worker. Empty queue means "default"; a non-positive
// sleep means DefaultSleep.
func NewWorker(processor Processor, log *zap.SugaredLogger, cfg WorkerConfig) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultSleep
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	id := uuid.NewString()
	w := &Worker{
		id:        id,
		processor: processor,
		config:    cfg,
		logger: pulseLogger{log.Named("worker").With(
			logger.FieldWorkerID, id,
			logger.FieldQueue, cfg.Queue,
		)},
	}
	if cfg.MaxJobsPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(float64(cfg.MaxJobsPerMinute)/60.0), 1)
	}
	w.state.Store(WorkerIdle)
	return w
}

// ID returns the worker's unique ID
func (w *Worker) ID() string {
	return w.id
}

// State returns what the worker is currently doing
func (w *Worker) State() WorkerState {
	return w.state.Load().(WorkerState)
}

// Processed returns how many jobs this worker has handled
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Run processes jobs until ctx is cancelled or the store fails.
// Cancellation is only observed between jobs and during the idle sleep;
// an attempt in progress always finishes and is recorded first.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Starting("Worker started",
		logger.FieldSleep, w.config.Sleep.String(),
	)
	defer w.state.Store(WorkerStopped)

	for {
		if ctx.Err() != nil {
			break
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				break
			}
		}

		w.state.Store(WorkerPolling)
		processed, err := w.processor.ProcessNext(ctx, w.config.Queue)
		if err != nil {
			if ctx.Err() != nil && isCancellation(err) {
				// Claim interrupted by shutdown; nothing was taken
				break
			}
			w.logger.Errorw("Worker stopped on store error",
				logger.FieldError, err,
				logger.FieldCount, w.processed.Load(),
			)
			return err
		}

		if processed {
			w.processed.Add(1)
			continue
		}

		w.state.Store(WorkerSleeping)
		timer := time.NewTimer(w.config.Sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	w.logger.Closing("Worker stopped",
		logger.FieldCount, w.processed.Load(),
	)
	return nil
}

// isCancellation reports whether err is the context giving up rather than
// the store failing. A failed outcome write after shutdown is still fatal.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

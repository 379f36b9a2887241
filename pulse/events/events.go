// Package events relays job state changes from a queue service to an
// external publisher. Delivery is best effort: the database stays the
// source of truth, and an event that cannot be published is logged and
// dropped.
package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulseq/logger"
	"github.com/teranos/pulseq/pulse/async"
	"github.com/teranos/pulseq/sym"
)

// drainTimeout bounds publishing of buffered events after shutdown.
const drainTimeout = 2 * time.Second

// Event is the wire form of one job state change.
type Event struct {
	JobID       int64           `json:"job_id"`
	Queue       string          `json:"queue"`
	JobType     string          `json:"job_type"`
	Status      async.JobStatus `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	At          time.Time       `json:"at"`
}

// FromJob builds the event for job's current state.
func FromJob(job *async.Job, at time.Time) Event {
	return Event{
		JobID:       job.ID,
		Queue:       job.Queue,
		JobType:     job.JobType,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.Error,
		At:          at.UTC(),
	}
}

// RoutingKey is "<queue>.<status>", e.g. "email.failed".
func (e Event) RoutingKey() string {
	return e.Queue + "." + string(e.Status)
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Source is the subscription half of async.Service.
type Source interface {
	Subscribe() chan *async.Job
	Unsubscribe(ch chan *async.Job)
}

var _ Source = (*async.Service)(nil)

// Relay forwards every state change from src to pub until ctx is done.
// Events still buffered at shutdown get one last publish attempt.
func Relay(ctx context.Context, src Source, pub Publisher, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("events")

	updates := src.Subscribe()
	defer func() {
		src.Unsubscribe(updates)
		close(updates)
	}()

	log.Debugw(sym.PulseOpen + " Event relay started")
	sent := 0

	for {
		select {
		case job := <-updates:
			if publish(ctx, pub, job, log) {
				sent++
			}

		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case job := <-updates:
					if publish(drainCtx, pub, job, log) {
						sent++
					}
				default:
					log.Debugw(sym.PulseClose+" Event relay stopped", logger.FieldCount, sent)
					return nil
				}
			}
		}
	}
}

func publish(ctx context.Context, pub Publisher, job *async.Job, log *zap.SugaredLogger) bool {
	if err := pub.Publish(ctx, FromJob(job, time.Now())); err != nil {
		log.Warnw("Failed to publish job event",
			logger.FieldJobID, job.ID,
			logger.FieldStatus, job.Status,
			logger.FieldError, err,
		)
		return false
	}
	return true
}

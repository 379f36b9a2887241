package async

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/pulseq/errors"
)

// Unit is a unit of work that can be submitted to the queue.
// Its JSON encoding becomes the job payload.
type Unit interface {
	// Queue names the queue the job is placed on ("" means "default").
	Queue() string
	// JobType is the stable key the handler is registered under.
	JobType() string
	// MaxAttempts bounds execution attempts (<= 0 means the service default).
	MaxAttempts() int
}

// Dispatcher enqueues follow-up work from inside a handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, unit Unit) (*Job, error)
}

// ExecContext is everything a handler gets besides its payload.
// Application collaborators (mailers, clients) are captured by the handler
// closure at registration time.
type ExecContext struct {
	JobID       int64
	Queue       string
	JobType     string
	Attempt     int // 1-based; equals Job.Attempts after the claim
	MaxAttempts int

	// Logger is scoped to the job (job_id, queue, job_type fields).
	Logger *zap.SugaredLogger

	// Dispatcher lets a handler enqueue more jobs.
	Dispatcher Dispatcher
}

// IsFinalAttempt reports whether a failure now fails the job permanently.
func (ec *ExecContext) IsFinalAttempt() bool {
	return ec.Attempt >= ec.MaxAttempts
}

// Handler decodes and executes one job type.
// Build handlers with Register rather than implementing this directly.
type Handler interface {
	Decode(payload []byte) (any, error)
	Execute(ctx context.Context, payload any, ec *ExecContext) error
}

// HandlerFunc executes a decoded payload of type T.
type HandlerFunc[T any] func(ctx context.Context, payload T, ec *ExecContext) error

// typedHandler pairs a JSON decoder for T with its executor.
type typedHandler[T any] struct {
	jobType string
	fn      HandlerFunc[T]
}

// Decode unmarshals payload into a fresh T. Unknown fields are rejected so
// that payload drift between producer and worker fails loudly.
func (h typedHandler[T]) Decode(payload []byte) (any, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s payload", h.jobType)
	}
	return v, nil
}

func (h typedHandler[T]) Execute(ctx context.Context, payload any, ec *ExecContext) error {
	v, ok := payload.(T)
	if !ok {
		return errors.Newf("%s handler got payload of type %T", h.jobType, payload)
	}
	return h.fn(ctx, v, ec)
}

// HandlerRegistry maps stable job-type keys to handlers.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a typed handler for jobType.
// Panics if jobType is empty or already registered.
//
//	async.Register(registry, "mail.send", func(ctx context.Context, m SendEmail, ec *async.ExecContext) error {
//	    return sender.Send(ctx, m)
//	})
func Register[T any](r *HandlerRegistry, jobType string, fn func(ctx context.Context, payload T, ec *ExecContext) error) {
	if fn == nil {
		panic(fmt.Sprintf("nil handler func for job type: %s", jobType))
	}
	r.RegisterHandler(jobType, typedHandler[T]{jobType: jobType, fn: HandlerFunc[T](fn)})
}

// RegisterHandler adds a handler for jobType.
// Panics if jobType is empty or already registered.
func (r *HandlerRegistry) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" {
		panic("job type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("handler already registered for job type: %s", jobType))
	}
	r.handlers[jobType] = handler
}

// Resolve retrieves the handler for a job type.
func (r *HandlerRegistry) Resolve(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Has checks if a handler is registered for a job type.
func (r *HandlerRegistry) Has(jobType string) bool {
	_, ok := r.Resolve(jobType)
	return ok
}

// Names returns all registered job types, sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

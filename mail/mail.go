// Package mail is the queue's reference application: outgoing email is
// dispatched as "mail.send" jobs and delivered by a Sender on the worker.
package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/pulseq/errors"
	"github.com/teranos/pulseq/pulse/async"
)

const (
	// JobType is the handler key for outgoing email
	JobType = "mail.send"
	// DefaultQueue keeps email off the default queue so it can get its own worker
	DefaultQueue = "email"
	// DefaultMaxAttempts bounds delivery attempts for a message
	DefaultMaxAttempts = 3
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("email has no recipient")

// SendEmail is one outgoing message.
type SendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	QueueName string `json:"queue_name,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

var _ async.Unit = SendEmail{}

// Queue returns the queue the message is placed on.
func (m SendEmail) Queue() string {
	if m.QueueName == "" {
		return DefaultQueue
	}
	return m.QueueName
}

// JobType returns "mail.send".
func (m SendEmail) JobType() string {
	return JobType
}

// MaxAttempts returns the delivery attempt budget.
func (m SendEmail) MaxAttempts() int {
	if m.Attempts <= 0 {
		return DefaultMaxAttempts
	}
	return m.Attempts
}

// Validate checks the message can be handed to a Sender.
func (m SendEmail) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	return nil
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg SendEmail) error
}

// LogSender "delivers" by writing the message to a logger. Useful for
// development and as the worker's default when no real transport is wired.
type LogSender struct {
	logger *zap.SugaredLogger
}

// NewLogSender creates a LogSender writing to log.
func NewLogSender(log *zap.SugaredLogger) *LogSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogSender{logger: log.Named("mail")}
}

// Send logs the message at Info level.
func (s *LogSender) Send(ctx context.Context, msg SendEmail) error {
	s.logger.Infow("Email sent",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
	)
	return nil
}

// RegisterHandlers registers the mail.send handler on registry.
func RegisterHandlers(registry *async.HandlerRegistry, sender Sender) {
	async.Register(registry, JobType, func(ctx context.Context, msg SendEmail, ec *async.ExecContext) error {
		if err := msg.Validate(); err != nil {
			return err
		}
		if err := sender.Send(ctx, msg); err != nil {
			err = errors.Wrap(err, "failed to send email")
			return errors.WithDetail(err, "To: "+msg.To)
		}
		ec.Logger.Debugw("Email delivered",
			"to", msg.To,
			"attempt", ec.Attempt,
		)
		return nil
	})
}

package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teranos/pulseq/errors"
)

// DefaultExchange receives job events when none is configured.
const DefaultExchange = "pulseq.jobs"

// AMQPPublisher publishes events as persistent JSON messages on a topic
// exchange, routed by RoutingKey. Bind "email.*" or "*.failed" to pick
// what a consumer sees.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

var _ Publisher = (*AMQPPublisher)(nil)

// DialAMQP connects to url and declares exchange (idempotent).
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to AMQP broker")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to open AMQP channel")
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		err = errors.Wrap(err, "failed to declare exchange")
		return nil, errors.WithDetail(err, fmt.Sprintf("Exchange: %s", exchange))
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Publish sends e to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := newMessage(e)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, e.RoutingKey(), false, false, msg)
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.ch.Close()
	return p.conn.Close()
}

// newMessage encodes e as a persistent JSON publishing.
func newMessage(e Event) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "failed to encode job event")
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.At,
		Type:         e.JobType,
		Body:         body,
	}, nil
}

package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iov-one/claimsend/errors"
)

// Channel is the part of an AMQP channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes messages as JSON to an exchange. A mail service
// consuming the exchange does the actual delivery.
type AMQPPublisher struct {
	ch         Channel
	conn       *amqp.Connection
	exchange   string
	routingKey string
	now        func() time.Time
}

var _ Notifier = (*AMQPPublisher)(nil)

// NewAMQPPublisher returns a publisher using an open channel.
func NewAMQPPublisher(ch Channel, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		now:        time.Now,
	}
}

// DialAMQP connects to the broker and declares a durable topic exchange.
func DialAMQP(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(errors.ErrNetwork, err.Error())
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, errors.Wrapf(errors.ErrNetwork, "declare exchange %q: %s", exchange, err)
	}
	p := NewAMQPPublisher(ch, exchange, routingKey)
	p.conn = conn
	return p, nil
}

// Notify publishes the message.
func (p *AMQPPublisher) Notify(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(errors.ErrHuman, err.Error())
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.RecordID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return errors.Wrap(errors.ErrNetwork, err.Error())
	}
	return nil
}

// Close closes the channel and, when the publisher dialed it, the
// connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

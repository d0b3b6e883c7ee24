// Package mail publishes outbound email events. Delivery itself is handled
// by a separate worker consuming the queue; this process only enqueues.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event kinds.
const (
	KindVerification  = "email.verification"
	KindPasswordReset = "email.password_reset"
	KindSecurity      = "email.security_notice"
)

// Event is one email to be delivered. Code carries the one-time code in
// plaintext; it exists only on the wire to the mailer, never in storage.
type Event struct {
	Kind      string    `json:"kind"`
	Email     string    `json:"email"`
	Code      string    `json:"code,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Publisher enqueues email events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

const outboundQueue = "email.outbound"

// AMQPPublisher sends events to a durable RabbitMQ queue.
type AMQPPublisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("mail: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mail: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(outboundQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("mail: declare queue: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("mail: marshal event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, "", outboundQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("mail: publish: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iamakashsinghrajput/BookHaven/internal/util"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the durable queue the relay consumes.
const DefaultQueue = "bookhaven.notifications"

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier hands messages to the mail relay through RabbitMQ.
type AMQPNotifier struct {
	conn      *amqp.Connection
	ch        amqpPublisher
	queue     string
	templates Templates
}

// DialAMQP connects and declares the durable notification queue.
func DialAMQP(url, queue string) (*AMQPNotifier, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, queue: queue, templates: NewTemplates()}, nil
}

// Notify publishes msg as a persistent JSON message. Unknown kinds are
// rejected here so they never reach the relay.
func (n *AMQPNotifier) Notify(ctx context.Context, msg Message) error {
	if !n.templates.Has(msg.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	if len(msg.To) == 0 {
		return errors.New("notification has no recipients")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     util.NewID(),
		CorrelationId: util.RequestIDFromContext(ctx),
		Body:          body,
	})
}

func (n *AMQPNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Relay consumes notifications from a queue and delivers them with a
// downstream Notifier, normally SMTP.
type Relay struct {
	Queue    string
	Delivery Notifier
}

// Run consumes until ctx is done or the channel closes.
func (r *Relay) Run(ctx context.Context, ch *amqp.Channel) error {
	queue := r.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "mailrelay", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			r.handle(ctx, d)
		}
	}
}

// handle acks delivered messages. Malformed or unrenderable messages are
// dropped; transient send failures are requeued once.
func (r *Relay) handle(ctx context.Context, d amqp.Delivery) {
	logger := util.LoggerFromContext(ctx).With("message_id", d.MessageId, "correlation_id", d.CorrelationId)
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		logger.Error("notification_decode_failed", "err", err)
		_ = d.Nack(false, false)
		return
	}
	err := r.Delivery.Notify(ctx, msg)
	switch {
	case err == nil:
		_ = d.Ack(false)
		logger.Info("notification_sent", "kind", string(msg.Kind), "to", maskAll(msg.To))
	case errors.Is(err, ErrUnknownKind):
		logger.Error("notification_dropped", "kind", string(msg.Kind), "err", err)
		_ = d.Nack(false, false)
	default:
		logger.Warn("notification_send_failed", "kind", string(msg.Kind), "redelivered", d.Redelivered, "err", err)
		_ = d.Nack(false, !d.Redelivered)
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPPublisher struct {
	ch      Channel
	queue   string
	timeout time.Duration
}

func NewAMQPPublisher(ch Channel, queue string, timeout time.Duration) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue, timeout: timeout}
}

// DeclareQueue declares the durable notification queue.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		MessageId:    ev.AppointmentID.String(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// LogPublisher only logs events. It is used when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info("notification",
		zap.String("type", string(ev.Type)),
		zap.String("appointment_id", ev.AppointmentID.String()),
		zap.String("appointment_number", ev.AppointmentNumber),
		zap.String("date", ev.Date),
		zap.String("start_time", ev.StartTime),
	)
	return nil
}

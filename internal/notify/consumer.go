package notify

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc processes one decoded event.
type HandlerFunc func(ctx context.Context, ev Event) error

// Consume drains deliveries until ctx is done or the channel closes.
// Undecodable messages are dropped, events without a recipient are acked,
// and handler failures are requeued.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, handle HandlerFunc, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				logger.Warn("delivery channel closed")
				return
			}
			process(ctx, d, handle, logger)
		}
	}
}

func process(ctx context.Context, d amqp.Delivery, handle HandlerFunc, logger *zap.Logger) {
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Error("decode notification", zap.Error(err), zap.ByteString("body", d.Body))
		_ = d.Nack(false, false)
		return
	}

	log := logger.With(
		zap.String("type", string(ev.Type)),
		zap.String("appointment_id", ev.AppointmentID.String()),
	)

	err := handle(ctx, ev)
	switch {
	case err == nil:
		log.Info("notification sent")
		_ = d.Ack(false)
	case errors.Is(err, ErrNoRecipient):
		log.Info("notification skipped, no recipient")
		_ = d.Ack(false)
	default:
		log.Error("notification failed, requeueing", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

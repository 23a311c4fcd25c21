package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	routingCreated   = "appointment.created"
	routingValidated = "appointment.validated"
	routingCancelled = "appointment.cancelled"
	routingProposal  = "appointment.proposal"
)

// AMQPNotifier publishes appointment lifecycle events to a topic
// exchange. Consumers (mail, push) live outside this service.
type AMQPNotifier struct {
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func NewAMQPNotifier(conn *amqp091.Connection, exchange string, log *zap.Logger) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPNotifier{channel: ch, exchange: exchange, log: log}, nil
}

func (n *AMQPNotifier) NotifyCreated(ctx context.Context, snap AppointmentSnapshot) {
	n.publish(ctx, routingCreated, snap)
}

func (n *AMQPNotifier) NotifyValidated(ctx context.Context, snap AppointmentSnapshot) {
	n.publish(ctx, routingValidated, snap)
}

func (n *AMQPNotifier) NotifyCancelled(ctx context.Context, snap AppointmentSnapshot) {
	n.publish(ctx, routingCancelled, snap)
}

func (n *AMQPNotifier) NotifyProposal(ctx context.Context, snap AppointmentSnapshot) {
	n.publish(ctx, routingProposal, snap)
}

func (n *AMQPNotifier) publish(ctx context.Context, routingKey string, snap AppointmentSnapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		n.log.Warn("marshal notification payload", zap.String("routing_key", routingKey), zap.Error(err))
		return
	}

	err = n.channel.PublishWithContext(ctx, n.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		n.log.Warn("publish notification",
			zap.String("routing_key", routingKey),
			zap.String("appointment_id", snap.ID.String()),
			zap.Error(err),
		)
	}
}

// LogNotifier logs events instead of publishing them. Used when no
// broker is configured, and in tests.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyCreated(_ context.Context, snap AppointmentSnapshot) {
	n.log.Info("appointment created", zap.String("appointment_id", snap.ID.String()))
}

func (n *LogNotifier) NotifyValidated(_ context.Context, snap AppointmentSnapshot) {
	n.log.Info("appointment validated", zap.String("appointment_id", snap.ID.String()))
}

func (n *LogNotifier) NotifyCancelled(_ context.Context, snap AppointmentSnapshot) {
	n.log.Info("appointment cancelled", zap.String("appointment_id", snap.ID.String()))
}

func (n *LogNotifier) NotifyProposal(_ context.Context, snap AppointmentSnapshot) {
	n.log.Info("alternate slot proposed",
		zap.String("appointment_id", snap.ID.String()),
		zap.Timep("previous_start", snap.PreviousStart),
	)
}

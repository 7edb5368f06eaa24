package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ DeadLetterSink = (*RabbitMQDeadLetterSink)(nil)

// RabbitMQDeadLetterSink publishes exhausted deliveries to the
// per-channel dead-letter queues via the dlx exchange.
type RabbitMQDeadLetterSink struct {
	client *RabbitMQ
}

func NewRabbitMQDeadLetterSink(client *RabbitMQ) *RabbitMQDeadLetterSink {
	return &RabbitMQDeadLetterSink{client: client}
}

func (p *RabbitMQDeadLetterSink) EnqueueDLQ(ctx context.Context, msg DeadLetterMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("dead-letter sink is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid dead-letter message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.DeliveryID,
		CorrelationId: msg.CorrelationID,
		Body:          payload,
	}

	routingKey := channelRoutingKey(msg.Channel)
	if err := ch.PublishWithContext(ctx, dlxExchangeName, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish dead-letter message for channel %q: %w", msg.Channel, err)
	}

	return nil
}

func (p *RabbitMQDeadLetterSink) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

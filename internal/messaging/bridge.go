package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"dm-chat/internal/relay"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventBridge connects the local relay hub to the events exchange. Events
// published by this instance carry its instance ID, and the consumer skips
// deliveries tagged with it, so local clients never see an event twice.
type EventBridge struct {
	rmq        *RabbitMQ
	hub        *relay.Hub
	instanceID string
}

func NewEventBridge(rmq *RabbitMQ, hub *relay.Hub) *EventBridge {
	return &EventBridge{
		rmq:        rmq,
		hub:        hub,
		instanceID: uuid.NewString(),
	}
}

// InstanceID returns this bridge's unique origin tag.
func (b *EventBridge) InstanceID() string {
	return b.instanceID
}

// PublishEvent implements relay.Publisher: forwards a locally received
// event to the other instances.
func (b *EventBridge) PublishEvent(ctx context.Context, env *relay.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = b.rmq.channel.PublishWithContext(
		ctx,
		EventsExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Headers: amqp.Table{
				originHeader: b.instanceID,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Start binds a transient queue to the events exchange and injects foreign
// events into the local hub until the context is cancelled.
func (b *EventBridge) Start(ctx context.Context) error {
	queue, err := b.rmq.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare bridge queue: %w", err)
	}

	if err := b.rmq.channel.QueueBind(
		queue.Name,     // queue name
		"",             // routing key
		EventsExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind bridge queue: %w", err)
	}

	msgs, err := b.rmq.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register bridge consumer: %w", err)
	}

	slog.Info("event bridge consuming",
		slog.String("queue", queue.Name),
		slog.String("exchange", EventsExchange),
		slog.String("instance_id", b.instanceID))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping event bridge")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("event bridge channel closed")
					return
				}
				b.handleDelivery(&msg)
			}
		}
	}()

	return nil
}

func (b *EventBridge) handleDelivery(msg *amqp.Delivery) {
	if origin, ok := msg.Headers[originHeader].(string); ok && origin == b.instanceID {
		// Our own event, already fanned out locally
		return
	}

	var env relay.Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		slog.Error("error unmarshaling bridged event",
			slog.String("error", err.Error()),
			slog.String("body", string(msg.Body)))
		return
	}

	if env.Event != relay.EventSendMessage {
		slog.Warn("unknown bridged event dropped",
			slog.String("event", env.Event))
		return
	}

	b.hub.Broadcast(env.Event, relay.SourceBridge, msg.Body)
}

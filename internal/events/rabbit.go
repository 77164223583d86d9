package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// DefaultRoutingPrefix is prepended to the event type to form the routing key
const DefaultRoutingPrefix = "tagqueue"

// AMQPPublisher is the part of shared/rabbitmq.Client the publisher needs
type AMQPPublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitPublisher publishes JSON events to a RabbitMQ exchange with the
// routing key "<prefix>.<event type>", e.g. "tagqueue.job.completed".
type RabbitPublisher struct {
	client AMQPPublisher
	prefix string
	logger *slog.Logger
}

// NewRabbitPublisher creates a publisher. An empty prefix uses DefaultRoutingPrefix.
func NewRabbitPublisher(client AMQPPublisher, prefix string, logger *slog.Logger) *RabbitPublisher {
	if prefix == "" {
		prefix = DefaultRoutingPrefix
	}
	return &RabbitPublisher{client: client, prefix: prefix, logger: logger}
}

// RoutingKey returns the routing key used for an event type
func (p *RabbitPublisher) RoutingKey(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish encodes and sends the event
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, p.RoutingKey(event.Type), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Event published",
		slog.String("type", string(event.Type)),
		slog.String("job_id", event.JobID),
	)
	return nil
}

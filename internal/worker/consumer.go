package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/shared/rabbitmq"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource yields broker deliveries. *rabbitmq.Client satisfies it.
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Waker is notified when a job became available on a queue.
type Waker interface {
	Wake(queue string)
}

// WakeConsumer turns broker wake-up messages into local Wake calls so pools
// in this process do not wait for their next poll.
type WakeConsumer struct {
	logger      *slog.Logger
	source      DeliverySource
	waker       Waker
	consumerTag string
}

func NewWakeConsumer(source DeliverySource, waker Waker, consumerTag string, logger *slog.Logger) *WakeConsumer {
	return &WakeConsumer{
		logger:      logger,
		source:      source,
		waker:       waker,
		consumerTag: consumerTag,
	}
}

// Run consumes until ctx is done or the delivery channel closes.
func (c *WakeConsumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Wake consumer started",
		slog.String("consumer_tag", c.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Wake consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.dispatch(delivery)
		}
	}
}

func (c *WakeConsumer) dispatch(delivery amqp.Delivery) {
	var msg rabbitmq.WakeMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.Error("Failed to parse wake message JSON",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		c.reject(delivery)
		return
	}

	if !slices.Contains(queue.Names(), msg.Queue) {
		c.logger.Error("Wake message for unknown queue",
			slog.String("queue", msg.Queue),
		)
		c.reject(delivery)
		return
	}

	if _, err := uuid.Parse(msg.JobID); err != nil {
		c.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		c.reject(delivery)
		return
	}

	c.waker.Wake(msg.Queue)
	c.logger.Debug("Queue woken",
		slog.String("queue", msg.Queue),
		slog.String("job_id", msg.JobID),
	)

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK wake message",
			slog.String("error", err.Error()),
		)
	}
}

// reject drops a malformed message without requeue.
func (c *WakeConsumer) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		c.logger.Error("Failed to NACK malformed message",
			slog.String("error", err.Error()),
		)
	}
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
)

// WakeMessage announces that a job became available on a queue.
type WakeMessage struct {
	Queue string `json:"queue"`
	JobID string `json:"job_id"`
}

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// WakePublisher broadcasts wake-up messages after jobs are enqueued. It
// satisfies queue.Notifier.
type WakePublisher struct {
	publisher Publisher
}

func NewWakePublisher(publisher Publisher) *WakePublisher {
	return &WakePublisher{publisher: publisher}
}

// Notify publishes a wake-up for jobID, routed by the queue name.
func (p *WakePublisher) Notify(ctx context.Context, queue, jobID string) error {
	body, err := json.Marshal(WakeMessage{Queue: queue, JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to encode wake message: %w", err)
	}
	return p.publisher.Publish(ctx, queue, body, "application/json")
}

// Package pipeline holds the job handlers behind each fulfillment queue.
package pipeline

import (
	"context"
	"fmt"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Enqueuer adds follow-on jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, payload queue.Payload, opts ...queue.EnqueueOption) (string, error)
}

// ProgressSaver persists an updated payload for the running job.
type ProgressSaver interface {
	SaveProgress(ctx context.Context, j *queue.Job, payload queue.Payload) error
}

// OrderNotifier enqueues a notification about an order for its owner and
// every admin.
type OrderNotifier struct {
	recipients store.RecipientDirectory
	queue      Enqueuer
}

func NewOrderNotifier(recipients store.RecipientDirectory, q Enqueuer) *OrderNotifier {
	return &OrderNotifier{recipients: recipients, queue: q}
}

// Notify resolves the audience of order and enqueues one notification job.
func (n *OrderNotifier) Notify(ctx context.Context, order *store.Order, notificationContext, title, body string) (string, error) {
	r, err := n.recipients.Recipients(ctx, order.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve recipients for order %s: %w", order.ID, err)
	}

	id, err := n.queue.Enqueue(ctx, queue.QueueNotification, jobs.Notification{
		Context:      notificationContext,
		Title:        title,
		Body:         body,
		ReferenceID:  order.ID,
		RecipientIDs: r.RecipientIDs,
		DeviceTokens: r.DeviceTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue notification for order %s: %w", order.ID, err)
	}
	return id, nil
}

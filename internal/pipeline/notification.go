package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/push"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// NotificationHandler stores a notification and pushes it to devices.
type NotificationHandler struct {
	notifications store.NotificationStore
	push          push.Sender
	clock         clockwork.Clock
	logger        *slog.Logger
}

func NewNotificationHandler(notifications store.NotificationStore, sender push.Sender, clock clockwork.Clock, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		push:          sender,
		clock:         clock,
		logger:        logger,
	}
}

// Handle persists the record, which must succeed, then pushes best effort.
// The record id is the job id so a redelivered job does not create a second
// record.
func (h *NotificationHandler) Handle(ctx context.Context, j *queue.Job) error {
	n, err := jobs.DecodeNotification(j.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	rec := &store.Notification{
		ID:          j.ID,
		Context:     n.Context,
		Title:       n.Title,
		Body:        n.Body,
		ReferenceID: n.ReferenceID,
		CreatedAt:   h.clock.Now(),
	}
	for _, id := range n.RecipientIDs {
		rec.Recipients = append(rec.Recipients, store.Recipient{UserID: id})
	}
	if err := h.notifications.CreateNotification(ctx, rec); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}

	if len(n.DeviceTokens) == 0 {
		return nil
	}

	results, err := h.push.Send(ctx, n.DeviceTokens, jobs.DisplayTitle(n.Title), n.Body)
	if err != nil {
		h.logger.Warn("Push delivery failed",
			slog.String("job_id", j.ID),
			slog.Int("tokens", len(n.DeviceTokens)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	sent := 0
	for _, r := range results {
		if r.Err != nil {
			h.logger.Warn("Push token failed",
				slog.String("job_id", j.ID),
				slog.String("token", r.Token),
				slog.String("error", r.Err.Error()),
			)
			continue
		}
		sent++
	}
	h.logger.Info("Push sent",
		slog.String("job_id", j.ID),
		slog.Int("succeeded", sent),
		slog.Int("total", len(n.DeviceTokens)),
	)
	return nil
}

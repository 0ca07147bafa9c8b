package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/mail"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

// EmailRenderer turns an email job into a message.
type EmailRenderer interface {
	Render(job jobs.EmailJob) (mail.Message, error)
}

// EmailHandler renders and sends transactional email. Sending is not
// idempotent: a retry after a partial failure can deliver twice.
type EmailHandler struct {
	renderer  EmailRenderer
	transport mail.Transport
	logger    *slog.Logger
}

func NewEmailHandler(renderer EmailRenderer, transport mail.Transport, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{renderer: renderer, transport: transport, logger: logger}
}

func (h *EmailHandler) Handle(ctx context.Context, j *queue.Job) error {
	e, err := jobs.DecodeEmail(j.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	msg, err := h.renderer.Render(e)
	if err != nil {
		return queue.Permanent(err)
	}

	if err := h.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send %s email: %w", e.JobType(), err)
	}

	h.logger.Info("Email sent",
		slog.String("job_id", j.ID),
		slog.String("type", e.JobType()),
	)
	return nil
}

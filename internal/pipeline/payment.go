package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// PaymentHandler confirms gateway payment results against orders.
type PaymentHandler struct {
	orders   store.OrderStore
	notifier *OrderNotifier
	progress ProgressSaver
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewPaymentHandler(orders store.OrderStore, notifier *OrderNotifier, progress ProgressSaver, clock clockwork.Clock, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		orders:   orders,
		notifier: notifier,
		progress: progress,
		clock:    clock,
		logger:   logger,
	}
}

func (h *PaymentHandler) Handle(ctx context.Context, j *queue.Job) error {
	p, err := jobs.DecodePayment(j.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	order, err := h.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			return queue.Permanent(fmt.Errorf("order %s: %w", p.OrderID, err))
		}
		return fmt.Errorf("failed to load order %s: %w", p.OrderID, err)
	}

	switch p.PaymentStatus {
	case jobs.PaymentSuccess:
		if !p.Confirming && order.IsPaid == 0 {
			p.Confirming = true
			if err := h.progress.SaveProgress(ctx, j, p); err != nil {
				return err
			}
		}

		changed, err := h.orders.MarkPaid(ctx, order.ID, h.clock.Now())
		if err != nil {
			if errors.Is(err, store.ErrOrderCancelled) || errors.Is(err, store.ErrOrderNotFound) {
				return queue.Permanent(fmt.Errorf("order %s: %w", order.ID, err))
			}
			return fmt.Errorf("failed to mark order %s paid: %w", order.ID, err)
		}
		if !changed && !p.Confirming {
			h.logger.Info("Order already paid, skipping",
				slog.String("job_id", j.ID),
				slog.String("order_id", order.ID),
			)
			return nil
		}

		if changed {
			h.logger.Info("Order marked as paid",
				slog.String("order_id", order.ID),
				slog.String("payment_method", p.PaymentMethod),
			)
		}
		_, err = h.notifier.Notify(ctx, order, jobs.ContextPaymentVNPay, jobs.ActionPaymentVNPaySuccess,
			fmt.Sprintf("Order %s was paid successfully", order.ID))
		return err

	case jobs.PaymentFailed:
		h.logger.Warn("Payment failed",
			slog.String("order_id", order.ID),
			slog.String("payment_method", p.PaymentMethod),
		)
		_, err = h.notifier.Notify(ctx, order, jobs.ContextPaymentVNPay, jobs.ActionPaymentVNPayError,
			fmt.Sprintf("Payment for order %s failed", order.ID))
		return err

	default:
		return queue.Permanent(fmt.Errorf("%w: unknown paymentStatus %q", jobs.ErrInvalidPayload, p.PaymentStatus))
	}
}

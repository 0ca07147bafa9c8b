package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/pipeline"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Sweep names.
const (
	SweepAutoCancel       = "auto-cancel-unpaid"
	SweepPurge            = "purge-notifications"
	SweepDiscountExpiry   = "discount-expiry"
	SweepDeliveryReminder = "delivery-reminder"
)

// Config holds the schedule and threshold of every sweep.
type Config struct {
	AutoCancelSchedule string        `yaml:"auto_cancel_schedule"`
	UnpaidAfter        time.Duration `yaml:"unpaid_after"`

	PurgeSchedule         string        `yaml:"purge_schedule"`
	NotificationRetention time.Duration `yaml:"notification_retention"`

	DiscountSchedule  string        `yaml:"discount_schedule"`
	DiscountLookahead time.Duration `yaml:"discount_lookahead"`

	ReminderSchedule string        `yaml:"reminder_schedule"`
	DeliveryStale    time.Duration `yaml:"delivery_stale_after"`
}

func DefaultConfig() Config {
	return Config{
		AutoCancelSchedule:    "0 */1 * * *",
		UnpaidAfter:           24 * time.Hour,
		PurgeSchedule:         "0 0 * * *",
		NotificationRetention: 30 * 24 * time.Hour,
		DiscountSchedule:      "0 */6 * * *",
		DiscountLookahead:     time.Hour,
		ReminderSchedule:      "0 9 * * *",
		DeliveryStale:         3 * 24 * time.Hour,
	}
}

// Sweeps holds the reconciliation sweeps and their collaborators.
type Sweeps struct {
	orders        store.OrderStore
	products      store.ProductStore
	notifications store.NotificationStore
	adjuster      *pipeline.Adjuster
	notifier      *pipeline.OrderNotifier
	queue         pipeline.Enqueuer
	clock         clockwork.Clock
	cfg           Config
	logger        *slog.Logger
}

// Deps groups the collaborators of the sweeps.
type Deps struct {
	Orders        store.OrderStore
	Products      store.ProductStore
	Notifications store.NotificationStore
	Adjuster      *pipeline.Adjuster
	Notifier      *pipeline.OrderNotifier
	Clock         clockwork.Clock
	Logger        *slog.Logger

	// Queue takes RESTORE_STOCK jobs for items the sweep could not restore
	// directly.
	Queue pipeline.Enqueuer
}

func NewSweeps(deps Deps, cfg Config) *Sweeps {
	return &Sweeps{
		orders:        deps.Orders,
		products:      deps.Products,
		notifications: deps.Notifications,
		adjuster:      deps.Adjuster,
		notifier:      deps.Notifier,
		queue:         deps.Queue,
		clock:         deps.Clock,
		cfg:           cfg,
		logger:        deps.Logger,
	}
}

// RegisterAll adds the four sweeps to s with their configured schedules.
func (w *Sweeps) RegisterAll(s *Scheduler) error {
	sweeps := []struct {
		name string
		spec string
		run  SweepFunc
	}{
		{SweepAutoCancel, w.cfg.AutoCancelSchedule, w.CancelUnpaidOrders},
		{SweepPurge, w.cfg.PurgeSchedule, w.PurgeNotifications},
		{SweepDiscountExpiry, w.cfg.DiscountSchedule, w.ExpireDiscounts},
		{SweepDeliveryReminder, w.cfg.ReminderSchedule, w.RemindPendingDeliveries},
	}
	for _, sw := range sweeps {
		if err := s.Register(sw.name, sw.spec, sw.run); err != nil {
			return err
		}
	}
	return nil
}

// CancelUnpaidOrders cancels orders left unpaid past the threshold, puts
// their items back in stock and tells the owner and admins.
func (w *Sweeps) CancelUnpaidOrders(ctx context.Context) error {
	now := w.clock.Now()
	orders, err := w.orders.FindStaleUnpaid(ctx, now.Add(-w.cfg.UnpaidAfter))
	if err != nil {
		return fmt.Errorf("failed to find unpaid orders: %w", err)
	}

	w.logger.Info("Found unpaid orders to cancel", slog.Int("count", len(orders)))

	cancelled := eachCandidate(w.logger, SweepAutoCancel, orders, func(o store.Order) string { return o.ID },
		func(o store.Order) error {
			ok, err := w.orders.CancelUnpaid(ctx, o.ID, now)
			if err != nil {
				return fmt.Errorf("failed to cancel: %w", err)
			}
			if !ok {
				// Paid or cancelled since it was listed.
				w.logger.Info("Order no longer cancellable, skipping", slog.String("order_id", o.ID))
				return nil
			}

			for _, item := range o.Items {
				w.restore(ctx, o.ID, item)
			}

			body := fmt.Sprintf("Order %s was cancelled automatically after %s without payment", o.ID, w.cfg.UnpaidAfter)
			if _, err := w.notifier.Notify(ctx, &o, jobs.ContextOrder, jobs.ActionCancelOrder, body); err != nil {
				return err
			}

			w.logger.Info("Auto cancelled order", slog.String("order_id", o.ID))
			return nil
		})

	w.logger.Info("Auto cancel sweep done",
		slog.Int("candidates", len(orders)),
		slog.Int("processed", cancelled),
	)
	return nil
}

// restore puts item back in stock, handing it to the inventory queue when the
// direct update fails so the retry engine finishes it.
func (w *Sweeps) restore(ctx context.Context, orderID string, item store.OrderItem) {
	_, err := w.adjuster.Restore(ctx, item.ProductID, item.Amount)
	if err == nil {
		return
	}

	logger := w.logger.With(
		slog.String("order_id", orderID),
		slog.String("product_id", item.ProductID),
		slog.Int("amount", item.Amount),
	)
	if errors.Is(err, store.ErrProductNotFound) {
		logger.Warn("Product of cancelled order no longer exists, stock not restored")
		return
	}

	id, qerr := w.queue.Enqueue(ctx, queue.QueueInventory, jobs.RestoreStock{ProductID: item.ProductID, Amount: item.Amount})
	if qerr != nil {
		logger.Error("Failed to restore stock for cancelled order",
			slog.String("error", err.Error()),
			slog.String("enqueue_error", qerr.Error()),
		)
		return
	}
	logger.Warn("Stock restore deferred to inventory queue",
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
}

// PurgeNotifications deletes notifications older than the retention.
func (w *Sweeps) PurgeNotifications(ctx context.Context) error {
	n, err := w.notifications.DeleteNotificationsBefore(ctx, w.clock.Now().Add(-w.cfg.NotificationRetention))
	if err != nil {
		return fmt.Errorf("failed to delete old notifications: %w", err)
	}
	w.logger.Info("Deleted old notifications", slog.Int64("count", n))
	return nil
}

// ExpireDiscounts clears ended discounts and reports the ones about to start.
func (w *Sweeps) ExpireDiscounts(ctx context.Context) error {
	now := w.clock.Now()

	n, err := w.products.ClearExpiredDiscounts(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to clear expired discounts: %w", err)
	}
	w.logger.Info("Disabled expired product discounts", slog.Int64("count", n))

	upcoming, err := w.products.FindUpcomingDiscounts(ctx, now, now.Add(w.cfg.DiscountLookahead))
	if err != nil {
		return fmt.Errorf("failed to find upcoming discounts: %w", err)
	}
	for _, p := range upcoming {
		w.logger.Info("Discount starting soon",
			slog.String("product_id", p.ID),
			slog.Float64("discount", p.Discount),
			slog.Time("starts_at", *p.DiscountStartDate),
		)
	}
	w.logger.Info("Found products with upcoming discounts", slog.Int("count", len(upcoming)))
	return nil
}

// RemindPendingDeliveries nudges owners and admins about paid orders stuck
// in awaiting delivery.
func (w *Sweeps) RemindPendingDeliveries(ctx context.Context) error {
	orders, err := w.orders.FindStalledDeliveries(ctx, w.clock.Now().Add(-w.cfg.DeliveryStale))
	if err != nil {
		return fmt.Errorf("failed to find pending deliveries: %w", err)
	}

	w.logger.Info("Found orders pending delivery", slog.Int("count", len(orders)))

	sent := eachCandidate(w.logger, SweepDeliveryReminder, orders, func(o store.Order) string { return o.ID },
		func(o store.Order) error {
			body := fmt.Sprintf("Order %s is waiting for delivery. Please check the order status.", o.ID)
			if _, err := w.notifier.Notify(ctx, &o, jobs.ContextOrder, jobs.ActionWaitDelivery, body); err != nil {
				return err
			}
			w.logger.Info("Sent delivery reminder", slog.String("order_id", o.ID))
			return nil
		})

	w.logger.Info("Delivery reminder sweep done",
		slog.Int("candidates", len(orders)),
		slog.Int("processed", sent),
	)
	return nil
}

// eachCandidate applies fn to every item, logging and skipping the ones
// that fail or panic. It returns how many succeeded.
func eachCandidate[T any](logger *slog.Logger, sweep string, items []T, id func(T) string, fn func(T) error) int {
	ok := 0
	for _, item := range items {
		if err := safeCall(item, fn); err != nil {
			logger.Error("Sweep candidate failed",
				slog.String("sweep", sweep),
				slog.String("candidate", id(item)),
				slog.String("error", err.Error()),
			)
			continue
		}
		ok++
	}
	return ok
}

func safeCall[T any](item T, fn func(T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(item)
}

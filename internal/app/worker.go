package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cuongbtq/order-fulfillment/internal/config"
	"github.com/cuongbtq/order-fulfillment/internal/mail"
	"github.com/cuongbtq/order-fulfillment/internal/pipeline"
	"github.com/cuongbtq/order-fulfillment/internal/push"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/scheduler"
	"github.com/cuongbtq/order-fulfillment/internal/worker"
)

// Collaborators are the outbound services the handlers talk to.
type Collaborators struct {
	Mail mail.Transport
	Push push.Sender
}

// NewCollaborators builds the SMTP transport and the push sender. Push falls
// back to a no-op sender when no gateway is configured.
func NewCollaborators(cfg *config.Config, logger *slog.Logger) Collaborators {
	var sender push.Sender = push.Noop{}
	if cfg.Push.Endpoint != "" {
		sender = push.NewHTTPSender(cfg.Push.Endpoint, cfg.Push.APIKey, cfg.Push.Timeout)
	} else {
		logger.Warn("Push gateway not configured, device notifications are dropped")
	}

	return Collaborators{
		Mail: mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			SSL:      cfg.Mail.SSL,
		}, logger),
		Push: sender,
	}
}

// NewPools builds one worker pool per queue with its handler.
func NewPools(cfg *config.Config, m *queue.Manager, stores Stores, c Collaborators, clock clockwork.Clock, logger *slog.Logger) []*worker.Pool {
	adjuster := pipeline.NewAdjuster(stores.Products, logger)
	notifier := pipeline.NewOrderNotifier(stores.Recipients, m)

	handlers := map[string]worker.Handler{
		queue.QueuePayment: pipeline.NewPaymentHandler(stores.Orders, notifier, m, clock, logger),
		queue.QueueInventory: pipeline.NewInventoryHandler(
			adjuster, m, cfg.Inventory.TrackBatchProgress, logger,
		),
		queue.QueueNotification: pipeline.NewNotificationHandler(stores.Notifications, c.Push, clock, logger),
		queue.QueueEmail:        pipeline.NewEmailHandler(mail.Renderer{Shop: cfg.Mail.Shop}, c.Mail, logger),
	}

	pools := make([]*worker.Pool, 0, len(handlers))
	for _, name := range queue.Names() {
		pools = append(pools, worker.NewPool(m, handlers[name], worker.Config{
			Logger:          logger,
			Queue:           name,
			Concurrency:     cfg.Worker.Concurrency[name],
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
			StalledAfter:    cfg.Worker.StalledAfter,
		}))
	}
	return pools
}

// NewScheduler registers the reconciliation sweeps. locker may be nil, in
// which case firings are not coordinated across instances.
func NewScheduler(cfg *config.Config, m *queue.Manager, stores Stores, locker scheduler.Locker, clock clockwork.Clock, logger *slog.Logger) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone: %w", err)
	}

	opts := []scheduler.Option{
		scheduler.WithClock(clock),
		scheduler.WithLocation(loc),
	}
	if locker != nil {
		opts = append(opts, scheduler.WithLocker(locker, cfg.Scheduler.Lock.TTL))
	}
	s := scheduler.New(logger.With(slog.String("component", "scheduler")), opts...)

	sweeps := scheduler.NewSweeps(scheduler.Deps{
		Orders:        stores.Orders,
		Products:      stores.Products,
		Notifications: stores.Notifications,
		Adjuster:      pipeline.NewAdjuster(stores.Products, logger),
		Notifier:      pipeline.NewOrderNotifier(stores.Recipients, m),
		Clock:         clock,
		Logger:        logger,
		Queue:         m,
	}, cfg.Scheduler.Sweeps)
	if err := sweeps.RegisterAll(s); err != nil {
		return nil, err
	}
	return s, nil
}

// SchedulerLocker returns the Redis lock when the config asks for one.
func (a *App) SchedulerLocker() scheduler.Locker {
	if !a.Config.Scheduler.Lock.Enabled || a.redis == nil {
		return nil
	}
	return scheduler.NewRedisLocker(a.redis, a.Config.Redis.KeyPrefix)
}

// Package app wires configuration into the services run by cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/order-fulfillment/internal/api/handler"
	"github.com/cuongbtq/order-fulfillment/internal/config"
	"github.com/cuongbtq/order-fulfillment/internal/payment/vnpay"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/queue/pgstore"
	"github.com/cuongbtq/order-fulfillment/internal/queue/redisstore"
	"github.com/cuongbtq/order-fulfillment/internal/store"
	"github.com/cuongbtq/order-fulfillment/internal/store/postgres"
	"github.com/cuongbtq/order-fulfillment/internal/worker"
	"github.com/cuongbtq/order-fulfillment/shared/postgresql"
	"github.com/cuongbtq/order-fulfillment/shared/rabbitmq"
	sharedredis "github.com/cuongbtq/order-fulfillment/shared/redis"
)

// Role decides which broker resources a process declares.
type Role int

const (
	RoleAPI Role = iota
	RoleWorker
)

// Stores groups the domain stores used by handlers and sweeps.
type Stores struct {
	Orders        store.OrderStore
	Products      store.ProductStore
	Notifications store.NotificationStore
	Recipients    store.RecipientDirectory
}

// App owns the connections of one process and the queue engine built on them.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clockwork.Clock
	Queue  *queue.Manager
	Stores Stores

	db     *postgresql.Client
	redis  *goredis.Client
	rabbit *rabbitmq.Client
}

// New connects to PostgreSQL, Redis (when the job store or the scheduler lock
// needs it) and RabbitMQ (when enabled), then builds the queue manager.
func New(ctx context.Context, cfg *config.Config, role Role, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clockwork.NewRealClock(),
	}

	var err error
	a.db, err = postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		AutoMigrate:     cfg.Database.AutoMigrate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	domain := postgres.NewStorage(a.db.GetDB(), logger)
	a.Stores = Stores{
		Orders:        domain,
		Products:      domain,
		Notifications: domain,
		Recipients:    domain,
	}

	needsRedis := cfg.JobStore.Driver == config.DriverRedis ||
		(role == RoleWorker && cfg.Scheduler.Enabled && cfg.Scheduler.Lock.Enabled)
	if needsRedis {
		a.redis, err = sharedredis.NewClient(ctx, &sharedredis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	var jobStore queue.Store
	switch cfg.JobStore.Driver {
	case config.DriverMemory:
		logger.Warn("Using the in-memory job store, jobs are lost on exit")
		jobStore = queue.NewMemoryStore()
	case config.DriverRedis:
		jobStore = redisstore.New(a.redis, cfg.Redis.KeyPrefix)
	default:
		jobStore = pgstore.New(a.db.GetDB(), logger)
	}

	opts := []queue.Option{
		queue.WithPolicies(cfg.Queues),
		queue.WithClock(a.Clock),
		queue.WithPollInterval(cfg.Worker.PollInterval),
	}

	if cfg.RabbitMQ.Enabled {
		a.rabbit, err = rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ, role), role == RoleWorker, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		opts = append(opts, queue.WithNotifier(rabbitmq.NewWakePublisher(a.rabbit)))
	}

	a.Queue = queue.NewManager(jobStore, logger, opts...)
	return a, nil
}

// rabbitConfig maps the broker settings. Workers get a broker-named,
// exclusive queue bound to the fanout exchange so every process hears
// every wake-up.
func rabbitConfig(cfg *config.RabbitMQConfig, role Role) *rabbitmq.Config {
	rc := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}
	if role == RoleWorker {
		rc.QueueAutoDelete = true
		rc.QueueExclusive = true
	}
	return rc
}

// HealthChecks probes every backing service the process holds.
func (a *App) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"postgres": a.db.HealthCheck,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return a.redis.Ping(ctx).Err()
		}
	}
	if a.rabbit != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if !a.rabbit.IsConnected() {
				return rabbitmq.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

// APIDependencies builds the handler dependencies of the api-service.
func (a *App) APIDependencies() *handler.Dependencies {
	return &handler.Dependencies{
		Logger:       a.Logger,
		Queue:        a.Queue,
		Orders:       a.Stores.Orders,
		Signer:       vnpay.NewSigner(a.Config.Payment.VNPay, a.Clock),
		HealthChecks: a.HealthChecks(),
	}
}

// WakeConsumer returns the broker consumer, or nil when RabbitMQ is disabled.
func (a *App) WakeConsumer() *worker.WakeConsumer {
	if a.rabbit == nil {
		return nil
	}
	host, _ := os.Hostname()
	tag := fmt.Sprintf("%s-%s-%d", a.Config.App.Name, host, os.Getpid())
	return worker.NewWakeConsumer(a.rabbit, a.Queue, tag, a.Logger)
}

// RedisClient returns the Redis connection, or nil when none was opened.
func (a *App) RedisClient() *goredis.Client {
	return a.redis
}

// Close releases every connection, logging failures.
func (a *App) Close() {
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			a.Logger.Error("Failed to close RabbitMQ", slog.String("error", err.Error()))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error("Failed to close Redis", slog.String("error", err.Error()))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error("Failed to close PostgreSQL", slog.String("error", err.Error()))
		}
	}
}

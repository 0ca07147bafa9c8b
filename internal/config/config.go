package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/order-fulfillment/internal/payment/vnpay"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/scheduler"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Job store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig               `yaml:"app"`
	Logging   LoggingConfig           `yaml:"logging"`
	Server    ServerConfig            `yaml:"server"`
	Database  DatabaseConfig          `yaml:"database"`
	Redis     RedisConfig             `yaml:"redis"`
	RabbitMQ  RabbitMQConfig          `yaml:"rabbitmq"`
	JobStore  JobStoreConfig          `yaml:"job_store"`
	Queues    map[string]queue.Policy `yaml:"queues"`
	Worker    WorkerConfig            `yaml:"worker"`
	Scheduler SchedulerConfig         `yaml:"scheduler"`
	Inventory InventoryConfig         `yaml:"inventory"`
	Payment   PaymentConfig           `yaml:"payment"`
	Mail      MailConfig              `yaml:"mail"`
	Push      PushConfig              `yaml:"push"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// RabbitMQConfig holds the broker used for job wake-ups. Disabled means
// workers rely on polling alone.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// JobStoreConfig selects where jobs are persisted. The memory driver keeps
// jobs inside one process and suits local runs only.
type JobStoreConfig struct {
	Driver string `yaml:"driver"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	// Concurrency is the number of goroutines per queue.
	Concurrency map[string]int `yaml:"concurrency"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StalledAfter    time.Duration `yaml:"stalled_after"`
}

type SchedulerConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Timezone string           `yaml:"timezone"`
	Lock     LockConfig       `yaml:"lock"`
	Sweeps   scheduler.Config `yaml:",inline"`
}

// LockConfig enables the per-firing Redis lock for multi-instance schedulers.
type LockConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

type InventoryConfig struct {
	TrackBatchProgress bool `yaml:"track_batch_progress"`
}

type PaymentConfig struct {
	VNPay vnpay.Config `yaml:"vnpay"`
}

// MailConfig holds SMTP settings for transactional email
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	SSL      bool   `yaml:"ssl"`
	Shop     string `yaml:"shop"`
}

// PushConfig points at the push gateway. An empty endpoint disables push.
type PushConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns the configuration every file is layered over.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{KeyPrefix: "fulfillment"},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "fulfillment.jobs",
				Type:    "fanout",
				Durable: true,
			},
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 5 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts: 3,
				RetryInterval: 100 * time.Millisecond,
			},
			Consumer: ConsumerConfig{PrefetchCount: 10},
		},
		JobStore: JobStoreConfig{Driver: DriverPostgres},
		Queues:   queue.DefaultPolicies(),
		Worker: WorkerConfig{
			Concurrency: map[string]int{
				queue.QueueEmail:        2,
				queue.QueueInventory:    4,
				queue.QueueNotification: 2,
				queue.QueuePayment:      2,
			},
			PollInterval:    time.Second,
			ShutdownTimeout: 30 * time.Second,
			StalledAfter:    5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "Asia/Ho_Chi_Minh",
			Lock:     LockConfig{TTL: time.Minute},
			Sweeps:   scheduler.DefaultConfig(),
		},
		Inventory: InventoryConfig{TrackBatchProgress: true},
		Mail:      MailConfig{Port: 587},
		Push:      PushConfig{Timeout: 10 * time.Second},
	}
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and layers the result over Default.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ValidateAPIConfig checks the settings the api-service needs
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := c.validateJobStore(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Payment.VNPay.TmnCode == "" {
		return fmt.Errorf("payment vnpay tmn_code is required")
	}
	if c.Payment.VNPay.SecretKey == "" {
		return fmt.Errorf("payment vnpay secret_key is required")
	}
	return nil
}

// ValidateWorkerConfig checks the settings the worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateJobStore(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	for name, policy := range c.Queues {
		if !slices.Contains(queue.Names(), name) {
			return fmt.Errorf("unknown queue %q in queues", name)
		}
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("queue %s max_attempts must be at least 1", name)
		}
		if err := policy.Backoff.Validate(); err != nil {
			return fmt.Errorf("queue %s: %w", name, err)
		}
	}

	for name, n := range c.Worker.Concurrency {
		if !slices.Contains(queue.Names(), name) {
			return fmt.Errorf("unknown queue %q in worker concurrency", name)
		}
		if n <= 0 {
			return fmt.Errorf("worker concurrency for %s must be greater than 0", name)
		}
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Scheduler.Enabled {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
		}
		for _, spec := range []string{
			c.Scheduler.Sweeps.AutoCancelSchedule,
			c.Scheduler.Sweeps.PurgeSchedule,
			c.Scheduler.Sweeps.DiscountSchedule,
			c.Scheduler.Sweeps.ReminderSchedule,
		} {
			if _, err := scheduler.ParseSchedule(spec); err != nil {
				return fmt.Errorf("invalid scheduler schedule %q: %w", spec, err)
			}
		}
		if c.Scheduler.Lock.Enabled && c.Redis.Addr == "" {
			return fmt.Errorf("scheduler lock requires redis addr")
		}
	}

	if c.Mail.Host == "" {
		return fmt.Errorf("mail host is required")
	}
	if err := validatePort("mail", c.Mail.Port); err != nil {
		return err
	}
	if c.Mail.From == "" {
		return fmt.Errorf("mail from is required")
	}
	return nil
}

func (c *Config) validateJobStore() error {
	switch c.JobStore.Driver {
	case DriverMemory, DriverPostgres:
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis job store")
		}
	default:
		return fmt.Errorf("unknown job_store driver %q", c.JobStore.Driver)
	}
	return nil
}

// validateDatabase checks PostgreSQL, which holds orders and products
// whatever the job store driver.
func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if err := validatePort("database", c.Database.Port); err != nil {
		return err
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", name, port, MinPort, MaxPort)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/order-fulfillment/internal/app"
	"github.com/cuongbtq/order-fulfillment/internal/config"
	"github.com/cuongbtq/order-fulfillment/internal/scheduler"
	"github.com/cuongbtq/order-fulfillment/internal/worker"
	"github.com/cuongbtq/order-fulfillment/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging, "worker-service")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("job_store", cfg.JobStore.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.RoleWorker, appLogger.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pools := app.NewPools(cfg, a.Queue, a.Stores, app.NewCollaborators(cfg, appLogger.Logger), a.Clock, appLogger.Logger)
	for _, p := range pools {
		if err := p.Start(ctx); err != nil {
			stopPools(pools, appLogger.Logger)
			return fmt.Errorf("failed to start %s pool: %w", p.Queue(), err)
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = app.NewScheduler(cfg, a.Queue, a.Stores, a.SchedulerLocker(), a.Clock, appLogger.Logger)
		if err != nil {
			stopPools(pools, appLogger.Logger)
			return fmt.Errorf("failed to initialize scheduler: %w", err)
		}
		sched.Start(ctx)
	}

	errChan := make(chan error, 1)
	if consumer := a.WakeConsumer(); consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	appLogger.Info("Worker service started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case runErr = <-errChan:
		appLogger.Error("Wake consumer failed",
			slog.Any("error", runErr),
		)
	}
	stop()

	if sched != nil {
		sched.Stop()
	}
	if err := stopPools(pools, appLogger.Logger); err != nil && runErr == nil {
		runErr = err
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// stopPools drains every pool in parallel.
func stopPools(pools []*worker.Pool, logger *slog.Logger) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range pools {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Stop(); err != nil {
				logger.Warn("Worker pool did not stop cleanly",
					slog.String("queue", p.Queue()),
					slog.Any("error", err),
				)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

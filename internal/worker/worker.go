package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

// ErrShutdownTimeout is returned by Stop when in-flight jobs outlive the
// shutdown timeout. Their contexts are canceled and the jobs are picked up
// again by stalled-job recovery.
var ErrShutdownTimeout = errors.New("worker shutdown timed out")

// Handler executes one job. A nil error completes the job; any other error
// counts as a failed attempt. Wrap errors with queue.Permanent to skip the
// remaining attempts.
type Handler interface {
	Handle(ctx context.Context, j *queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, j *queue.Job) error {
	return f(ctx, j)
}

// Config holds pool configuration
type Config struct {
	Logger          *slog.Logger
	Queue           string
	Concurrency     int
	ShutdownTimeout time.Duration

	// StalledAfter requeues jobs left active for longer than this on start.
	// Zero disables recovery.
	StalledAfter time.Duration
}

// Pool runs Concurrency goroutines that consume a single queue.
type Pool struct {
	logger          *slog.Logger
	manager         *queue.Manager
	handler         Handler
	queue           string
	concurrency     int
	shutdownTimeout time.Duration
	stalledAfter    time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	stop     context.CancelFunc
	abort    context.CancelFunc
	started  bool
}

// NewPool creates a pool for cfg.Queue backed by manager.
func NewPool(manager *queue.Manager, handler Handler, cfg Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:          logger.With(slog.String("queue", cfg.Queue)),
		manager:         manager,
		handler:         handler,
		queue:           cfg.Queue,
		concurrency:     concurrency,
		shutdownTimeout: cfg.ShutdownTimeout,
		stalledAfter:    cfg.StalledAfter,
	}
}

// Queue returns the name of the consumed queue.
func (p *Pool) Queue() string {
	return p.queue
}

// Start recovers stalled jobs and spawns the worker goroutines. It returns
// immediately; call Stop to drain.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		return fmt.Errorf("pool %s already started", p.queue)
	}
	if _, err := p.manager.Policy(p.queue); err != nil {
		return err
	}

	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("shutdown_timeout", p.shutdownTimeout),
	)

	if p.stalledAfter > 0 {
		n, err := p.manager.RecoverStalled(ctx, p.queue, p.stalledAfter)
		if err != nil {
			p.logger.Warn("Failed to recover stalled jobs",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			p.logger.Info("Recovered stalled jobs",
				slog.Int("count", n),
			)
		}
	}

	// Dequeue waits stop as soon as Stop is called; handlers keep running on
	// jobCtx until they return or the shutdown timeout aborts them.
	loopCtx, stop := context.WithCancel(ctx)
	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	p.stop = stop
	p.abort = abort
	p.started = true

	p.spawnWorkerPool(loopCtx, jobCtx)
	return nil
}

// Stop stops taking new jobs and waits for in-flight ones.
func (p *Pool) Stop() error {
	if !p.started {
		return nil
	}

	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool...")
		p.stop()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		if p.shutdownTimeout <= 0 {
			<-done
		} else {
			timer := time.NewTimer(p.shutdownTimeout)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				p.logger.Warn("Shutdown timeout reached, aborting in-flight jobs",
					slog.Duration("shutdown_timeout", p.shutdownTimeout),
				)
				p.abort()
				<-done
				err = fmt.Errorf("%w: queue %s", ErrShutdownTimeout, p.queue)
			}
		}
		p.abort()
		p.logger.Info("Worker pool stopped")
	})
	return err
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// errorBackoff bounds how fast a worker spins when the store is unreachable.
const errorBackoff = time.Second

// spawnWorkerPool starts the worker goroutines
func (p *Pool) spawnWorkerPool(loopCtx, jobCtx context.Context) {
	p.logger.Info("Spawning worker pool",
		slog.Int("worker_count", p.concurrency),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(loopCtx, jobCtx, i)
	}

	p.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", p.concurrency),
	)
}

// workerLoop claims jobs one at a time until loopCtx is done
func (p *Pool) workerLoop(loopCtx, jobCtx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.queue, workerNum)
	logger := p.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	for {
		j, err := p.manager.Dequeue(loopCtx, p.queue)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Debug("Worker goroutine stopped")
				return
			}
			logger.Error("Failed to dequeue job",
				slog.String("error", err.Error()),
			)
			select {
			case <-loopCtx.Done():
				return
			case <-p.manager.Clock().After(errorBackoff):
			}
			continue
		}

		p.processJob(jobCtx, logger, j)
	}
}

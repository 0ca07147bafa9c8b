package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/cuongbtq/order-fulfillment/internal/queue"
)

// processJob runs the handler for one claimed job and records the outcome.
func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, j *queue.Job) {
	logger = logger.With(
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
	)
	logger.Info("Processing job",
		slog.Int("attempt", j.Attempts+1),
		slog.Int("max_attempts", j.MaxAttempts),
	)

	err := p.runHandler(ctx, j)
	if err == nil {
		if markErr := p.manager.MarkCompleted(ctx, j); markErr != nil {
			// The job stays active and is handed back by stalled recovery.
			logger.Error("Failed to mark job completed",
				slog.String("error", markErr.Error()),
			)
			return
		}
		logger.Info("Job completed successfully")
		return
	}

	status, markErr := p.manager.MarkFailed(ctx, j, err)
	if markErr != nil {
		logger.Error("Failed to record job failure",
			slog.String("error", err.Error()),
			slog.String("mark_error", markErr.Error()),
		)
		return
	}

	if status == queue.StatusDelayed {
		logger.Warn("Job failed, will be retried",
			slog.String("error", err.Error()),
			slog.Int("attempts", j.Attempts),
			slog.Int("max_attempts", j.MaxAttempts),
			slog.Time("available_at", j.AvailableAt),
		)
		return
	}

	logger.Error("Job failed permanently",
		slog.String("error", err.Error()),
		slog.Int("attempts", j.Attempts),
		slog.Bool("permanent", queue.IsPermanent(err)),
	)
}

// runHandler converts a handler panic into an ordinary failed attempt.
func (p *Pool) runHandler(ctx context.Context, j *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job handler panicked",
				slog.String("job_id", j.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, j)
}

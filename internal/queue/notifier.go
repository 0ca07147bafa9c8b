package queue

import "context"

// Notifier tells other processes that a queue has new work.
type Notifier interface {
	Notify(ctx context.Context, queue, jobID string) error
}

// NopNotifier is used when every producer and consumer share one process.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

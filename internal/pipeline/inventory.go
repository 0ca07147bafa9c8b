package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Adjuster is the single entry point for stock mutations. The inventory
// queue and the auto-cancel sweep both go through it.
type Adjuster struct {
	products store.ProductStore
	logger   *slog.Logger
}

func NewAdjuster(products store.ProductStore, logger *slog.Logger) *Adjuster {
	return &Adjuster{products: products, logger: logger}
}

// Decrement takes amount out of stock only when enough remains.
func (a *Adjuster) Decrement(ctx context.Context, productID string, amount int) (*store.Product, error) {
	p, err := a.products.DecrementStock(ctx, productID, amount)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Stock decremented",
		slog.String("product_id", productID),
		slog.Int("amount", amount),
		slog.Int("remaining", p.CountInStock),
	)
	return p, nil
}

// Restore puts amount back into stock.
func (a *Adjuster) Restore(ctx context.Context, productID string, amount int) (*store.Product, error) {
	p, err := a.products.RestoreStock(ctx, productID, amount)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Stock restored",
		slog.String("product_id", productID),
		slog.Int("amount", amount),
		slog.Int("current", p.CountInStock),
	)
	return p, nil
}

// InventoryHandler applies UPDATE_STOCK, RESTORE_STOCK and BATCH_UPDATE jobs.
type InventoryHandler struct {
	adjuster      *Adjuster
	progress      ProgressSaver
	trackProgress bool
	logger        *slog.Logger
}

// NewInventoryHandler builds the handler. With trackProgress set, batch jobs
// record the products they already decremented so a retry skips them;
// without it a retry decrements every item again.
func NewInventoryHandler(adjuster *Adjuster, progress ProgressSaver, trackProgress bool, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		adjuster:      adjuster,
		progress:      progress,
		trackProgress: trackProgress,
		logger:        logger,
	}
}

func (h *InventoryHandler) Handle(ctx context.Context, j *queue.Job) error {
	job, err := jobs.DecodeInventory(j.Payload)
	if err != nil {
		return queue.Permanent(err)
	}

	switch v := job.(type) {
	case jobs.UpdateStock:
		if _, err := h.adjuster.Decrement(ctx, v.ProductID, v.Amount); err != nil {
			return fmt.Errorf("product %s: %w", v.ProductID, err)
		}
		return nil

	case jobs.RestoreStock:
		if _, err := h.adjuster.Restore(ctx, v.ProductID, v.Amount); err != nil {
			if errors.Is(err, store.ErrProductNotFound) {
				return queue.Permanent(fmt.Errorf("product %s: %w", v.ProductID, err))
			}
			return fmt.Errorf("product %s: %w", v.ProductID, err)
		}
		return nil

	case jobs.BatchUpdate:
		return h.batch(ctx, j, v)

	default:
		return queue.Permanent(fmt.Errorf("%w: unhandled inventory job %T", jobs.ErrInvalidPayload, job))
	}
}

// batch decrements every pending item in parallel. Items that succeed are
// never rolled back; the error lists every product that could not be applied.
func (h *InventoryHandler) batch(ctx context.Context, j *queue.Job, b jobs.BatchUpdate) error {
	amounts, order := mergeItems(b.OrderItems)

	done := make(map[string]bool)
	if h.trackProgress {
		for _, id := range b.Applied {
			done[id] = true
		}
	}

	var (
		mu           sync.Mutex
		applied      []string
		insufficient []string
		storeErrs    []error
		g            errgroup.Group
	)
	for _, productID := range order {
		if done[productID] {
			continue
		}
		productID := productID
		amount := amounts[productID]
		g.Go(func() error {
			_, err := h.adjuster.Decrement(ctx, productID, amount)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied = append(applied, productID)
			case errors.Is(err, store.ErrInsufficientStock):
				insufficient = append(insufficient, productID)
			default:
				storeErrs = append(storeErrs, fmt.Errorf("product %s: %w", productID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if h.trackProgress && len(applied) > 0 {
		b.Applied = append(b.Applied, applied...)
		sort.Strings(b.Applied)
		if err := h.progress.SaveProgress(ctx, j, b); err != nil {
			h.logger.Error("Failed to save batch progress, a retry will decrement these items again",
				slog.String("job_id", j.ID),
				slog.Any("applied", applied),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(insufficient) == 0 && len(storeErrs) == 0 {
		h.logger.Info("Batch stock update completed",
			slog.String("job_id", j.ID),
			slog.Int("products", len(order)),
		)
		return nil
	}

	var errs []error
	if len(insufficient) > 0 {
		sort.Strings(insufficient)
		errs = append(errs, fmt.Errorf("failed to update stock for products: %s: %w", strings.Join(insufficient, ", "), store.ErrInsufficientStock))
	}
	sort.Slice(storeErrs, func(a, b int) bool { return storeErrs[a].Error() < storeErrs[b].Error() })
	return errors.Join(append(errs, storeErrs...)...)
}

// mergeItems sums amounts per product so the applied marker is exact, and
// returns the products in first-seen order.
func mergeItems(items []jobs.OrderItem) (map[string]int, []string) {
	amounts := make(map[string]int, len(items))
	var order []string
	for _, item := range items {
		if _, seen := amounts[item.Product]; !seen {
			order = append(order, item.Product)
		}
		amounts[item.Product] += item.Amount
	}
	return amounts, order
}

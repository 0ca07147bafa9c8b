// Package store declares the order, product, notification and user stores
// the pipelines and sweeps depend on.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrOrderNotFound is returned when an order id does not exist
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderCancelled is returned when a payment arrives for a cancelled order
	ErrOrderCancelled = errors.New("order is cancelled")

	// ErrProductNotFound is returned when a product id does not exist
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientStock is returned when a conditional decrement did not apply.
	// The store cannot tell a missing product from one with too little stock.
	ErrInsufficientStock = errors.New("product out of stock or not found")
)

// OrderStore reads and conditionally mutates orders.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	// MarkPaid flips isPaid from 0 to 1 and moves the order to awaiting
	// delivery. It reports false when the order was already paid and returns
	// ErrOrderCancelled when the order was cancelled.
	MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error)
	// FindStaleUnpaid lists unpaid orders pending payment or delivery that
	// were created before the cutoff.
	FindStaleUnpaid(ctx context.Context, createdBefore time.Time) ([]Order, error)
	// CancelUnpaid cancels an order only if it is still unpaid and not yet
	// cancelled or delivered. It reports whether this call cancelled it.
	CancelUnpaid(ctx context.Context, id string, now time.Time) (bool, error)
	// FindStalledDeliveries lists paid orders awaiting delivery that were last
	// updated before the cutoff.
	FindStalledDeliveries(ctx context.Context, updatedBefore time.Time) ([]Order, error)
}

// ProductStore mutates stock with single atomic conditional updates.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
	// DecrementStock subtracts amount from stock and adds it to sold only if
	// enough stock remains. Returns ErrInsufficientStock otherwise.
	DecrementStock(ctx context.Context, productID string, amount int) (*Product, error)
	// RestoreStock adds amount back to stock and takes it off sold.
	RestoreStock(ctx context.Context, productID string, amount int) (*Product, error)
	// ClearExpiredDiscounts resets the discount of active products whose
	// discount window ended before now and returns how many changed.
	ClearExpiredDiscounts(ctx context.Context, now time.Time) (int64, error)
	// FindUpcomingDiscounts lists active discounted products whose discount
	// starts within [from, to].
	FindUpcomingDiscounts(ctx context.Context, from, to time.Time) ([]Product, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error)
}

// RecipientDirectory resolves who hears about an order.
type RecipientDirectory interface {
	Recipients(ctx context.Context, ownerID string) (Recipients, error)
}

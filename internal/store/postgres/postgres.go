// Package postgres implements the fulfillment stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Storage handles order, product, notification and user queries
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var (
	_ store.OrderStore         = (*Storage)(nil)
	_ store.ProductStore       = (*Storage)(nil)
	_ store.NotificationStore  = (*Storage)(nil)
	_ store.RecipientDirectory = (*Storage)(nil)
)

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const orderColumns = `id, user_id, items, total_price, is_paid, status, paid_at, created_at, updated_at`

type orderRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	Items      []byte       `db:"items"`
	TotalPrice float64      `db:"total_price"`
	IsPaid     int          `db:"is_paid"`
	Status     int          `db:"status"`
	PaidAt     sql.NullTime `db:"paid_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

func (r *orderRow) toOrder() (store.Order, error) {
	o := store.Order{
		ID:         r.ID,
		UserID:     r.UserID,
		TotalPrice: r.TotalPrice,
		IsPaid:     r.IsPaid,
		Status:     store.OrderStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.PaidAt.Valid {
		t := r.PaidAt.Time
		o.PaidAt = &t
	}
	if err := json.Unmarshal(r.Items, &o.Items); err != nil {
		return o, fmt.Errorf("failed to decode items of order %s: %w", r.ID, err)
	}
	return o, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*store.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o, err := row.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Storage) MarkPaid(ctx context.Context, id string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET is_paid = 1,
		    paid_at = $1,
		    status = $2,
		    updated_at = $1
		WHERE id = $3
		  AND is_paid = 0
		  AND status <> $4
	`

	res, err := s.db.ExecContext(ctx, query, paidAt, int(store.OrderAwaitingDelivery), id, int(store.OrderCancelled))
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Not applied: find out whether the order is missing, paid or cancelled.
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return false, err
	}
	if o.IsPaid == 0 && o.Status == store.OrderCancelled {
		return false, store.ErrOrderCancelled
	}
	return false, nil
}

func (s *Storage) FindStaleUnpaid(ctx context.Context, createdBefore time.Time) ([]store.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE is_paid = 0 AND status IN ($1, $2) AND created_at < $3
		ORDER BY created_at`
	return s.selectOrders(ctx, query, int(store.OrderPendingPayment), int(store.OrderAwaitingDelivery), createdBefore)
}

func (s *Storage) CancelUnpaid(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1,
		    updated_at = $2
		WHERE id = $3
		  AND is_paid = 0
		  AND status IN ($4, $5)
	`

	res, err := s.db.ExecContext(ctx, query, int(store.OrderCancelled), now, id,
		int(store.OrderPendingPayment), int(store.OrderAwaitingDelivery))
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Storage) FindStalledDeliveries(ctx context.Context, updatedBefore time.Time) ([]store.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE is_paid = 1 AND status = $1 AND updated_at < $2
		ORDER BY updated_at`
	return s.selectOrders(ctx, query, int(store.OrderAwaitingDelivery), updatedBefore)
}

func (s *Storage) selectOrders(ctx context.Context, query string, args ...interface{}) ([]store.Order, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select orders: %w", err)
	}
	return s.decodeOrders(rows), nil
}

// decodeOrders converts candidate rows, skipping any whose items cannot be
// decoded so one corrupt order does not hide the rest.
func (s *Storage) decodeOrders(rows []orderRow) []store.Order {
	orders := make([]store.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toOrder()
		if err != nil {
			s.logger.Error("Skipping undecodable order",
				slog.String("order_id", rows[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		orders = append(orders, o)
	}
	return orders
}

const productColumns = `id, name, count_in_stock, sold, discount, discount_start_date, discount_end_date, status`

type productRow struct {
	ID                string       `db:"id"`
	Name              string       `db:"name"`
	CountInStock      int          `db:"count_in_stock"`
	Sold              int          `db:"sold"`
	Discount          float64      `db:"discount"`
	DiscountStartDate sql.NullTime `db:"discount_start_date"`
	DiscountEndDate   sql.NullTime `db:"discount_end_date"`
	Status            int          `db:"status"`
}

func (r *productRow) toProduct() store.Product {
	p := store.Product{
		ID:           r.ID,
		Name:         r.Name,
		CountInStock: r.CountInStock,
		Sold:         r.Sold,
		Discount:     r.Discount,
		Status:       r.Status,
	}
	if r.DiscountStartDate.Valid {
		t := r.DiscountStartDate.Time
		p.DiscountStartDate = &t
	}
	if r.DiscountEndDate.Valid {
		t := r.DiscountEndDate.Time
		p.DiscountEndDate = &t
	}
	return p
}

func (s *Storage) GetProduct(ctx context.Context, id string) (*store.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p := row.toProduct()
	return &p, nil
}

// DecrementStock applies the stock check and the decrement in one statement
func (s *Storage) DecrementStock(ctx context.Context, productID string, amount int) (*store.Product, error) {
	query := `
		UPDATE products
		SET count_in_stock = count_in_stock - $1,
		    sold = sold + $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND count_in_stock >= $1
		RETURNING ` + productColumns

	var row productRow
	if err := s.db.GetContext(ctx, &row, query, amount, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrInsufficientStock
		}
		return nil, fmt.Errorf("failed to decrement stock: %w", err)
	}
	p := row.toProduct()
	return &p, nil
}

func (s *Storage) RestoreStock(ctx context.Context, productID string, amount int) (*store.Product, error) {
	query := `
		UPDATE products
		SET count_in_stock = count_in_stock + $1,
		    sold = GREATEST(sold - $1, 0),
		    updated_at = NOW()
		WHERE id = $2
		RETURNING ` + productColumns

	var row productRow
	if err := s.db.GetContext(ctx, &row, query, amount, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to restore stock: %w", err)
	}
	p := row.toProduct()
	return &p, nil
}

func (s *Storage) ClearExpiredDiscounts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE products
		SET discount = 0,
		    discount_start_date = NULL,
		    discount_end_date = NULL,
		    updated_at = $1
		WHERE discount > 0
		  AND discount_end_date < $1
		  AND status = $2
	`

	res, err := s.db.ExecContext(ctx, query, now, store.ProductActive)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired discounts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (s *Storage) FindUpcomingDiscounts(ctx context.Context, from, to time.Time) ([]store.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE discount > 0
		  AND discount_start_date BETWEEN $1 AND $2
		  AND status = $3
		ORDER BY id`

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query, from, to, store.ProductActive); err != nil {
		return nil, fmt.Errorf("failed to find upcoming discounts: %w", err)
	}
	products := make([]store.Product, len(rows))
	for i := range rows {
		products[i] = rows[i].toProduct()
	}
	return products, nil
}

func (s *Storage) CreateNotification(ctx context.Context, n *store.Notification) error {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	query := `
		INSERT INTO notifications (id, context, title, body, reference_id, recipients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query, n.ID, n.Context, n.Title, n.Body, n.ReferenceID, recipients, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *Storage) DeleteNotificationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Recipients returns the owner followed by every admin and all their device tokens
func (s *Storage) Recipients(ctx context.Context, ownerID string) (store.Recipients, error) {
	var rows []struct {
		ID           string         `db:"id"`
		DeviceTokens pq.StringArray `db:"device_tokens"`
	}
	query := `
		SELECT id, device_tokens FROM users
		WHERE id = $1 OR is_admin
		ORDER BY (id = $1) DESC, id
	`
	if err := s.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return store.Recipients{}, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	r := store.Recipients{RecipientIDs: []string{ownerID}}
	for _, row := range rows {
		if row.ID != ownerID {
			r.RecipientIDs = append(r.RecipientIDs, row.ID)
		}
		r.DeviceTokens = append(r.DeviceTokens, row.DeviceTokens...)
	}
	return r, nil
}

// PutUser upserts a user, used by seeding and tests
func (s *Storage) PutUser(ctx context.Context, u store.User) error {
	query := `
		INSERT INTO users (id, email, is_admin, device_tokens)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, is_admin = EXCLUDED.is_admin, device_tokens = EXCLUDED.device_tokens
	`
	tokens := u.DeviceTokens
	if tokens == nil {
		tokens = []string{}
	}
	if _, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.IsAdmin, pq.Array(tokens)); err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}

// PutProduct upserts a product, used by seeding and tests
func (s *Storage) PutProduct(ctx context.Context, p store.Product) error {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, count_in_stock = EXCLUDED.count_in_stock, sold = EXCLUDED.sold,
		    discount = EXCLUDED.discount, discount_start_date = EXCLUDED.discount_start_date,
		    discount_end_date = EXCLUDED.discount_end_date, status = EXCLUDED.status
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.CountInStock, p.Sold, p.Discount,
		p.DiscountStartDate, p.DiscountEndDate, p.Status)
	if err != nil {
		return fmt.Errorf("failed to put product: %w", err)
	}
	return nil
}

// PutOrder upserts an order, used by seeding and tests
func (s *Storage) PutOrder(ctx context.Context, o store.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	if o.Items == nil {
		items = []byte("[]")
	}

	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id, items = EXCLUDED.items, total_price = EXCLUDED.total_price,
		    is_paid = EXCLUDED.is_paid, status = EXCLUDED.status, paid_at = EXCLUDED.paid_at,
		    created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, o.ID, o.UserID, items, o.TotalPrice, o.IsPaid, int(o.Status),
		o.PaidAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put order: %w", err)
	}
	return nil
}

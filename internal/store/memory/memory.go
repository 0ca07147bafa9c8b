// Package memory implements the fulfillment stores in process, for tests and
// local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Store holds orders, products, notifications and users behind one mutex so
// every conditional update is atomic.
type Store struct {
	mu            sync.Mutex
	orders        map[string]*store.Order
	products      map[string]*store.Product
	notifications map[string]*store.Notification
	users         map[string]*store.User
}

var (
	_ store.OrderStore         = (*Store)(nil)
	_ store.ProductStore       = (*Store)(nil)
	_ store.NotificationStore  = (*Store)(nil)
	_ store.RecipientDirectory = (*Store)(nil)
)

func New() *Store {
	return &Store{
		orders:        make(map[string]*store.Order),
		products:      make(map[string]*store.Product),
		notifications: make(map[string]*store.Notification),
		users:         make(map[string]*store.User),
	}
}

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(o store.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Items = append([]store.OrderItem(nil), o.Items...)
	s.orders[o.ID] = &o
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p store.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u store.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.DeviceTokens = append([]string(nil), u.DeviceTokens...)
	s.users[u.ID] = &u
}

// Notifications returns every stored notification, oldest first.
func (s *Store) Notifications() []store.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, *n)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *Store) GetOrder(_ context.Context, id string) (*store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]store.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (s *Store) MarkPaid(_ context.Context, id string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	if o.IsPaid == 1 {
		return false, nil
	}
	if o.Status == store.OrderCancelled {
		return false, store.ErrOrderCancelled
	}
	t := paidAt
	o.IsPaid = 1
	o.PaidAt = &t
	o.Status = store.OrderAwaitingDelivery
	o.UpdatedAt = paidAt
	return true, nil
}

func (s *Store) FindStaleUnpaid(_ context.Context, createdBefore time.Time) ([]store.Order, error) {
	return s.findOrders(func(o *store.Order) bool {
		return o.IsPaid == 0 &&
			(o.Status == store.OrderPendingPayment || o.Status == store.OrderAwaitingDelivery) &&
			o.CreatedAt.Before(createdBefore)
	}), nil
}

func (s *Store) CancelUnpaid(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	if o.IsPaid != 0 || (o.Status != store.OrderPendingPayment && o.Status != store.OrderAwaitingDelivery) {
		return false, nil
	}
	o.Status = store.OrderCancelled
	o.UpdatedAt = now
	return true, nil
}

func (s *Store) FindStalledDeliveries(_ context.Context, updatedBefore time.Time) ([]store.Order, error) {
	return s.findOrders(func(o *store.Order) bool {
		return o.IsPaid == 1 && o.Status == store.OrderAwaitingDelivery && o.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (s *Store) findOrders(match func(*store.Order) bool) []store.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Order
	for _, o := range s.orders {
		if match(o) {
			cp := *o
			cp.Items = append([]store.OrderItem(nil), o.Items...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *Store) GetProduct(_ context.Context, id string) (*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) DecrementStock(_ context.Context, productID string, amount int) (*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok || p.CountInStock < amount {
		return nil, store.ErrInsufficientStock
	}
	p.CountInStock -= amount
	p.Sold += amount
	cp := *p
	return &cp, nil
}

func (s *Store) RestoreStock(_ context.Context, productID string, amount int) (*store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrProductNotFound
	}
	p.CountInStock += amount
	p.Sold -= amount
	if p.Sold < 0 {
		p.Sold = 0
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ClearExpiredDiscounts(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.products {
		if p.Discount > 0 && p.Status == store.ProductActive &&
			p.DiscountEndDate != nil && p.DiscountEndDate.Before(now) {
			p.Discount = 0
			p.DiscountStartDate = nil
			p.DiscountEndDate = nil
			n++
		}
	}
	return n, nil
}

func (s *Store) FindUpcomingDiscounts(_ context.Context, from, to time.Time) ([]store.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Product
	for _, p := range s.products {
		if p.Discount > 0 && p.Status == store.ProductActive && p.DiscountStartDate != nil &&
			!p.DiscountStartDate.Before(from) && !p.DiscountStartDate.After(to) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) CreateNotification(_ context.Context, n *store.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	cp.Recipients = append([]store.Recipient(nil), n.Recipients...)
	s.notifications[n.ID] = &cp
	return nil
}

func (s *Store) DeleteNotificationsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.notifications {
		if rec.CreatedAt.Before(before) {
			delete(s.notifications, id)
			n++
		}
	}
	return n, nil
}

// Recipients returns the owner followed by every admin, without duplicates,
// and the device tokens of all of them.
func (s *Store) Recipients(_ context.Context, ownerID string) (store.Recipients, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*store.User
	if owner, ok := s.users[ownerID]; ok {
		users = append(users, owner)
	}
	var admins []*store.User
	for _, u := range s.users {
		if u.IsAdmin && u.ID != ownerID {
			admins = append(admins, u)
		}
	}
	sort.Slice(admins, func(a, b int) bool { return admins[a].ID < admins[b].ID })
	users = append(users, admins...)

	r := store.Recipients{RecipientIDs: []string{ownerID}}
	for _, u := range users {
		if u.ID != ownerID {
			r.RecipientIDs = append(r.RecipientIDs, u.ID)
		}
		r.DeviceTokens = append(r.DeviceTokens, u.DeviceTokens...)
	}
	return r, nil
}

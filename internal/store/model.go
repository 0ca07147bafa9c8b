package store

import "time"

// OrderStatus is the delivery state of an order.
type OrderStatus int

const (
	OrderPendingPayment   OrderStatus = 0
	OrderAwaitingDelivery OrderStatus = 1
	OrderDelivered        OrderStatus = 2
	OrderCancelled        OrderStatus = 3
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPendingPayment:
		return "pending_payment"
	case OrderAwaitingDelivery:
		return "awaiting_delivery"
	case OrderDelivered:
		return "delivered"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ProductActive is the status of a product that is on sale.
const ProductActive = 1

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string  `json:"product"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Amount    int     `json:"amount"`
	Price     float64 `json:"price"`
}

type Order struct {
	ID         string
	UserID     string
	Items      []OrderItem
	TotalPrice float64
	IsPaid     int
	Status     OrderStatus
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Product struct {
	ID                string
	Name              string
	CountInStock      int
	Sold              int
	Discount          float64
	DiscountStartDate *time.Time
	DiscountEndDate   *time.Time
	Status            int
}

// Recipient is the per-user read state of a notification.
type Recipient struct {
	UserID string `json:"userId"`
	IsRead bool   `json:"isRead"`
}

type Notification struct {
	ID          string
	Context     string
	Title       string
	Body        string
	ReferenceID string
	Recipients  []Recipient
	CreatedAt   time.Time
}

// User is the slice of a user account the fulfillment pipeline needs.
type User struct {
	ID           string
	Email        string
	IsAdmin      bool
	DeviceTokens []string
}

// Recipients is the audience of an order notification: the order owner plus
// every admin, and the push tokens of all of them.
type Recipients struct {
	RecipientIDs []string
	DeviceTokens []string
}

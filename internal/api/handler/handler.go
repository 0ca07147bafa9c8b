package handler

import (
	"log/slog"

	"github.com/cuongbtq/order-fulfillment/internal/payment/vnpay"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Queue  *queue.Manager
	Orders store.OrderStore
	Signer *vnpay.Signer

	// HealthChecks are run by GET /health; any error reports unhealthy.
	HealthChecks map[string]HealthCheck
}

// JobHandler serves the queue admin endpoints.
type JobHandler struct {
	logger *slog.Logger
	queue  *queue.Manager
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
	}
}

// PaymentHandler serves the payment gateway endpoints.
type PaymentHandler struct {
	logger *slog.Logger
	queue  *queue.Manager
	orders store.OrderStore
	signer *vnpay.Signer
}

func NewPaymentHandler(deps *Dependencies) *PaymentHandler {
	return &PaymentHandler{
		logger: deps.Logger,
		queue:  deps.Queue,
		orders: deps.Orders,
		signer: deps.Signer,
	}
}

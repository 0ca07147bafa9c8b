package jobs

import (
	"encoding/json"
	"fmt"
)

// PaymentStatus is the outcome reported by the payment gateway.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

const PaymentMethodVNPay = "VNPAY"

// PaymentResult is the only payload carried by the payment queue.
type PaymentResult struct {
	OrderID       string        `json:"orderId"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod string        `json:"paymentMethod"`

	// Confirming is saved by the worker before it marks the order paid. A
	// retry that finds the order already paid still owes the notification.
	Confirming bool `json:"confirming,omitempty"`
}

func (PaymentResult) JobType() string { return "PAYMENT_RESULT" }

// DecodePayment parses and validates a payment payload.
func DecodePayment(raw json.RawMessage) (PaymentResult, error) {
	var p PaymentResult
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.OrderID == "" {
		return p, fmt.Errorf("%w: orderId is required", ErrInvalidPayload)
	}
	switch p.PaymentStatus {
	case PaymentSuccess, PaymentFailed:
	default:
		return p, fmt.Errorf("%w: unknown paymentStatus %q", ErrInvalidPayload, p.PaymentStatus)
	}
	return p, nil
}

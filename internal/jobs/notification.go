package jobs

import (
	"encoding/json"
	"fmt"
)

// Notification contexts.
const (
	ContextOrder        = "ORDER"
	ContextPaymentVNPay = "PAYMENT_VN_PAY"
)

// Notification titles. They are action codes; DisplayTitle maps them to the
// text shown in push messages.
const (
	ActionCancelOrder         = "CANCEL_ORDER"
	ActionCreateOrder         = "CREATE_ORDER"
	ActionWaitPayment         = "WAIT_PAYMENT"
	ActionWaitDelivery        = "WAIT_DELIVERY"
	ActionDoneOrder           = "DONE_ORDER"
	ActionIsDelivered         = "IS_DELIVERED"
	ActionIsPaid              = "IS_PAID"
	ActionPaymentVNPayError   = "PAYMENT_VN_PAY_ERROR"
	ActionPaymentVNPaySuccess = "PAYMENT_VN_PAY_SUCCESS"
)

var displayTitles = map[string]string{
	ActionCancelOrder:         "Order cancelled",
	ActionCreateOrder:         "Order placed",
	ActionWaitPayment:         "Order awaiting payment",
	ActionWaitDelivery:        "Order awaiting delivery",
	ActionDoneOrder:           "Order completed",
	ActionIsDelivered:         "Order delivered",
	ActionIsPaid:              "Order paid",
	ActionPaymentVNPayError:   "VNPay payment failed",
	ActionPaymentVNPaySuccess: "VNPay payment succeeded",
}

// DisplayTitle returns the human readable title of an action code, or the
// code itself when it is not known.
func DisplayTitle(title string) string {
	if t, ok := displayTitles[title]; ok {
		return t
	}
	return title
}

// Notification is the payload of the notification queue.
type Notification struct {
	Context      string   `json:"context"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	ReferenceID  string   `json:"referenceId"`
	RecipientIDs []string `json:"recipientIds"`
	DeviceTokens []string `json:"deviceTokens"`
}

func (Notification) JobType() string { return "NOTIFICATION" }

func DecodeNotification(raw json.RawMessage) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if n.Title == "" {
		return n, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	return n, nil
}

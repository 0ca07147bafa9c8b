package jobs

import (
	"encoding/json"
	"fmt"
)

const (
	TypeCreateOrder    = "CREATE_ORDER"
	TypeForgotPassword = "FORGOT_PASSWORD"
)

// EmailJob is one of CreateOrderEmail or ForgotPasswordEmail.
type EmailJob interface {
	Payload
	Recipient() string
	emailJob()
}

// EmailOrderItem is an order line rendered in the confirmation email.
type EmailOrderItem struct {
	Name   string  `json:"name"`
	Image  string  `json:"image"`
	Amount int     `json:"amount"`
	Price  float64 `json:"price"`
}

// CreateOrderEmail confirms a freshly placed order.
type CreateOrderEmail struct {
	Email      string           `json:"email"`
	OrderItems []EmailOrderItem `json:"orderItems"`
}

// ForgotPasswordEmail carries a password reset link.
type ForgotPasswordEmail struct {
	Email     string `json:"email"`
	ResetLink string `json:"resetLink"`
}

func (CreateOrderEmail) JobType() string    { return TypeCreateOrder }
func (ForgotPasswordEmail) JobType() string { return TypeForgotPassword }

func (e CreateOrderEmail) Recipient() string    { return e.Email }
func (e ForgotPasswordEmail) Recipient() string { return e.Email }

func (CreateOrderEmail) emailJob()    {}
func (ForgotPasswordEmail) emailJob() {}

type emailWire struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (e CreateOrderEmail) MarshalJSON() ([]byte, error) {
	type plain CreateOrderEmail
	return marshalEmail(TypeCreateOrder, plain(e))
}

func (e ForgotPasswordEmail) MarshalJSON() ([]byte, error) {
	type plain ForgotPasswordEmail
	return marshalEmail(TypeForgotPassword, plain(e))
}

func marshalEmail(typ string, data interface{}) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(emailWire{Type: typ, Data: body})
}

// DecodeEmail parses an email payload into its concrete variant.
func DecodeEmail(raw json.RawMessage) (EmailJob, error) {
	var w emailWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch w.Type {
	case TypeCreateOrder:
		var e CreateOrderEmail
		if err := json.Unmarshal(w.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if e.Email == "" {
			return nil, fmt.Errorf("%w: email is required", ErrInvalidPayload)
		}
		return e, nil
	case TypeForgotPassword:
		var e ForgotPasswordEmail
		if err := json.Unmarshal(w.Data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if e.Email == "" || e.ResetLink == "" {
			return nil, fmt.Errorf("%w: email and resetLink are required", ErrInvalidPayload)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown email job type %q", ErrInvalidPayload, w.Type)
	}
}

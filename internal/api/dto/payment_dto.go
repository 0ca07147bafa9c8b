package dto

// IPNResponse is the body the payment gateway expects back from the IPN.
type IPNResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

type CreatePaymentURLRequest struct {
	OrderID  string `json:"orderId" binding:"required"`
	Language string `json:"language"`
	BankCode string `json:"bankCode"`
}

type CreatePaymentURLResponse struct {
	URL string `json:"url"`
}

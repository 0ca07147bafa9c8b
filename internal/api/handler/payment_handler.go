package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/order-fulfillment/internal/api/dto"
	"github.com/cuongbtq/order-fulfillment/internal/jobs"
	"github.com/cuongbtq/order-fulfillment/internal/payment/vnpay"
	"github.com/cuongbtq/order-fulfillment/internal/queue"
	"github.com/cuongbtq/order-fulfillment/internal/store"
)

// VNPayIPN handles GET /api/v1/payments/vnpay/ipn
// Every notification with an order reference becomes a payment job; the
// gateway always gets HTTP 200 with an RspCode.
func (h *PaymentHandler) VNPayIPN(c *gin.Context) {
	ipn := h.signer.VerifyIPN(c.Request.URL.Query())
	logger := h.logger.With(
		slog.String("order_id", ipn.OrderID),
		slog.String("response_code", ipn.ResponseCode),
	)

	if !ipn.ValidSignature {
		logger.Warn("VNPay IPN signature mismatch")
		if ipn.OrderID != "" {
			if _, err := h.enqueueResult(c, ipn.OrderID, jobs.PaymentFailed); err != nil {
				logger.Error("Failed to enqueue payment result", slog.String("error", err.Error()))
				c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspUnknownError, Message: "Unknown error"})
				return
			}
		}
		c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspInvalidSignature, Message: "Invalid signature"})
		return
	}

	if _, err := h.orders.GetOrder(c.Request.Context(), ipn.OrderID); err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			logger.Warn("VNPay IPN for unknown order")
			c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspOrderNotFound, Message: "Order not found"})
			return
		}
		logger.Error("Failed to load order", slog.String("error", err.Error()))
		c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspUnknownError, Message: "Unknown error"})
		return
	}

	status := jobs.PaymentFailed
	if ipn.Paid() {
		status = jobs.PaymentSuccess
	}

	jobID, err := h.enqueueResult(c, ipn.OrderID, status)
	if err != nil {
		logger.Error("Failed to enqueue payment result", slog.String("error", err.Error()))
		c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspUnknownError, Message: "Unknown error"})
		return
	}

	logger.Info("VNPay IPN accepted",
		slog.String("job_id", jobID),
		slog.String("payment_status", string(status)),
	)
	c.JSON(http.StatusOK, dto.IPNResponse{RspCode: vnpay.RspConfirmed, Message: "Confirm success"})
}

func (h *PaymentHandler) enqueueResult(c *gin.Context, orderID string, status jobs.PaymentStatus) (string, error) {
	return h.queue.Enqueue(c.Request.Context(), queue.QueuePayment, jobs.PaymentResult{
		OrderID:       orderID,
		PaymentStatus: status,
		PaymentMethod: jobs.PaymentMethodVNPay,
	})
}

// CreatePaymentURL handles POST /api/v1/payments/vnpay/url
// Builds the signed checkout URL for an unpaid order
func (h *PaymentHandler) CreatePaymentURL(c *gin.Context) {
	var req dto.CreatePaymentURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Order not found",
			})
			return
		}
		h.logger.Error("Failed to load order", slog.String("order_id", req.OrderID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load order",
		})
		return
	}

	if order.IsPaid == 1 || order.Status == store.OrderCancelled {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Order is not awaiting payment",
		})
		return
	}

	payURL, err := h.signer.PaymentURL(vnpay.PaymentRequest{
		OrderID:  order.ID,
		Amount:   int64(order.TotalPrice),
		Language: req.Language,
		BankCode: req.BankCode,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		h.logger.Error("Failed to build payment URL", slog.String("order_id", order.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, dto.CreatePaymentURLResponse{URL: payURL})
}

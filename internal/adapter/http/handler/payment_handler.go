package handler

import (
	"payment-orchestrator/internal/adapter/http/dto"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"
	"payment-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles payment-related endpoints.
type PaymentHandler struct {
	lifecycleSvc ports.LifecycleService
	reportingSvc ports.ReportingService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(lifecycleSvc ports.LifecycleService, reportingSvc ports.ReportingService) *PaymentHandler {
	return &PaymentHandler{lifecycleSvc: lifecycleSvc, reportingSvc: reportingSvc}
}

// InitiatePayment handles POST /api/v1/payments. It records the
// transaction, then fires the push request upstream.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tx, err := h.lifecycleSvc.Create(c.Request.Context(), ports.PaymentIntent{
		OrderID:          req.OrderID,
		PhoneNumber:      req.PhoneNumber,
		Amount:           req.Amount,
		BankCode:         req.BankCode,
		AccountReference: req.AccountReference,
		Description:      req.Description,
		CallbackURL:      req.CallbackURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	tx, err = h.lifecycleSvc.InitiatePush(c.Request.Context(), tx)
	if err != nil {
		// The transaction record exists either way; a business rejection
		// carries it back so the caller sees the failed state.
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(tx))
}

// GetPayment handles GET /api/v1/payments/:orderId.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	orderID := c.Param("orderId")
	if err := dto.ValidateOrderID(orderID); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tx, err := h.lifecycleSvc.GetByOrderID(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(tx))
}

// GetStats handles GET /api/v1/payments/stats.
func (h *PaymentHandler) GetStats(c *gin.Context) {
	stats, err := h.reportingSvc.GetStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		Total:          stats.Total,
		Initiated:      stats.Initiated,
		Pending:        stats.Pending,
		Completed:      stats.Completed,
		Failed:         stats.Failed,
		Timeout:        stats.TimedOut,
		STKPush:        stats.STKPush,
		C2B:            stats.C2B,
		CompletedValue: stats.CompletedValue,
	})
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		OrderID:            tx.OrderID,
		Status:             string(tx.Status),
		PaymentMethod:      string(tx.PaymentMethod),
		Amount:             tx.Amount,
		PhoneNumber:        tx.PhoneNumber,
		Paybill:            tx.Paybill,
		BankName:           tx.BankName,
		AccountReference:   tx.AccountReference,
		CustomerMessage:    tx.CustomerMessage,
		MpesaReceiptNumber: tx.MpesaReceiptNumber,
		TransactionDate:    tx.TransactionDate,
		WebhookSuccessful:  tx.WebhookSuccessful,
		WebhookAttempts:    tx.WebhookAttempts,
		CreatedAt:          tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          tx.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

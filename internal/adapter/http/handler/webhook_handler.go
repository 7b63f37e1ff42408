package handler

import (
	"payment-orchestrator/internal/adapter/http/dto"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"
	"payment-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler exposes the operator surface of the delivery queue.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// QueueStats handles GET /api/v1/webhooks/queue.
func (h *WebhookHandler) QueueStats(c *gin.Context) {
	stats, err := h.webhookSvc.QueueStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.QueueStatsResponse{
		Pending:   stats.Pending,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Jobs:      make([]dto.QueueJobResponse, 0, len(stats.Jobs)),
	}
	for _, job := range stats.Jobs {
		resp.Jobs = append(resp.Jobs, dto.QueueJobResponse{
			ID:          job.ID,
			OrderID:     job.OrderID,
			URL:         job.URL,
			Event:       job.Event,
			Attempts:    job.Attempts,
			MaxRetries:  job.MaxRetries,
			Status:      job.Status,
			NextAttempt: job.NextAttempt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	response.OK(c, resp)
}

// Retry handles POST /api/v1/webhooks/retry/:orderId. Queues a fresh
// delivery attempt regardless of prior failure history.
func (h *WebhookHandler) Retry(c *gin.Context) {
	orderID := c.Param("orderId")
	if err := dto.ValidateOrderID(orderID); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	if err := h.webhookSvc.Retry(c.Request.Context(), orderID); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.RetryResponse{OrderID: orderID, Queued: true})
}

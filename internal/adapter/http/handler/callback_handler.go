package handler

import (
	"fmt"
	"net/http"

	"payment-orchestrator/internal/adapter/http/dto"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// CallbackHandler receives asynchronous results from the upstream
// gateway: push callbacks plus C2B validation/confirmation.
type CallbackHandler struct {
	lifecycleSvc ports.LifecycleService
	c2bSvc       ports.C2BService
	log          zerolog.Logger
}

// NewCallbackHandler creates a new CallbackHandler.
func NewCallbackHandler(lifecycleSvc ports.LifecycleService, c2bSvc ports.C2BService, log zerolog.Logger) *CallbackHandler {
	return &CallbackHandler{lifecycleSvc: lifecycleSvc, c2bSvc: c2bSvc, log: log}
}

// STKCallback handles POST /api/v1/mpesa/callback. The upstream treats
// any non-200 as undelivered and gives up, so processing errors are
// logged and acknowledged rather than surfaced.
func (h *CallbackHandler) STKCallback(c *gin.Context) {
	var env dto.STKCallbackEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		h.log.Warn().Err(err).Msg("malformed push callback body")
		c.JSON(http.StatusOK, dto.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	cb := env.Body.StkCallback
	orderID, err := h.lifecycleSvc.OrderIDForCheckout(c.Request.Context(), cb.CheckoutRequestID)
	if err != nil {
		h.log.Warn().
			Err(err).
			Str("checkout_request_id", cb.CheckoutRequestID).
			Msg("push callback for unknown checkout request")
		c.JSON(http.StatusOK, dto.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		return
	}

	metadata := make([]domain.CallbackItem, 0, len(cb.CallbackMetadata.Item))
	for _, item := range cb.CallbackMetadata.Item {
		metadata = append(metadata, domain.CallbackItem{Name: item.Name, Value: item.Value})
	}

	if _, err := h.lifecycleSvc.ApplyCallback(c.Request.Context(), orderID, cb.ResultCode, cb.ResultDesc, metadata); err != nil {
		h.log.Error().Err(err).Str("order_id", orderID).Msg("failed to apply push callback")
	}

	c.JSON(http.StatusOK, dto.CallbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// C2BValidate handles POST /api/v1/mpesa/c2b/validate. Pure precheck,
// nothing is persisted.
func (h *CallbackHandler) C2BValidate(c *gin.Context) {
	var req dto.C2BRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn().Err(err).Msg("malformed c2b validation body")
		c.JSON(http.StatusOK, dto.C2BResponse{ResultCode: "C2B00016", ResultDesc: "Malformed request"})
		return
	}

	result := h.c2bSvc.Validate(toC2BPayload(req))
	c.JSON(http.StatusOK, dto.C2BResponse{ResultCode: result.ResultCode, ResultDesc: result.ResultDesc})
}

// C2BConfirm handles POST /api/v1/mpesa/c2b/confirm. The funds are
// already settled, so the answer is an acknowledgement either way; a
// persistence failure is reported in-band so the upstream redelivers.
func (h *CallbackHandler) C2BConfirm(c *gin.Context) {
	var req dto.C2BRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn().Err(err).Msg("malformed c2b confirmation body")
		c.JSON(http.StatusOK, dto.C2BResponse{ResultCode: "C2B00016", ResultDesc: "Malformed request"})
		return
	}

	if _, err := h.c2bSvc.Confirm(c.Request.Context(), toC2BPayload(req)); err != nil {
		h.log.Error().Err(err).Str("trans_id", req.TransID).Msg("failed to record c2b confirmation")
		c.JSON(http.StatusOK, dto.C2BResponse{ResultCode: "C2B00016", ResultDesc: "Processing failed"})
		return
	}

	c.JSON(http.StatusOK, dto.C2BResponse{ResultCode: "0", ResultDesc: "Accepted"})
}

func toC2BPayload(req dto.C2BRequest) ports.C2BPayload {
	return ports.C2BPayload{
		TransactionType:   req.TransactionType,
		TransID:           req.TransID,
		TransTime:         req.TransTime,
		TransAmount:       stringifyAmount(req.TransAmount),
		BusinessShortCode: req.BusinessShortCode,
		BillRefNumber:     req.BillRefNumber,
		MSISDN:            req.MSISDN,
		FirstName:         req.FirstName,
		MiddleName:        req.MiddleName,
		LastName:          req.LastName,
		OrgAccountBalance: req.OrgAccountBalance,
		ThirdPartyTransID: req.ThirdPartyTransID,
	}
}

// stringifyAmount flattens the number-or-string amount field into its
// textual form without losing precision on whole numbers.
func stringifyAmount(v any) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case float64:
		if a == float64(int64(a)) {
			return fmt.Sprintf("%d", int64(a))
		}
		return fmt.Sprintf("%g", a)
	default:
		return fmt.Sprintf("%v", a)
	}
}

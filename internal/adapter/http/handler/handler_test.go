package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-orchestrator/internal/adapter/http/dto"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/internal/core/ports/mocks"
	"payment-orchestrator/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sampleTx(status domain.TransactionStatus) *domain.Transaction {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	return &domain.Transaction{
		OrderID:          "ORDER-001",
		PaymentMethod:    domain.PaymentMethodSTKPush,
		PhoneNumber:      "254712345678",
		Amount:           150,
		Paybill:          "247247",
		BankName:         "Equity Bank",
		AccountReference: "INV-42",
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func postJSON(h gin.HandlerFunc, path string, body []byte, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = params
	c.Request = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h(c)
	return w
}

func getReq(h gin.HandlerFunc, path string, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = params
	c.Request = httptest.NewRequest(http.MethodGet, path, nil)
	h(c)
	return w
}

// --- Payment Handler Tests ---

func TestInitiatePayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	created := sampleTx(domain.TransactionStatusInitiated)
	accepted := sampleTx(domain.TransactionStatusPending)
	accepted.CheckoutRequestID = "co-1"

	lifecycle.EXPECT().Create(gomock.Any(), ports.PaymentIntent{
		OrderID:          "ORDER-001",
		PhoneNumber:      "254712345678",
		Amount:           150,
		AccountReference: "INV-42",
		CallbackURL:      "https://merchant.example/hook",
	}).Return(created, nil)
	lifecycle.EXPECT().InitiatePush(gomock.Any(), created).Return(accepted, nil)

	body, _ := json.Marshal(dto.PaymentRequest{
		OrderID:          "ORDER-001",
		PhoneNumber:      "254712345678",
		Amount:           150,
		AccountReference: "INV-42",
		CallbackURL:      "https://merchant.example/hook",
	})
	w := postJSON(h.InitiatePayment, "/api/v1/payments", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, "ORDER-001", data["order_id"])
	assert.Equal(t, "pending", data["status"])
}

func TestInitiatePayment_BadPhone(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	body, _ := json.Marshal(dto.PaymentRequest{
		OrderID:          "ORDER-001",
		PhoneNumber:      "0712345678",
		Amount:           150,
		AccountReference: "INV-42",
	})
	w := postJSON(h.InitiatePayment, "/api/v1/payments", body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInitiatePayment_DuplicateOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	lifecycle.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrDuplicateOrder("ORDER-001"))

	body, _ := json.Marshal(dto.PaymentRequest{
		OrderID:          "ORDER-001",
		PhoneNumber:      "254712345678",
		Amount:           150,
		AccountReference: "INV-42",
	})
	w := postJSON(h.InitiatePayment, "/api/v1/payments", body)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_001", resp["error_code"])
}

func TestInitiatePayment_UpstreamRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	created := sampleTx(domain.TransactionStatusInitiated)
	failed := sampleTx(domain.TransactionStatusFailed)

	lifecycle.EXPECT().Create(gomock.Any(), gomock.Any()).Return(created, nil)
	lifecycle.EXPECT().InitiatePush(gomock.Any(), created).Return(failed, apperror.ErrUpstreamRejected("1", "Insufficient funds"))

	body, _ := json.Marshal(dto.PaymentRequest{
		OrderID:          "ORDER-001",
		PhoneNumber:      "254712345678",
		Amount:           150,
		AccountReference: "INV-42",
	})
	w := postJSON(h.InitiatePayment, "/api/v1/payments", body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetPayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	tx := sampleTx(domain.TransactionStatusCompleted)
	tx.MpesaReceiptNumber = "QK12345XYZ"
	lifecycle.EXPECT().GetByOrderID(gomock.Any(), "ORDER-001").Return(tx, nil)

	w := getReq(h.GetPayment, "/api/v1/payments/ORDER-001", gin.Param{Key: "orderId", Value: "ORDER-001"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "QK12345XYZ", data["mpesa_receipt_number"])
}

func TestGetPayment_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewPaymentHandler(lifecycle, nil)

	lifecycle.EXPECT().GetByOrderID(gomock.Any(), "GHOST").Return(nil, apperror.ErrTransactionNotFound("GHOST"))

	w := getReq(h.GetPayment, "/api/v1/payments/GHOST", gin.Param{Key: "orderId", Value: "GHOST"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	reporting := mocks.NewMockReportingService(ctrl)
	h := NewPaymentHandler(nil, reporting)

	reporting.EXPECT().GetStats(gomock.Any()).Return(&ports.TransactionStats{
		Total: 10, Completed: 6, STKPush: 8, C2B: 2, CompletedValue: 4200,
	}, nil)

	w := getReq(h.GetStats, "/api/v1/payments/stats")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(10), data["total"])
	assert.Equal(t, float64(2), data["c2b"])
}

// --- Callback Handler Tests ---

func stkCallbackBody(resultCode any) []byte {
	body := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "co-1",
				"ResultCode":        resultCode,
				"ResultDesc":        "The service request is processed successfully.",
				"CallbackMetadata": map[string]any{
					"Item": []map[string]any{
						{"Name": "Amount", "Value": 150},
						{"Name": "MpesaReceiptNumber", "Value": "QK12345XYZ"},
						{"Name": "TransactionDate", "Value": 20260829101500},
					},
				},
			},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

func TestSTKCallback_AppliesAndAcks(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewCallbackHandler(lifecycle, nil, zerolog.Nop())

	lifecycle.EXPECT().OrderIDForCheckout(gomock.Any(), "co-1").Return("ORDER-001", nil)
	lifecycle.EXPECT().ApplyCallback(gomock.Any(), "ORDER-001", float64(0), "The service request is processed successfully.", gomock.Any()).
		DoAndReturn(func(_ any, _ string, _ any, _ string, metadata []domain.CallbackItem) (*domain.Transaction, error) {
			require.Len(t, metadata, 3)
			assert.Equal(t, "MpesaReceiptNumber", metadata[1].Name)
			return sampleTx(domain.TransactionStatusCompleted), nil
		})

	w := postJSON(h.STKCallback, "/api/v1/mpesa/callback", stkCallbackBody(0))

	assert.Equal(t, http.StatusOK, w.Code)
	var ack dto.CallbackAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, 0, ack.ResultCode)
}

func TestSTKCallback_UnknownCheckoutStillAcks(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewCallbackHandler(lifecycle, nil, zerolog.Nop())

	lifecycle.EXPECT().OrderIDForCheckout(gomock.Any(), "co-1").Return("", apperror.ErrTransactionNotFound("co-1"))

	w := postJSON(h.STKCallback, "/api/v1/mpesa/callback", stkCallbackBody(0))

	// The upstream must always get a 200, otherwise it gives up for good.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSTKCallback_MalformedBodyStillAcks(t *testing.T) {
	ctrl := gomock.NewController(t)
	lifecycle := mocks.NewMockLifecycleService(ctrl)
	h := NewCallbackHandler(lifecycle, nil, zerolog.Nop())

	w := postJSON(h.STKCallback, "/api/v1/mpesa/callback", []byte(`{not json`))

	assert.Equal(t, http.StatusOK, w.Code)
}

func c2bBody() []byte {
	b, _ := json.Marshal(map[string]any{
		"TransactionType":   "Pay Bill",
		"TransID":           "RKTQDM7W6S",
		"TransTime":         "20260829094523",
		"TransAmount":       "150.00",
		"BusinessShortCode": "247247",
		"BillRefNumber":     "INV-42",
		"MSISDN":            "254712345678",
		"FirstName":         "Jane",
	})
	return b
}

func TestC2BValidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	c2b := mocks.NewMockC2BService(ctrl)
	h := NewCallbackHandler(nil, c2b, zerolog.Nop())

	c2b.EXPECT().Validate(gomock.Any()).DoAndReturn(func(p ports.C2BPayload) ports.C2BResult {
		assert.Equal(t, "RKTQDM7W6S", p.TransID)
		assert.Equal(t, "150.00", p.TransAmount)
		return ports.C2BResult{ResultCode: "0", ResultDesc: "Accepted"}
	})

	w := postJSON(h.C2BValidate, "/api/v1/mpesa/c2b/validate", c2bBody())

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.C2BResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.ResultCode)
}

func TestC2BValidate_NumericAmountFlattened(t *testing.T) {
	ctrl := gomock.NewController(t)
	c2b := mocks.NewMockC2BService(ctrl)
	h := NewCallbackHandler(nil, c2b, zerolog.Nop())

	c2b.EXPECT().Validate(gomock.Any()).DoAndReturn(func(p ports.C2BPayload) ports.C2BResult {
		assert.Equal(t, "150", p.TransAmount)
		return ports.C2BResult{ResultCode: "0", ResultDesc: "Accepted"}
	})

	body, _ := json.Marshal(map[string]any{
		"TransactionType":   "Pay Bill",
		"TransID":           "RKTQDM7W6S",
		"TransAmount":       150,
		"BusinessShortCode": "247247",
		"MSISDN":            "254712345678",
	})
	w := postJSON(h.C2BValidate, "/api/v1/mpesa/c2b/validate", body)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestC2BConfirm_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	c2b := mocks.NewMockC2BService(ctrl)
	h := NewCallbackHandler(nil, c2b, zerolog.Nop())

	c2b.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(sampleTx(domain.TransactionStatusCompleted), nil)

	w := postJSON(h.C2BConfirm, "/api/v1/mpesa/c2b/confirm", c2bBody())

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.C2BResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "0", resp.ResultCode)
}

func TestC2BConfirm_PersistenceFailureReportedInBand(t *testing.T) {
	ctrl := gomock.NewController(t)
	c2b := mocks.NewMockC2BService(ctrl)
	h := NewCallbackHandler(nil, c2b, zerolog.Nop())

	c2b.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrDatabaseError(assert.AnError))

	w := postJSON(h.C2BConfirm, "/api/v1/mpesa/c2b/confirm", c2bBody())

	assert.Equal(t, http.StatusOK, w.Code)
	var resp dto.C2BResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "C2B00016", resp.ResultCode)
}

// --- Webhook Handler Tests ---

func TestWebhookQueueStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	webhook := mocks.NewMockWebhookService(ctrl)
	h := NewWebhookHandler(webhook)

	webhook.EXPECT().QueueStats(gomock.Any()).Return(&ports.QueueStats{
		Pending: 2, Completed: 10, Failed: 1,
		Jobs: []ports.JobSummary{{
			ID: "ORDER-001_123", OrderID: "ORDER-001", URL: "https://merchant.example/hook",
			Event: "payment.completed", Attempts: 1, MaxRetries: 5, Status: "pending",
			NextAttempt: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		}},
	}, nil)

	w := getReq(h.QueueStats, "/api/v1/webhooks/queue")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]any)
	assert.Equal(t, float64(2), data["pending"])
	jobs := data["jobs"].([]any)
	require.Len(t, jobs, 1)
}

func TestWebhookRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	webhook := mocks.NewMockWebhookService(ctrl)
	h := NewWebhookHandler(webhook)

	webhook.EXPECT().Retry(gomock.Any(), "ORDER-001").Return(nil)

	w := postJSON(h.Retry, "/api/v1/webhooks/retry/ORDER-001", nil,
		gin.Param{Key: "orderId", Value: "ORDER-001"})

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookRetry_UnknownOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	webhook := mocks.NewMockWebhookService(ctrl)
	h := NewWebhookHandler(webhook)

	webhook.EXPECT().Retry(gomock.Any(), "GHOST").Return(apperror.ErrTransactionNotFound("GHOST"))

	w := postJSON(h.Retry, "/api/v1/webhooks/retry/GHOST", nil,
		gin.Param{Key: "orderId", Value: "GHOST"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Health Handler Tests ---

type staticChecker struct {
	name string
	err  error
}

func (c staticChecker) Ping(_ context.Context) error { return c.err }
func (c staticChecker) Name() string                 { return c.name }

func TestHealthCheck_AllHealthy(t *testing.T) {
	w := getReq(HealthCheck(staticChecker{name: "postgresql"}, staticChecker{name: "redis"}), "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthCheck_Degraded(t *testing.T) {
	w := getReq(HealthCheck(
		staticChecker{name: "postgresql"},
		staticChecker{name: "redis", err: assert.AnError},
	), "/health")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-orchestrator/config"
	"payment-orchestrator/internal/adapter/http/handler"
	"payment-orchestrator/internal/adapter/mpesa"
	redisStorage "payment-orchestrator/internal/adapter/storage/redis"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/internal/service"
	"payment-orchestrator/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp builds the full application stack: real HTTP layer, middleware,
// handlers and services over in-memory repos, miniredis for the token
// slot, and a stubbed upstream gateway. The webhook delivery loop runs
// for real against a capturing receiver.

type testApp struct {
	server   *httptest.Server
	upstream *stubUpstream
	receiver *webhookReceiver
	redis    *miniredis.Miniredis
	txRepo   *inMemoryTransactionRepo
	jobRepo  *inMemoryNotificationJobRepo
	sigSvc   ports.SignatureService
	cancel   context.CancelFunc
}

const webhookTestSecret = "integration-webhook-secret"

// stubUpstream fakes the Daraja token and push endpoints. Each push is
// acknowledged with a fresh checkout request id.
type stubUpstream struct {
	server     *httptest.Server
	pushCount  atomic.Int64
	lastCoID   atomic.Value // string
	rejectPush atomic.Bool
}

func newStubUpstream() *stubUpstream {
	u := &stubUpstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"integration-token","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		n := u.pushCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if u.rejectPush.Load() {
			_, _ = fmt.Fprintf(w, `{"MerchantRequestID":"mr-%d","CheckoutRequestID":"co-%d","ResponseCode":"1","ResponseDescription":"Insufficient funds"}`, n, n)
			return
		}
		coID := fmt.Sprintf("co-%d", n)
		u.lastCoID.Store(coID)
		_, _ = fmt.Fprintf(w, `{"MerchantRequestID":"mr-%d","CheckoutRequestID":"%s","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`, n, coID)
	})
	u.server = httptest.NewServer(mux)
	return u
}

func (u *stubUpstream) lastCheckoutID() string {
	v, _ := u.lastCoID.Load().(string)
	return v
}

// webhookReceiver captures merchant notification deliveries.
type capturedDelivery struct {
	header http.Header
	body   []byte
}

type webhookReceiver struct {
	server *httptest.Server
	mu     sync.Mutex
	got    []capturedDelivery
}

func newWebhookReceiver() *webhookReceiver {
	r := &webhookReceiver{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.got = append(r.got, capturedDelivery{header: req.Header.Clone(), body: body})
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return r
}

func (r *webhookReceiver) deliveries(event string) []capturedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []capturedDelivery
	for _, d := range r.got {
		if d.header.Get("X-Webhook-Event") == event {
			out = append(out, d)
		}
	}
	return out
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	upstream := newStubUpstream()
	receiver := newWebhookReceiver()

	log := logger.New("error", false)

	tokenStore := redisStorage.NewTokenStore(rdb)
	txRepo := newInMemoryTransactionRepo()
	jobRepo := newInMemoryNotificationJobRepo()

	gateway := mpesa.NewClient(config.MpesaConfig{
		BaseURL:        upstream.server.URL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		ShortCode:      "174379",
		Passkey:        "test-passkey",
		CallbackURL:    "https://orchestrator.example/api/v1/mpesa/callback",
		Timeout:        5 * time.Second,
	}, nil, log)

	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewTokenCacheService(gateway, tokenStore, 5*time.Minute, log)
	bankLookup := service.NewStaticBankLookup([]config.BankConfig{
		{Code: "68", Name: "Equity Bank", Paybill: "247247"},
	})

	webhookSvc := service.NewWebhookService(jobRepo, txRepo, sigSvc, nil, config.WebhookConfig{
		Secret:          webhookTestSecret,
		MaxRetries:      3,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		PollInterval:    20 * time.Millisecond,
		Timeout:         2 * time.Second,
		InterJobDelay:   0,
		BatchSize:       20,
		CleanupAge:      24 * time.Hour,
		CleanupInterval: time.Hour,
	}, log)

	lifecycleSvc := service.NewLifecycleService(txRepo, gateway, tokenSvc, bankLookup, webhookSvc, log)
	c2bSvc := service.NewC2BService(txRepo, webhookSvc, log)
	reportingSvc := service.NewReportingService(txRepo)

	ctx, cancel := context.WithCancel(context.Background())
	go webhookSvc.Run(ctx)

	router := handler.SetupRouter(handler.RouterDeps{
		LifecycleSvc:   lifecycleSvc,
		C2BSvc:         c2bSvc,
		WebhookSvc:     webhookSvc,
		ReportingSvc:   reportingSvc,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Logger:         log,
	})

	return &testApp{
		server:   httptest.NewServer(router),
		upstream: upstream,
		receiver: receiver,
		redis:    mr,
		txRepo:   txRepo,
		jobRepo:  jobRepo,
		sigSvc:   sigSvc,
		cancel:   cancel,
	}
}

func (a *testApp) close() {
	a.cancel()
	a.server.Close()
	a.upstream.server.Close()
	a.receiver.server.Close()
	a.redis.Close()
}

func (a *testApp) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(a.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (a *testApp) getJSON(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (a *testApp) createPayment(t *testing.T, orderID string) {
	t.Helper()
	resp, body := a.postJSON(t, "/api/v1/payments", map[string]any{
		"order_id":          orderID,
		"phone_number":      "254712345678",
		"amount":            150,
		"bank_code":         "68",
		"account_reference": "INV-42",
		"callback_url":      a.receiver.server.URL,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create payment: %v", body)
	data := body["data"].(map[string]any)
	require.Equal(t, "pending", data["status"])
}

func (a *testApp) postCallback(t *testing.T, checkoutID string, resultCode int) {
	t.Helper()
	envelope := map[string]any{
		"Body": map[string]any{
			"stkCallback": map[string]any{
				"MerchantRequestID": "mr-x",
				"CheckoutRequestID": checkoutID,
				"ResultCode":        resultCode,
				"ResultDesc":        "result",
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
	resp, body := a.postJSON(t, "/api/v1/mpesa/callback", envelope)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(0), body["ResultCode"])
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, body := app.getJSON(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_STKPushLifecycle(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.createPayment(t, "ORDER-INT-001")
	app.postCallback(t, app.upstream.lastCheckoutID(), 0)

	resp, body := app.getJSON(t, "/api/v1/payments/ORDER-INT-001")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "QK12345XYZ", data["mpesa_receipt_number"])
	assert.Equal(t, "Equity Bank", data["bank_name"])

	// The completion webhook reaches the merchant with a valid signature.
	require.Eventually(t, func() bool {
		return len(app.receiver.deliveries("payment.completed")) > 0
	}, 3*time.Second, 25*time.Millisecond, "completion webhook never delivered")

	d := app.receiver.deliveries("payment.completed")[0]
	sig := d.header.Get("X-Webhook-Signature")
	require.True(t, strings.HasPrefix(sig, "sha256="))
	assert.True(t, app.sigSvc.Verify(webhookTestSecret, d.body, strings.TrimPrefix(sig, "sha256=")))
	assert.NotEmpty(t, d.header.Get("X-Delivery-ID"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(d.body, &payload))
	assert.Equal(t, "payment.completed", payload["event"])
	assert.Equal(t, "ORDER-INT-001", payload["data"].(map[string]any)["orderId"])
}

func TestIntegration_DuplicateOrderRejected(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.createPayment(t, "ORDER-INT-002")

	resp, body := app.postJSON(t, "/api/v1/payments", map[string]any{
		"order_id":          "ORDER-INT-002",
		"phone_number":      "254712345678",
		"amount":            150,
		"account_reference": "INV-42",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "PAY_001", body["error_code"])
}

func TestIntegration_UpstreamBusinessRejection(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.upstream.rejectPush.Store(true)

	resp, body := app.postJSON(t, "/api/v1/payments", map[string]any{
		"order_id":          "ORDER-INT-003",
		"phone_number":      "254712345678",
		"amount":            150,
		"account_reference": "INV-42",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "UPS_002", body["error_code"])

	// The transaction record survives in failed state.
	getResp, getBody := app.getJSON(t, "/api/v1/payments/ORDER-INT-003")
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "failed", getBody["data"].(map[string]any)["status"])
}

func TestIntegration_CallbackTimeout(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.createPayment(t, "ORDER-INT-004")
	app.postCallback(t, app.upstream.lastCheckoutID(), 1032)

	resp, body := app.getJSON(t, "/api/v1/payments/ORDER-INT-004")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "timeout", body["data"].(map[string]any)["status"])
}

func TestIntegration_TerminalStatusNeverRegresses(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.createPayment(t, "ORDER-INT-005")
	coID := app.upstream.lastCheckoutID()
	app.postCallback(t, coID, 0)
	// Redelivered as a failure: fields update, status stays completed.
	app.postCallback(t, coID, 1)

	_, body := app.getJSON(t, "/api/v1/payments/ORDER-INT-005")
	assert.Equal(t, "completed", body["data"].(map[string]any)["status"])
}

func c2bPayload(transID string) map[string]any {
	return map[string]any{
		"TransactionType":   "Pay Bill",
		"TransID":           transID,
		"TransTime":         "20260829094523",
		"TransAmount":       "250.00",
		"BusinessShortCode": "174379",
		"BillRefNumber":     "ACC-9",
		"MSISDN":            "254798765432",
		"FirstName":         "Jane",
	}
}

func TestIntegration_C2BValidateAndConfirm(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	resp, body := app.postJSON(t, "/api/v1/mpesa/c2b/validate", c2bPayload("RKT100AAAA"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", body["ResultCode"])

	bad := c2bPayload("RKT100AAAA")
	bad["MSISDN"] = "0712345678"
	_, badBody := app.postJSON(t, "/api/v1/mpesa/c2b/validate", bad)
	assert.Equal(t, "C2B00011", badBody["ResultCode"])

	resp, body = app.postJSON(t, "/api/v1/mpesa/c2b/confirm", c2bPayload("RKT100AAAA"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", body["ResultCode"])

	// Redelivery is acknowledged without creating a second record.
	_, body = app.postJSON(t, "/api/v1/mpesa/c2b/confirm", c2bPayload("RKT100AAAA"))
	assert.Equal(t, "0", body["ResultCode"])

	_, stats := app.getJSON(t, "/api/v1/payments/stats")
	data := stats["data"].(map[string]any)
	assert.Equal(t, float64(1), data["c2b"])
	assert.Equal(t, float64(1), data["completed"])
	assert.Equal(t, float64(250), data["completed_value"])
}

func TestIntegration_WebhookQueueAndRetry(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.createPayment(t, "ORDER-INT-006")
	app.postCallback(t, app.upstream.lastCheckoutID(), 0)

	require.Eventually(t, func() bool {
		return len(app.receiver.deliveries("payment.completed")) > 0
	}, 3*time.Second, 25*time.Millisecond)

	resp, body := app.getJSON(t, "/api/v1/webhooks/queue")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.GreaterOrEqual(t, data["completed"].(float64), float64(1))

	resp, body = app.postJSON(t, "/api/v1/webhooks/retry/ORDER-INT-006", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["queued"])

	require.Eventually(t, func() bool {
		return len(app.receiver.deliveries("payment.completed")) >= 2
	}, 3*time.Second, 25*time.Millisecond, "manual retry never delivered")
}

func TestIntegration_UnknownCallbackStillAcked(t *testing.T) {
	app := newTestApp(t)
	defer app.close()

	app.postCallback(t, "co-unknown", 0)
}

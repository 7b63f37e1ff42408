package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment-orchestrator/config"
	"payment-orchestrator/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	c := NewClient(config.MpesaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		ShortCode:      "174379",
		Passkey:        "test-passkey",
		CallbackURL:    "https://orchestrator.example/api/v1/mpesa/callback",
		Timeout:        5 * time.Second,
	}, nil, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC) }
	return c
}

func TestClient_RequestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/v1/generate", r.URL.Path)
		assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "ck", user)
		assert.Equal(t, "cs", pass)

		w.Header().Set("Content-Type", "application/json")
		// expires_in is a string on the wire.
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","expires_in":"3599"}`))
	}))
	defer srv.Close()

	token, ttl, err := testClient(srv.URL).RequestToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
	assert.Equal(t, 3599*time.Second, ttl)
}

func TestClient_RequestToken_MalformedExpiryFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok-abc","expires_in":"soon"}`))
	}))
	defer srv.Close()

	_, ttl, err := testClient(srv.URL).RequestToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3599*time.Second, ttl)
}

func TestClient_RequestToken_AuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorCode":"999991","errorMessage":"Invalid Authentication"}`))
	}))
	defer srv.Close()

	_, _, err := testClient(srv.URL).RequestToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_RequestToken_EmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, _, err := testClient(srv.URL).RequestToken(context.Background())
	require.Error(t, err)
}

func TestClient_STKPush(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{
			"MerchantRequestID": "mr-1",
			"CheckoutRequestID": "co-1",
			"ResponseCode": "0",
			"ResponseDescription": "Success. Request accepted for processing",
			"CustomerMessage": "Success. Request accepted for processing"
		}`))
	}))
	defer srv.Close()

	resp, err := testClient(srv.URL).STKPush(context.Background(), "tok-abc", ports.STKPushRequest{
		Paybill:          "247247",
		PhoneNumber:      "254712345678",
		Amount:           150,
		AccountReference: "INV-42",
		Description:      "Order payment",
	})
	require.NoError(t, err)
	assert.Equal(t, "mr-1", resp.MerchantRequestID)
	assert.Equal(t, "co-1", resp.CheckoutRequestID)
	assert.Equal(t, "0", resp.ResponseCode)

	// Paybill overrides the configured short code for bank-routed payments.
	assert.Equal(t, "247247", gotBody["BusinessShortCode"])
	assert.Equal(t, "247247", gotBody["PartyB"])
	assert.Equal(t, "254712345678", gotBody["PartyA"])
	assert.Equal(t, "CustomerPayBillOnline", gotBody["TransactionType"])
	assert.Equal(t, "150", gotBody["Amount"])
	assert.Equal(t, "20260829101500", gotBody["Timestamp"])
	assert.Equal(t, "https://orchestrator.example/api/v1/mpesa/callback", gotBody["CallBackURL"])

	wantPassword := base64.StdEncoding.EncodeToString([]byte("247247" + "test-passkey" + "20260829101500"))
	assert.Equal(t, wantPassword, gotBody["Password"])
}

func TestClient_STKPush_DefaultShortCode(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"ResponseCode":"0"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).STKPush(context.Background(), "tok", ports.STKPushRequest{
		PhoneNumber: "254712345678",
		Amount:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, "174379", gotBody["BusinessShortCode"])
}

func TestClient_STKPush_TransportRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).STKPush(context.Background(), "tok", ports.STKPushRequest{
		PhoneNumber: "254712345678",
		Amount:      -1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400.002.02")
}

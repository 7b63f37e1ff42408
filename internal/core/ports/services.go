package ports

import (
	"context"
	"time"

	"payment-orchestrator/internal/core/domain"
)

// TokenProvider supplies a valid upstream bearer token, refreshing
// lazily when the cached one is within the expiry margin.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// PushGateway is the upstream Daraja client boundary.
type PushGateway interface {
	// RequestToken performs the OAuth-style credential exchange and
	// returns the bearer token with its advertised lifetime.
	RequestToken(ctx context.Context) (token string, ttl time.Duration, err error)
	// STKPush issues a push-payment request using the given bearer token.
	STKPush(ctx context.Context, token string, req STKPushRequest) (*STKPushResponse, error)
}

// STKPushRequest holds the push request parameters.
type STKPushRequest struct {
	Paybill          string
	PhoneNumber      string
	Amount           float64
	AccountReference string
	Description      string
}

// STKPushResponse is the synchronous upstream acknowledgement.
type STKPushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
}

// SignatureService handles HMAC-SHA256 signing and verification of
// webhook payloads.
type SignatureService interface {
	Sign(secretKey string, payload []byte) string
	Verify(secretKey string, payload []byte, signature string) bool
}

// BankLookup resolves a bank routing code to its paybill. External
// collaborator; shipped implementation is a config-seeded table.
type BankLookup interface {
	Resolve(ctx context.Context, bankCode string) (*Bank, error)
}

// Bank is one bank routing entry.
type Bank struct {
	Code    string
	Name    string
	Paybill string
}

// --- Service Ports (Business Logic) ---

// PaymentIntent holds validated input for creating a transaction.
type PaymentIntent struct {
	OrderID          string
	PhoneNumber      string
	Amount           float64
	BankCode         string
	AccountReference string
	Description      string
	CallbackURL      string
}

// LifecycleService owns the transaction state machine.
type LifecycleService interface {
	// Create persists a new transaction in state initiated. Fails with
	// DuplicateOrder when the orderId is already taken.
	Create(ctx context.Context, intent PaymentIntent) (*domain.Transaction, error)
	// InitiatePush issues the upstream push request and applies the
	// acknowledgement. A best-effort "initiated" notification follows;
	// its failure never fails this call.
	InitiatePush(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	// ApplyCallback applies an asynchronous push result. Idempotent:
	// callback fields always record the latest callback, but a terminal
	// status is never regressed.
	ApplyCallback(ctx context.Context, orderID string, resultCode any, resultDesc string, metadata []domain.CallbackItem) (*domain.Transaction, error)
	// OrderIDForCheckout resolves the orderId a callback belongs to.
	OrderIDForCheckout(ctx context.Context, checkoutRequestID string) (string, error)
	// HandleStaleTransactions force-times-out initiated transactions older
	// than maxAge with no callback. Returns the number transitioned.
	HandleStaleTransactions(ctx context.Context, maxAge time.Duration) (int, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)
}

// C2BPayload mirrors the upstream validation/confirmation body.
type C2BPayload struct {
	TransactionType   string
	TransID           string
	TransTime         string
	TransAmount       string
	BusinessShortCode string
	BillRefNumber     string
	MSISDN            string
	FirstName         string
	MiddleName        string
	LastName          string
	OrgAccountBalance string
	ThirdPartyTransID string
}

// C2BResult is the in-band accept/reject answer to the upstream.
type C2BResult struct {
	ResultCode string
	ResultDesc string
}

// C2BService handles upstream-initiated direct payments.
type C2BService interface {
	// Validate answers accept/reject without any side effect.
	Validate(payload C2BPayload) C2BResult
	// Confirm records a settled payment, deduplicating by TransID.
	Confirm(ctx context.Context, payload C2BPayload) (*domain.Transaction, error)
}

// WebhookService is the at-least-once merchant notification pipeline.
type WebhookService interface {
	// Enqueue queues a notification for the transaction's callback URL.
	// No-op when the transaction has no callback URL.
	Enqueue(ctx context.Context, orderID string, event string) error
	// Retry re-enqueues a fresh job regardless of prior failure history.
	Retry(ctx context.Context, orderID string) error
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// QueueStats describes the delivery queue for the operator endpoint.
type QueueStats struct {
	Pending   int64        `json:"pending"`
	Completed int64        `json:"completed"`
	Failed    int64        `json:"failed"`
	Jobs      []JobSummary `json:"jobs"`
}

// JobSummary is one queue entry with credentials redacted from the URL.
type JobSummary struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	URL         string    `json:"url"`
	Event       string    `json:"event"`
	Attempts    int       `json:"attempts"`
	MaxRetries  int       `json:"max_retries"`
	Status      string    `json:"status"`
	NextAttempt time.Time `json:"next_attempt"`
}

// ReportingService aggregates transaction statistics.
type ReportingService interface {
	GetStats(ctx context.Context) (*TransactionStats, error)
}

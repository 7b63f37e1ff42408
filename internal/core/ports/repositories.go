package ports

import (
	"context"
	"errors"
	"time"

	"payment-orchestrator/internal/core/domain"
)

// ErrDuplicateKey is returned by Create when a unique key already holds
// the value. Callers racing on the same identity use it to detect that
// they lost the insert and must re-read.
var ErrDuplicateKey = errors.New("duplicate key")

// TransactionRepository defines persistence for payment transactions.
// Mutating methods are atomic single-statement updates keyed by orderId;
// concurrent callers rely on that instead of per-key locking.
type TransactionRepository interface {
	Create(ctx context.Context, t *domain.Transaction) error
	GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
	// GetByReceiptNumber is used for C2B dedup: the upstream TransID is
	// stored as the receipt number.
	GetByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error)

	// ApplyPushAck persists the upstream acknowledgement and the resulting
	// status transition in one statement.
	ApplyPushAck(ctx context.Context, orderID string, ack PushAck) error
	// ApplyCallbackResult persists callback fields and, when the current
	// status permits, the terminal transition. The stored callback fields
	// always reflect the latest callback.
	ApplyCallbackResult(ctx context.Context, orderID string, res CallbackUpdate) error
	// UpdateWebhookBookkeeping records a delivery attempt outcome.
	UpdateWebhookBookkeeping(ctx context.Context, orderID string, upd WebhookUpdate) error
	// AppendDiagnostic appends one entry to the diagnostics log.
	AppendDiagnostic(ctx context.Context, orderID string, entry domain.DiagnosticEntry) error

	// FindStale returns transactions still initiated with no callback
	// received, created before the cutoff.
	FindStale(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error)
	// MarkTimedOut transitions a transaction to timeout only if it is
	// still initiated and callback-free. Returns whether a row changed.
	MarkTimedOut(ctx context.Context, orderID string, entry domain.DiagnosticEntry) (bool, error)

	GetStats(ctx context.Context) (*TransactionStats, error)
}

// PushAck holds the upstream acknowledgement of a push request.
type PushAck struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
	Status              domain.TransactionStatus
}

// CallbackUpdate holds the fields persisted when a callback is applied.
type CallbackUpdate struct {
	ResultCode         int
	ResultDesc         string
	MpesaReceiptNumber string
	TransactionDate    string
	Amount             *float64
	ReceivedAt         time.Time
	Status             domain.TransactionStatus
}

// WebhookUpdate holds notification bookkeeping written onto a transaction.
type WebhookUpdate struct {
	Attempts     int
	LastAttempt  time.Time
	Successful   bool
	LastResponse string
}

// TransactionStats aggregates counts for the operator stats endpoint,
// segmented by payment method.
type TransactionStats struct {
	Total          int64
	Initiated      int64
	Pending        int64
	Completed      int64
	Failed         int64
	TimedOut       int64
	STKPush        int64
	C2B            int64
	CompletedValue float64
}

// NotificationJobRepository defines persistence for webhook delivery jobs.
type NotificationJobRepository interface {
	Create(ctx context.Context, job *domain.NotificationJob) error
	Update(ctx context.Context, job *domain.NotificationJob) error
	// ListDue returns pending jobs whose nextAttempt has passed and whose
	// retry budget is not exhausted, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error)
	ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.NotificationJob, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error)
	// DeleteFinishedBefore removes completed/failed jobs older than cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenStore holds the single shared upstream token slot. Last write wins;
// tokens are fungible.
type TokenStore interface {
	Get(ctx context.Context) (*CachedToken, error) // nil, nil when empty
	Set(ctx context.Context, token CachedToken) error
	Clear(ctx context.Context) error
}

// CachedToken is the stored upstream bearer credential.
type CachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthChecker checks external dependency health.
type HealthChecker interface {
	// Ping verifies connectivity. Returns nil if healthy.
	Ping(ctx context.Context) error
	// Name returns the dependency name (e.g., "postgresql", "redis").
	Name() string
}

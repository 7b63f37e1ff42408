package domain

import (
	"time"
)

// PaymentMethod distinguishes how a transaction entered the system.
type PaymentMethod string

const (
	PaymentMethodSTKPush PaymentMethod = "stk_push"
	PaymentMethodC2B     PaymentMethod = "c2b"
)

// TransactionStatus represents the lifecycle state of a payment attempt.
type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "initiated"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusTimeout   TransactionStatus = "timeout"
)

// DiagnosticEntry is one record in a transaction's append-only error log.
type DiagnosticEntry struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Transaction is the audit record of one payment attempt. It is never
// deleted; status only advances forward through the state machine.
type Transaction struct {
	OrderID           string        `json:"order_id"`
	MerchantRequestID string        `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string        `json:"checkout_request_id,omitempty"`
	PaymentMethod     PaymentMethod `json:"payment_method"`

	PhoneNumber            string  `json:"phone_number"`
	Amount                 float64 `json:"amount"`
	Paybill                string  `json:"paybill"`
	BankCode               string  `json:"bank_code,omitempty"`
	BankName               string  `json:"bank_name,omitempty"`
	AccountReference       string  `json:"account_reference"`
	TransactionDescription string  `json:"transaction_description,omitempty"`

	// CallbackURL is the merchant endpoint to notify. Absence disables
	// notification entirely.
	CallbackURL string `json:"callback_url,omitempty"`

	Status TransactionStatus `json:"status"`

	// Upstream acknowledgement fields, populated after the push request.
	ResponseCode        string `json:"response_code,omitempty"`
	ResponseDescription string `json:"response_description,omitempty"`
	CustomerMessage     string `json:"customer_message,omitempty"`

	// Callback outcome fields.
	CallbackReceived   bool       `json:"callback_received"`
	CallbackResultCode *int       `json:"callback_result_code,omitempty"`
	CallbackResultDesc string     `json:"callback_result_desc,omitempty"`
	MpesaReceiptNumber string     `json:"mpesa_receipt_number,omitempty"`
	TransactionDate    string     `json:"transaction_date,omitempty"`
	CallbackReceivedAt *time.Time `json:"callback_received_at,omitempty"`

	// Webhook notification bookkeeping.
	WebhookNotified     bool       `json:"webhook_notified"`
	WebhookAttempts     int        `json:"webhook_attempts"`
	WebhookLastAttempt  *time.Time `json:"webhook_last_attempt,omitempty"`
	WebhookSuccessful   bool       `json:"webhook_successful"`
	WebhookLastResponse string     `json:"webhook_last_response,omitempty"`

	// Diagnostics is append-only; entries are never overwritten.
	Diagnostics []DiagnosticEntry `json:"diagnostics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusTimeout
}

// CanTransitionTo reports whether moving to next is a legal forward step.
// Terminal states never change and pending never reverts to initiated.
func (t *Transaction) CanTransitionTo(next TransactionStatus) bool {
	switch t.Status {
	case TransactionStatusInitiated:
		return next == TransactionStatusPending ||
			next == TransactionStatusFailed ||
			next == TransactionStatusTimeout
	case TransactionStatusPending:
		return next == TransactionStatusCompleted ||
			next == TransactionStatusFailed ||
			next == TransactionStatusTimeout
	default:
		return false
	}
}

// StatusForResultCode maps a normalized callback result code to the
// terminal state it produces.
func StatusForResultCode(code int) TransactionStatus {
	switch code {
	case 0:
		return TransactionStatusCompleted
	case 1032:
		return TransactionStatusTimeout
	default:
		return TransactionStatusFailed
	}
}

// WebhookEventForStatus returns the outbound event name for a status.
func WebhookEventForStatus(status TransactionStatus) string {
	switch status {
	case TransactionStatusCompleted:
		return EventPaymentCompleted
	case TransactionStatusTimeout:
		return EventPaymentTimeout
	case TransactionStatusFailed:
		return EventPaymentFailed
	default:
		return EventPaymentInitiated
	}
}

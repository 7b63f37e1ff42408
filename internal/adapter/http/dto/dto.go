package dto

// PaymentRequest is the request body for initiating a push payment.
type PaymentRequest struct {
	OrderID          string  `json:"order_id" binding:"required,max=100"`
	PhoneNumber      string  `json:"phone_number" binding:"required"`
	Amount           float64 `json:"amount" binding:"required,gt=0"`
	BankCode         string  `json:"bank_code,omitempty"`
	AccountReference string  `json:"account_reference" binding:"required,max=20"`
	Description      string  `json:"description,omitempty"`
	CallbackURL      string  `json:"callback_url,omitempty"`
}

// TransactionResponse is the response body for transaction queries.
type TransactionResponse struct {
	OrderID            string  `json:"order_id"`
	Status             string  `json:"status"`
	PaymentMethod      string  `json:"payment_method"`
	Amount             float64 `json:"amount"`
	PhoneNumber        string  `json:"phone_number"`
	Paybill            string  `json:"paybill,omitempty"`
	BankName           string  `json:"bank_name,omitempty"`
	AccountReference   string  `json:"account_reference"`
	CustomerMessage    string  `json:"customer_message,omitempty"`
	MpesaReceiptNumber string  `json:"mpesa_receipt_number,omitempty"`
	TransactionDate    string  `json:"transaction_date,omitempty"`
	WebhookSuccessful  bool    `json:"webhook_successful"`
	WebhookAttempts    int     `json:"webhook_attempts"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// StatsResponse is the operator stats payload, segmented by method.
type StatsResponse struct {
	Total          int64   `json:"total"`
	Initiated      int64   `json:"initiated"`
	Pending        int64   `json:"pending"`
	Completed      int64   `json:"completed"`
	Failed         int64   `json:"failed"`
	Timeout        int64   `json:"timeout"`
	STKPush        int64   `json:"stk_push"`
	C2B            int64   `json:"c2b"`
	CompletedValue float64 `json:"completed_value"`
}

// --- Upstream-facing payloads. Field names mirror the gateway wire
// format and must be preserved bit-for-bit. ---

// STKCallbackEnvelope is the push-payment result callback body.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is the callback inner object. ResultCode arrives as a
// number or a string depending on the environment, hence `any`.
type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        any    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []CallbackMetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// CallbackMetadataItem is one tagged key/value settlement detail.
type CallbackMetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// CallbackAck is the acknowledgement returned to the upstream gateway.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// C2BRequest is the validation/confirmation body for direct payments.
// TransAmount arrives as a number or a string.
type C2BRequest struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       any    `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	OrgAccountBalance string `json:"OrgAccountBalance"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName"`
	LastName          string `json:"LastName"`
}

// C2BResponse is the in-band accept/reject answer.
type C2BResponse struct {
	ResultCode string `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// QueueStatsResponse wraps delivery queue statistics.
type QueueStatsResponse struct {
	Pending   int64              `json:"pending"`
	Completed int64              `json:"completed"`
	Failed    int64              `json:"failed"`
	Jobs      []QueueJobResponse `json:"jobs"`
}

// QueueJobResponse is one queue entry with credentials redacted.
type QueueJobResponse struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	URL         string `json:"url"`
	Event       string `json:"event"`
	Attempts    int    `json:"attempts"`
	MaxRetries  int    `json:"max_retries"`
	Status      string `json:"status"`
	NextAttempt string `json:"next_attempt"`
}

// RetryResponse acknowledges a manual retry request.
type RetryResponse struct {
	OrderID string `json:"order_id"`
	Queued  bool   `json:"queued"`
}

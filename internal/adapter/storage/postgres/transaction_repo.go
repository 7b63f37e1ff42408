package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error code for unique constraint violations.
const uniqueViolationCode = "23505"

// TransactionRepo implements ports.TransactionRepository.
// All mutations are single UPDATE statements keyed by order_id; that
// atomicity is what concurrent callers rely on instead of row locks.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const txColumns = `order_id, merchant_request_id, checkout_request_id, payment_method,
	phone_number, amount, paybill, bank_code, bank_name, account_reference, transaction_description,
	callback_url, status, response_code, response_description, customer_message,
	callback_received, callback_result_code, callback_result_desc, mpesa_receipt_number,
	transaction_date, callback_received_at,
	webhook_notified, webhook_attempts, webhook_last_attempt, webhook_successful, webhook_last_response,
	diagnostics, created_at, updated_at`

// Create inserts a new transaction record.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	diag, err := marshalDiagnostics(t.Diagnostics)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`

	_, err = r.pool.Exec(ctx, query,
		t.OrderID, t.MerchantRequestID, t.CheckoutRequestID, t.PaymentMethod,
		t.PhoneNumber, t.Amount, t.Paybill, t.BankCode, t.BankName, t.AccountReference, t.TransactionDescription,
		t.CallbackURL, t.Status, t.ResponseCode, t.ResponseDescription, t.CustomerMessage,
		t.CallbackReceived, t.CallbackResultCode, t.CallbackResultDesc, t.MpesaReceiptNumber,
		t.TransactionDate, t.CallbackReceivedAt,
		t.WebhookNotified, t.WebhookAttempts, t.WebhookLastAttempt, t.WebhookSuccessful, t.WebhookLastResponse,
		diag, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("insert transaction %s: %w", t.OrderID, ports.ErrDuplicateKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByOrderID fetches a transaction by its unique order id.
func (r *TransactionRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE order_id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, orderID))
}

// GetByCheckoutRequestID fetches a transaction by the upstream checkout id.
func (r *TransactionRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE checkout_request_id = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, checkoutRequestID))
}

// GetByReceiptNumber fetches a transaction by settlement reference.
func (r *TransactionRepo) GetByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE mpesa_receipt_number = $1`
	return r.scanTransaction(r.pool.QueryRow(ctx, query, receipt))
}

// ApplyPushAck persists the upstream acknowledgement. The status CASE
// keeps terminal states untouched if a late ack ever races a sweep.
func (r *TransactionRepo) ApplyPushAck(ctx context.Context, orderID string, ack ports.PushAck) error {
	query := `UPDATE transactions SET
		merchant_request_id = $2, checkout_request_id = $3,
		response_code = $4, response_description = $5, customer_message = $6,
		status = CASE WHEN status = 'initiated' THEN $7::text ELSE status END,
		updated_at = now()
		WHERE order_id = $1`

	tag, err := r.pool.Exec(ctx, query, orderID,
		ack.MerchantRequestID, ack.CheckoutRequestID,
		ack.ResponseCode, ack.ResponseDescription, ack.CustomerMessage,
		string(ack.Status),
	)
	if err != nil {
		return fmt.Errorf("apply push ack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", orderID)
	}
	return nil
}

// ApplyCallbackResult persists callback fields. Callback fields record the
// latest callback unconditionally; the status transition only happens from
// a non-terminal state.
func (r *TransactionRepo) ApplyCallbackResult(ctx context.Context, orderID string, res ports.CallbackUpdate) error {
	query := `UPDATE transactions SET
		callback_received = TRUE,
		callback_result_code = $2,
		callback_result_desc = $3,
		mpesa_receipt_number = CASE WHEN $4 <> '' THEN $4 ELSE mpesa_receipt_number END,
		transaction_date = CASE WHEN $5 <> '' THEN $5 ELSE transaction_date END,
		amount = COALESCE($6, amount),
		callback_received_at = $7,
		status = CASE WHEN status IN ('initiated', 'pending') THEN $8::text ELSE status END,
		updated_at = now()
		WHERE order_id = $1`

	tag, err := r.pool.Exec(ctx, query, orderID,
		res.ResultCode, res.ResultDesc,
		res.MpesaReceiptNumber, res.TransactionDate,
		res.Amount, res.ReceivedAt, string(res.Status),
	)
	if err != nil {
		return fmt.Errorf("apply callback result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", orderID)
	}
	return nil
}

// UpdateWebhookBookkeeping records one delivery attempt outcome.
func (r *TransactionRepo) UpdateWebhookBookkeeping(ctx context.Context, orderID string, upd ports.WebhookUpdate) error {
	query := `UPDATE transactions SET
		webhook_notified = TRUE,
		webhook_attempts = $2,
		webhook_last_attempt = $3,
		webhook_successful = $4,
		webhook_last_response = $5,
		updated_at = now()
		WHERE order_id = $1`

	_, err := r.pool.Exec(ctx, query, orderID,
		upd.Attempts, upd.LastAttempt, upd.Successful, upd.LastResponse)
	if err != nil {
		return fmt.Errorf("update webhook bookkeeping: %w", err)
	}
	return nil
}

// AppendDiagnostic appends one entry to the diagnostics log. jsonb
// concatenation keeps prior entries untouched.
func (r *TransactionRepo) AppendDiagnostic(ctx context.Context, orderID string, entry domain.DiagnosticEntry) error {
	payload, err := json.Marshal([]domain.DiagnosticEntry{entry})
	if err != nil {
		return fmt.Errorf("marshal diagnostic: %w", err)
	}

	query := `UPDATE transactions SET
		diagnostics = diagnostics || $2::jsonb,
		updated_at = now()
		WHERE order_id = $1`

	_, err = r.pool.Exec(ctx, query, orderID, payload)
	if err != nil {
		return fmt.Errorf("append diagnostic: %w", err)
	}
	return nil
}

// FindStale returns initiated, callback-free transactions older than cutoff.
func (r *TransactionRepo) FindStale(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE status = 'initiated' AND callback_received = FALSE AND created_at < $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale rows: %w", err)
	}
	return txns, nil
}

// MarkTimedOut transitions to timeout only while still initiated and
// callback-free, so the sweep can never regress a terminal state.
func (r *TransactionRepo) MarkTimedOut(ctx context.Context, orderID string, entry domain.DiagnosticEntry) (bool, error) {
	payload, err := json.Marshal([]domain.DiagnosticEntry{entry})
	if err != nil {
		return false, fmt.Errorf("marshal diagnostic: %w", err)
	}

	query := `UPDATE transactions SET
		status = 'timeout',
		diagnostics = diagnostics || $2::jsonb,
		updated_at = now()
		WHERE order_id = $1 AND status = 'initiated' AND callback_received = FALSE`

	tag, err := r.pool.Exec(ctx, query, orderID, payload)
	if err != nil {
		return false, fmt.Errorf("mark timed out: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetStats aggregates counts by status and payment method.
func (r *TransactionRepo) GetStats(ctx context.Context) (*ports.TransactionStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'initiated') AS initiated,
		COUNT(*) FILTER (WHERE status = 'pending') AS pending,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'timeout') AS timed_out,
		COUNT(*) FILTER (WHERE payment_method = 'stk_push') AS stk_push,
		COUNT(*) FILTER (WHERE payment_method = 'c2b') AS c2b,
		COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0) AS completed_value
		FROM transactions`

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.Total, &stats.Initiated, &stats.Pending, &stats.Completed,
		&stats.Failed, &stats.TimedOut, &stats.STKPush, &stats.C2B,
		&stats.CompletedValue,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionRow(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var diag []byte
	err := row.Scan(
		&t.OrderID, &t.MerchantRequestID, &t.CheckoutRequestID, &t.PaymentMethod,
		&t.PhoneNumber, &t.Amount, &t.Paybill, &t.BankCode, &t.BankName, &t.AccountReference, &t.TransactionDescription,
		&t.CallbackURL, &t.Status, &t.ResponseCode, &t.ResponseDescription, &t.CustomerMessage,
		&t.CallbackReceived, &t.CallbackResultCode, &t.CallbackResultDesc, &t.MpesaReceiptNumber,
		&t.TransactionDate, &t.CallbackReceivedAt,
		&t.WebhookNotified, &t.WebhookAttempts, &t.WebhookLastAttempt, &t.WebhookSuccessful, &t.WebhookLastResponse,
		&diag, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	if len(diag) > 0 {
		if err := json.Unmarshal(diag, &t.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
	}
	return t, nil
}

func marshalDiagnostics(entries []domain.DiagnosticEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.DiagnosticEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return b, nil
}

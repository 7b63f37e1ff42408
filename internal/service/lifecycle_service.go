package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"

	"github.com/rs/zerolog"
)

// LifecycleServiceImpl implements ports.LifecycleService. It owns the
// transaction state machine: initiated -> pending -> {completed | failed
// | timeout}, with failed reachable directly from initiated when the push
// request is rejected synchronously.
type LifecycleServiceImpl struct {
	txRepo     ports.TransactionRepository
	gateway    ports.PushGateway
	tokens     ports.TokenProvider
	bankLookup ports.BankLookup
	notifier   ports.WebhookService
	log        zerolog.Logger
	now        func() time.Time
}

// NewLifecycleService creates a new LifecycleServiceImpl.
func NewLifecycleService(
	txRepo ports.TransactionRepository,
	gateway ports.PushGateway,
	tokens ports.TokenProvider,
	bankLookup ports.BankLookup,
	notifier ports.WebhookService,
	log zerolog.Logger,
) *LifecycleServiceImpl {
	return &LifecycleServiceImpl{
		txRepo:     txRepo,
		gateway:    gateway,
		tokens:     tokens,
		bankLookup: bankLookup,
		notifier:   notifier,
		log:        log,
		now:        time.Now,
	}
}

// Create persists a new transaction in state initiated. Idempotency is at
// the request-identity level: a resubmission under a new orderId is a new
// transaction.
func (s *LifecycleServiceImpl) Create(ctx context.Context, intent ports.PaymentIntent) (*domain.Transaction, error) {
	if intent.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	existing, err := s.txRepo.GetByOrderID(ctx, intent.OrderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check order id: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrDuplicateOrder(intent.OrderID)
	}

	tx := &domain.Transaction{
		OrderID:                intent.OrderID,
		PaymentMethod:          domain.PaymentMethodSTKPush,
		PhoneNumber:            intent.PhoneNumber,
		Amount:                 intent.Amount,
		AccountReference:       intent.AccountReference,
		TransactionDescription: intent.Description,
		CallbackURL:            intent.CallbackURL,
		Status:                 domain.TransactionStatusInitiated,
		CreatedAt:              s.now().UTC(),
		UpdatedAt:              s.now().UTC(),
	}

	if intent.BankCode != "" {
		bank, err := s.bankLookup.Resolve(ctx, intent.BankCode)
		if err != nil {
			return nil, err
		}
		tx.BankCode = bank.Code
		tx.BankName = bank.Name
		tx.Paybill = bank.Paybill
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		// A concurrent create for the same orderId may slip past the read
		// above; the unique key catches it.
		if errors.Is(err, ports.ErrDuplicateKey) {
			return nil, apperror.ErrDuplicateOrder(intent.OrderID)
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}

	s.log.Info().
		Str("order_id", tx.OrderID).
		Float64("amount", tx.Amount).
		Str("paybill", tx.Paybill).
		Msg("transaction created")

	return tx, nil
}

// InitiatePush issues the upstream push request with a cached token and
// applies the acknowledgement. Success or business-rejection both trigger
// a best-effort "initiated" notification that never fails this call.
func (s *LifecycleServiceImpl) InitiatePush(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	token, err := s.tokens.GetToken(ctx)
	if err != nil {
		s.recordDiagnostic(ctx, tx.OrderID, fmt.Sprintf("token acquisition failed: %v", err))
		return nil, err
	}

	resp, err := s.gateway.STKPush(ctx, token, ports.STKPushRequest{
		Paybill:          tx.Paybill,
		PhoneNumber:      tx.PhoneNumber,
		Amount:           tx.Amount,
		AccountReference: tx.AccountReference,
		Description:      tx.TransactionDescription,
	})
	if err != nil {
		s.recordDiagnostic(ctx, tx.OrderID, fmt.Sprintf("push request failed: %v", err))
		return nil, apperror.ErrTransportFailure(err)
	}

	status := domain.TransactionStatusFailed
	if code, ok := domain.NormalizeResultCode(resp.ResponseCode); ok && code == 0 {
		status = domain.TransactionStatusPending
	}

	ack := ports.PushAck{
		MerchantRequestID:   resp.MerchantRequestID,
		CheckoutRequestID:   resp.CheckoutRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
		Status:              status,
	}
	if err := s.txRepo.ApplyPushAck(ctx, tx.OrderID, ack); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("apply push ack: %w", err))
	}

	tx.MerchantRequestID = resp.MerchantRequestID
	tx.CheckoutRequestID = resp.CheckoutRequestID
	tx.ResponseCode = resp.ResponseCode
	tx.ResponseDescription = resp.ResponseDescription
	tx.CustomerMessage = resp.CustomerMessage
	tx.Status = status

	// Enqueued before this call returns so the "initiated" job always
	// precedes any terminal notification a callback may enqueue later.
	// Best effort: an enqueue failure never fails the push.
	if s.notifier != nil {
		if err := s.notifier.Enqueue(ctx, tx.OrderID, domain.EventPaymentInitiated); err != nil {
			s.log.Warn().Err(err).
				Str("order_id", tx.OrderID).
				Msg("failed to enqueue initiated notification")
		}
	}

	if status == domain.TransactionStatusFailed {
		s.log.Warn().
			Str("order_id", tx.OrderID).
			Str("response_code", resp.ResponseCode).
			Msg("push request business-rejected by upstream")
		return tx, apperror.ErrUpstreamRejected(resp.ResponseCode, resp.ResponseDescription)
	}

	s.log.Info().
		Str("order_id", tx.OrderID).
		Str("checkout_request_id", resp.CheckoutRequestID).
		Msg("push request accepted, awaiting callback")

	return tx, nil
}

// ApplyCallback applies the asynchronous push result. The stored callback
// fields always reflect the latest callback; a terminal status is never
// regressed. A terminal notification is enqueued only when the callback
// actually transitions the transaction.
func (s *LifecycleServiceImpl) ApplyCallback(ctx context.Context, orderID string, resultCode any, resultDesc string, metadata []domain.CallbackItem) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if tx == nil {
		return nil, apperror.ErrTransactionNotFound(orderID)
	}

	code, ok := domain.NormalizeResultCode(resultCode)
	if !ok {
		// Unintelligible result code: treat as failure but keep the raw
		// description for the audit trail.
		s.log.Warn().
			Str("order_id", orderID).
			Interface("result_code", resultCode).
			Msg("callback carried unparseable result code")
		code = -1
	}

	status := domain.StatusForResultCode(code)
	wasTerminal := tx.IsTerminal()

	upd := ports.CallbackUpdate{
		ResultCode: code,
		ResultDesc: resultDesc,
		ReceivedAt: s.now().UTC(),
		Status:     status,
	}

	if status == domain.TransactionStatusCompleted {
		receipt, txDate, amount := extractSettlementMetadata(metadata)
		upd.MpesaReceiptNumber = receipt
		upd.TransactionDate = txDate
		upd.Amount = amount

		// A completed transaction re-confirmed with a different receipt is
		// an anomaly worth flagging; the latest value still wins.
		if wasTerminal && tx.MpesaReceiptNumber != "" && receipt != "" && tx.MpesaReceiptNumber != receipt {
			s.recordDiagnostic(ctx, orderID, fmt.Sprintf(
				"callback receipt mismatch: had %s, received %s", tx.MpesaReceiptNumber, receipt))
		}
	}

	if err := s.txRepo.ApplyCallbackResult(ctx, orderID, upd); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("apply callback: %w", err))
	}

	updated, err := s.txRepo.GetByOrderID(ctx, orderID)
	if err != nil || updated == nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("reload transaction: %w", err))
	}

	if !wasTerminal {
		s.notifyAsync(ctx, orderID, domain.WebhookEventForStatus(updated.Status))
	}

	s.log.Info().
		Str("order_id", orderID).
		Int("result_code", code).
		Str("status", string(updated.Status)).
		Msg("callback applied")

	return updated, nil
}

// OrderIDForCheckout resolves which transaction a callback belongs to.
func (s *LifecycleServiceImpl) OrderIDForCheckout(ctx context.Context, checkoutRequestID string) (string, error) {
	tx, err := s.txRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		return "", apperror.ErrDatabaseError(fmt.Errorf("lookup checkout id: %w", err))
	}
	if tx == nil {
		return "", apperror.ErrTransactionNotFound(checkoutRequestID)
	}
	return tx.OrderID, nil
}

// HandleStaleTransactions bounds how long a transaction can stay
// non-terminal when the upstream never calls back. The transition is
// guarded in the store, so a callback racing the sweep wins cleanly.
func (s *LifecycleServiceImpl) HandleStaleTransactions(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-maxAge)

	stale, err := s.txRepo.FindStale(ctx, cutoff)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("find stale: %w", err))
	}

	swept := 0
	for i := range stale {
		entry := domain.DiagnosticEntry{
			Error:     fmt.Sprintf("no callback received within %s, forced to timeout", maxAge),
			Timestamp: s.now().UTC(),
		}
		changed, err := s.txRepo.MarkTimedOut(ctx, stale[i].OrderID, entry)
		if err != nil {
			s.log.Error().Err(err).Str("order_id", stale[i].OrderID).Msg("stale sweep update failed")
			continue
		}
		if changed {
			swept++
		}
	}

	if swept > 0 {
		s.log.Info().Int("count", swept).Msg("stale transactions timed out")
	}
	return swept, nil
}

// GetByOrderID fetches one transaction.
func (s *LifecycleServiceImpl) GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if tx == nil {
		return nil, apperror.ErrTransactionNotFound(orderID)
	}
	return tx, nil
}

// notifyAsync requests a notification without letting a notification
// failure affect the payment path.
func (s *LifecycleServiceImpl) notifyAsync(ctx context.Context, orderID, event string) {
	if s.notifier == nil {
		return
	}
	go func() {
		// Detached from the request context: the caller's response must
		// not wait on, or be failed by, the notification side channel.
		if err := s.notifier.Enqueue(context.WithoutCancel(ctx), orderID, event); err != nil {
			s.log.Warn().Err(err).
				Str("order_id", orderID).
				Str("event", event).
				Msg("failed to enqueue notification")
		}
	}()
}

func (s *LifecycleServiceImpl) recordDiagnostic(ctx context.Context, orderID, msg string) {
	entry := domain.DiagnosticEntry{Error: msg, Timestamp: s.now().UTC()}
	if err := s.txRepo.AppendDiagnostic(ctx, orderID, entry); err != nil {
		s.log.Error().Err(err).Str("order_id", orderID).Msg("failed to append diagnostic")
	}
}

// extractSettlementMetadata pulls the receipt number, transaction date and
// settled amount out of the tagged item list.
func extractSettlementMetadata(items []domain.CallbackItem) (receipt, txDate string, amount *float64) {
	for _, item := range items {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				receipt = s
			}
		case "TransactionDate":
			txDate = stringifyMetadataValue(item.Value)
		case "Amount":
			if a, ok := domain.ParseAmount(item.Value); ok {
				amount = &a
			}
		}
	}
	return receipt, txDate, amount
}

// stringifyMetadataValue renders a metadata value that may arrive as a
// string or a number (TransactionDate is sent as 20060102150405).
func stringifyMetadataValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case int64:
		return fmt.Sprintf("%d", s)
	default:
		return ""
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"

	"github.com/rs/zerolog"
)

// C2B result codes answered in-band to the upstream.
const (
	c2bAccept         = "0"
	c2bInvalidMSISDN  = "C2B00011"
	c2bInvalidAccount = "C2B00012"
	c2bInvalidAmount  = "C2B00013"
	c2bOtherError     = "C2B00016"
)

const maxBillRefLength = 20

var msisdnPattern = regexp.MustCompile(`^254\d{9}$`)

// C2BServiceImpl implements ports.C2BService: the ingestion path for
// direct payments that arrive as unsolicited confirmations.
type C2BServiceImpl struct {
	txRepo   ports.TransactionRepository
	notifier ports.WebhookService
	log      zerolog.Logger
	now      func() time.Time
}

// NewC2BService creates a new C2BServiceImpl.
func NewC2BService(txRepo ports.TransactionRepository, notifier ports.WebhookService, log zerolog.Logger) *C2BServiceImpl {
	return &C2BServiceImpl{
		txRepo:   txRepo,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Validate answers the upstream's precheck. It must be fast and must not
// persist anything: the upstream may call it without ever confirming.
func (s *C2BServiceImpl) Validate(p ports.C2BPayload) ports.C2BResult {
	if p.TransID == "" || p.TransAmount == "" || p.BusinessShortCode == "" || p.MSISDN == "" {
		return ports.C2BResult{ResultCode: c2bOtherError, ResultDesc: "Missing required field"}
	}

	switch p.TransactionType {
	case "Pay Bill", "Buy Goods":
	default:
		return ports.C2BResult{ResultCode: c2bOtherError, ResultDesc: "Unrecognized transaction type"}
	}

	amount, ok := domain.ParseAmount(p.TransAmount)
	if !ok || amount <= 0 {
		return ports.C2BResult{ResultCode: c2bInvalidAmount, ResultDesc: "Invalid amount"}
	}

	if !msisdnPattern.MatchString(p.MSISDN) {
		return ports.C2BResult{ResultCode: c2bInvalidMSISDN, ResultDesc: "Invalid MSISDN"}
	}

	if len(p.BillRefNumber) > maxBillRefLength {
		return ports.C2BResult{ResultCode: c2bInvalidAccount, ResultDesc: "Account reference too long"}
	}

	return ports.C2BResult{ResultCode: c2bAccept, ResultDesc: "Accepted"}
}

// Confirm records a settled direct payment. The upstream may redeliver a
// confirmation, so TransID deduplicates: an existing record is returned
// instead of creating a duplicate. The read is only a fast path; the
// deterministic order id means concurrent redeliveries collide on the
// unique key and the loser re-reads the winner's record.
func (s *C2BServiceImpl) Confirm(ctx context.Context, p ports.C2BPayload) (*domain.Transaction, error) {
	existing, err := s.txRepo.GetByReceiptNumber(ctx, p.TransID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("c2b dedup lookup: %w", err))
	}
	if existing != nil {
		s.log.Info().
			Str("trans_id", p.TransID).
			Str("order_id", existing.OrderID).
			Msg("c2b confirmation redelivered, returning existing record")
		return existing, nil
	}

	amount, ok := domain.ParseAmount(p.TransAmount)
	if !ok {
		return nil, apperror.Validation(fmt.Sprintf("unparseable c2b amount %q", p.TransAmount))
	}

	now := s.now().UTC()
	code := 0
	tx := &domain.Transaction{
		OrderID:                synthesizeC2BOrderID(p.TransID),
		PaymentMethod:          domain.PaymentMethodC2B,
		PhoneNumber:            p.MSISDN,
		Amount:                 amount,
		Paybill:                p.BusinessShortCode,
		AccountReference:       p.BillRefNumber,
		TransactionDescription: c2bDescription(p),
		// Funds are already settled when a confirmation arrives.
		Status:             domain.TransactionStatusCompleted,
		CallbackReceived:   true,
		CallbackResultCode: &code,
		CallbackResultDesc: "C2B payment received",
		MpesaReceiptNumber: p.TransID,
		TransactionDate:    p.TransTime,
		CallbackReceivedAt: &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, ports.ErrDuplicateKey) {
			winner, readErr := s.txRepo.GetByReceiptNumber(ctx, p.TransID)
			if readErr != nil || winner == nil {
				return nil, apperror.ErrDatabaseError(fmt.Errorf("reload c2b transaction after lost insert race: %w", readErr))
			}
			s.log.Info().
				Str("trans_id", p.TransID).
				Str("order_id", winner.OrderID).
				Msg("c2b confirmation raced a redelivery, returning winner's record")
			return winner, nil
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("persist c2b transaction: %w", err))
	}

	s.log.Info().
		Str("order_id", tx.OrderID).
		Str("trans_id", p.TransID).
		Float64("amount", amount).
		Msg("c2b payment recorded")

	// No caller-supplied callback URL exists for direct payments, so this
	// is a no-op unless a URL was attached out of band.
	go func() {
		bg := context.WithoutCancel(ctx)
		if err := s.notifier.Enqueue(bg, tx.OrderID, domain.EventPaymentCompleted); err != nil {
			s.log.Error().Err(err).Str("order_id", tx.OrderID).Msg("failed to enqueue c2b notification")
		}
	}()

	return tx, nil
}

// synthesizeC2BOrderID builds an order id for a payment that arrived
// without one. Deterministic per TransID so a redelivered confirmation
// maps onto the same unique key instead of a fresh row.
func synthesizeC2BOrderID(transID string) string {
	return "C2B-" + transID
}

func c2bDescription(p ports.C2BPayload) string {
	name := strings.TrimSpace(strings.Join([]string{p.FirstName, p.MiddleName, p.LastName}, " "))
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return "C2B payment"
	}
	return "C2B payment from " + name
}

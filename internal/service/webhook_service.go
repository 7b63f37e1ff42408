package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"payment-orchestrator/config"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"

	"github.com/rs/zerolog"
)

// Webhook delivery headers.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Delivery-ID"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookPayload is the JSON structure sent to the merchant callback URL.
type WebhookPayload struct {
	Event     string             `json:"event"`
	Timestamp string             `json:"timestamp"`
	Data      WebhookPayloadData `json:"data"`
}

// WebhookPayloadData is the transaction snapshot inside the payload.
// Internal correlation ids (merchantRequestId/checkoutRequestId) are
// intentionally excluded.
type WebhookPayloadData struct {
	OrderID            string  `json:"orderId"`
	Status             string  `json:"status"`
	Amount             float64 `json:"amount"`
	PhoneNumber        string  `json:"phoneNumber"`
	BankName           string  `json:"bankName"`
	AccountReference   string  `json:"accountReference"`
	MpesaReceiptNumber string  `json:"mpesaReceiptNumber,omitempty"`
	TransactionDate    string  `json:"transactionDate,omitempty"`
	ResultCode         *int    `json:"resultCode,omitempty"`
	ResultDescription  string  `json:"resultDescription,omitempty"`
	CreatedAt          string  `json:"createdAt"`
	UpdatedAt          string  `json:"updatedAt"`
}

// WebhookServiceImpl implements ports.WebhookService: an at-least-once
// delivery pipeline over a durable job store, with exponential backoff
// and a permanent failure state once the retry budget is spent.
type WebhookServiceImpl struct {
	jobRepo    ports.NotificationJobRepository
	txRepo     ports.TransactionRepository
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	cfg        config.WebhookConfig
	log        zerolog.Logger
	kick       chan struct{}
	now        func() time.Time
}

// NewWebhookService creates a new WebhookServiceImpl.
func NewWebhookService(
	jobRepo ports.NotificationJobRepository,
	txRepo ports.TransactionRepository,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg config.WebhookConfig,
	log zerolog.Logger,
) *WebhookServiceImpl {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookServiceImpl{
		jobRepo:    jobRepo,
		txRepo:     txRepo,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		cfg:        cfg,
		log:        log,
		kick:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Enqueue queues a notification for the transaction's callback URL.
// A transaction without a callback URL is a no-op, not an error.
func (s *WebhookServiceImpl) Enqueue(ctx context.Context, orderID string, event string) error {
	tx, err := s.txRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load transaction for notification: %w", err))
	}
	if tx == nil {
		return apperror.ErrTransactionNotFound(orderID)
	}
	if tx.CallbackURL == "" {
		s.log.Debug().Str("order_id", orderID).Msg("no callback URL configured, skipping notification")
		return nil
	}

	payload, err := s.buildPayload(tx, event)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("build webhook payload: %w", err))
	}

	job := domain.NewNotificationJob(orderID, tx.CallbackURL, event, payload, s.cfg.MaxRetries, s.now().UTC())
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("enqueue notification job: %w", err))
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("event", event).
		Str("delivery_id", job.ID).
		Msg("notification enqueued")

	s.kickLoop()
	return nil
}

// Retry re-enqueues a fresh job for operator-triggered recovery,
// regardless of prior failure history.
func (s *WebhookServiceImpl) Retry(ctx context.Context, orderID string) error {
	tx, err := s.txRepo.GetByOrderID(ctx, orderID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load transaction for retry: %w", err))
	}
	if tx == nil {
		return apperror.ErrTransactionNotFound(orderID)
	}
	return s.Enqueue(ctx, orderID, domain.WebhookEventForStatus(tx.Status))
}

// QueueStats describes the queue for the operator endpoint. Credentials
// embedded in callback URLs are redacted.
func (s *WebhookServiceImpl) QueueStats(ctx context.Context) (*ports.QueueStats, error) {
	counts, err := s.jobRepo.CountByStatus(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("queue counts: %w", err))
	}

	stats := &ports.QueueStats{
		Pending:   counts[domain.JobStatusPending],
		Completed: counts[domain.JobStatusCompleted],
		Failed:    counts[domain.JobStatusFailed],
	}

	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusFailed} {
		jobs, err := s.jobRepo.ListByStatus(ctx, status)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("queue jobs: %w", err))
		}
		for _, j := range jobs {
			stats.Jobs = append(stats.Jobs, ports.JobSummary{
				ID:          j.ID,
				OrderID:     j.OrderID,
				URL:         redactURL(j.URL),
				Event:       j.Event,
				Attempts:    j.Attempts,
				MaxRetries:  j.MaxRetries,
				Status:      string(j.Status),
				NextAttempt: j.NextAttempt,
			})
		}
	}
	return stats, nil
}

// Run drives the delivery and cleanup loops until ctx is cancelled.
// Delivery is deliberately sequential per batch with a small inter-job
// delay to stay polite to receiving endpoints.
func (s *WebhookServiceImpl) Run(ctx context.Context) {
	deliver := time.NewTicker(s.cfg.PollInterval)
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer deliver.Stop()
	defer cleanup.Stop()

	s.log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Int("max_retries", s.cfg.MaxRetries).
		Msg("webhook delivery loop started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("webhook delivery loop stopped")
			return
		case <-deliver.C:
			s.processDueJobs(ctx)
		case <-s.kick:
			s.processDueJobs(ctx)
		case <-cleanup.C:
			s.cleanupFinishedJobs(ctx)
		}
	}
}

// processDueJobs delivers one bounded batch of eligible jobs.
func (s *WebhookServiceImpl) processDueJobs(ctx context.Context) {
	jobs, err := s.jobRepo.ListDue(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list due notification jobs")
		return
	}

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &jobs[i])
		if i < len(jobs)-1 && s.cfg.InterJobDelay > 0 {
			time.Sleep(s.cfg.InterJobDelay)
		}
	}
}

// deliver performs exactly one HTTP POST attempt for a job.
func (s *WebhookServiceImpl) deliver(ctx context.Context, job *domain.NotificationJob) {
	job.Attempts++
	attemptedAt := s.now().UTC()

	status, deliveryErr := s.post(ctx, job)

	if deliveryErr == nil && status >= 200 && status < 300 {
		job.Status = domain.JobStatusCompleted
		job.LastError = ""
		if err := s.jobRepo.Update(ctx, job); err != nil {
			s.log.Error().Err(err).Str("delivery_id", job.ID).Msg("failed to mark job completed")
		}
		s.recordAttempt(ctx, job, attemptedAt, true, fmt.Sprintf("HTTP %d", status))
		s.log.Info().
			Str("delivery_id", job.ID).
			Str("order_id", job.OrderID).
			Int("attempt", job.Attempts).
			Int("status", status).
			Msg("webhook delivered")
		return
	}

	outcome := fmt.Sprintf("HTTP %d", status)
	if deliveryErr != nil {
		outcome = deliveryErr.Error()
	}
	job.LastError = outcome

	if job.Exhausted() {
		job.Status = domain.JobStatusFailed
		if err := s.jobRepo.Update(ctx, job); err != nil {
			s.log.Error().Err(err).Str("delivery_id", job.ID).Msg("failed to mark job failed")
		}
		s.recordAttempt(ctx, job, attemptedAt, false, outcome)
		s.recordExhaustion(ctx, job, attemptedAt)
		s.log.Error().
			Str("delivery_id", job.ID).
			Str("order_id", job.OrderID).
			Int("attempts", job.Attempts).
			Msg("webhook retry budget exhausted")
		return
	}

	delay := domain.BackoffDelay(job.Attempts, s.cfg.BaseDelay, s.cfg.MaxDelay)
	job.NextAttempt = attemptedAt.Add(delay)
	if err := s.jobRepo.Update(ctx, job); err != nil {
		s.log.Error().Err(err).Str("delivery_id", job.ID).Msg("failed to schedule retry")
	}
	s.recordAttempt(ctx, job, attemptedAt, false, outcome)

	s.log.Warn().
		Str("delivery_id", job.ID).
		Str("order_id", job.OrderID).
		Int("attempt", job.Attempts).
		Dur("retry_in", delay).
		Str("outcome", outcome).
		Msg("webhook delivery failed, will retry")
}

// post sends the signed payload with a bounded per-call timeout.
func (s *WebhookServiceImpl) post(ctx context.Context, job *domain.NotificationJob) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, job.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, "sha256="+s.sigSvc.Sign(s.cfg.Secret, job.Payload))
	req.Header.Set(HeaderEvent, job.Event)
	req.Header.Set(HeaderDelivery, job.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(job.Attempts))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(s.now().Unix(), 10))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (s *WebhookServiceImpl) recordAttempt(ctx context.Context, job *domain.NotificationJob, at time.Time, success bool, outcome string) {
	upd := ports.WebhookUpdate{
		Attempts:     job.Attempts,
		LastAttempt:  at,
		Successful:   success,
		LastResponse: outcome,
	}
	if err := s.txRepo.UpdateWebhookBookkeeping(ctx, job.OrderID, upd); err != nil {
		s.log.Error().Err(err).Str("order_id", job.OrderID).Msg("failed to record webhook attempt")
	}
}

func (s *WebhookServiceImpl) recordExhaustion(ctx context.Context, job *domain.NotificationJob, at time.Time) {
	entry := domain.DiagnosticEntry{
		Error:     fmt.Sprintf("webhook delivery %s permanently failed after %d attempts: %s", job.ID, job.Attempts, job.LastError),
		Timestamp: at,
	}
	if err := s.txRepo.AppendDiagnostic(ctx, job.OrderID, entry); err != nil {
		s.log.Error().Err(err).Str("order_id", job.OrderID).Msg("failed to append exhaustion diagnostic")
	}
}

func (s *WebhookServiceImpl) cleanupFinishedJobs(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.cfg.CleanupAge)
	removed, err := s.jobRepo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("notification job cleanup failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("cleaned up finished notification jobs")
	}
}

func (s *WebhookServiceImpl) buildPayload(tx *domain.Transaction, event string) ([]byte, error) {
	data := WebhookPayloadData{
		OrderID:            tx.OrderID,
		Status:             string(tx.Status),
		Amount:             tx.Amount,
		PhoneNumber:        tx.PhoneNumber,
		BankName:           tx.BankName,
		AccountReference:   tx.AccountReference,
		MpesaReceiptNumber: tx.MpesaReceiptNumber,
		TransactionDate:    tx.TransactionDate,
		ResultCode:         tx.CallbackResultCode,
		ResultDescription:  tx.CallbackResultDesc,
		CreatedAt:          tx.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          tx.UpdatedAt.UTC().Format(time.RFC3339),
	}
	return json.Marshal(WebhookPayload{
		Event:     event,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Data:      data,
	})
}

// kickLoop nudges the delivery loop without blocking the enqueuer.
func (s *WebhookServiceImpl) kickLoop() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// redactURL masks userinfo credentials embedded in a callback URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.UserPassword("redacted", "redacted")
	}
	return u.String()
}

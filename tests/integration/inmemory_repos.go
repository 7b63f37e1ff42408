package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
)

// --- In-Memory Transaction Repo ---

// inMemoryTransactionRepo mirrors the guard semantics of the SQL store:
// mutations are atomic under the lock and a terminal status is never
// regressed. lookupDelay models the network round trip a real store pays
// on reads, to widen check-then-insert race windows in tests.
type inMemoryTransactionRepo struct {
	mu          sync.RWMutex
	txs         map[string]*domain.Transaction
	lookupDelay time.Duration
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{txs: make(map[string]*domain.Transaction)}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txs[t.OrderID]; ok {
		return fmt.Errorf("order_id %s: %w", t.OrderID, ports.ErrDuplicateKey)
	}
	cp := *t
	r.txs[t.OrderID] = &cp
	return nil
}

func (r *inMemoryTransactionRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.txs[orderID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.txs {
		if t.CheckoutRequestID == checkoutRequestID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) GetByReceiptNumber(ctx context.Context, receipt string) (*domain.Transaction, error) {
	if r.lookupDelay > 0 {
		time.Sleep(r.lookupDelay)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.txs {
		if t.MpesaReceiptNumber == receipt {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) ApplyPushAck(ctx context.Context, orderID string, ack ports.PushAck) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[orderID]
	if !ok {
		return fmt.Errorf("transaction %s not found", orderID)
	}
	t.MerchantRequestID = ack.MerchantRequestID
	t.CheckoutRequestID = ack.CheckoutRequestID
	t.ResponseCode = ack.ResponseCode
	t.ResponseDescription = ack.ResponseDescription
	t.CustomerMessage = ack.CustomerMessage
	if t.CanTransitionTo(ack.Status) {
		t.Status = ack.Status
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) ApplyCallbackResult(ctx context.Context, orderID string, res ports.CallbackUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[orderID]
	if !ok {
		return fmt.Errorf("transaction %s not found", orderID)
	}
	// Callback fields always record the latest callback.
	code := res.ResultCode
	t.CallbackReceived = true
	t.CallbackResultCode = &code
	t.CallbackResultDesc = res.ResultDesc
	received := res.ReceivedAt
	t.CallbackReceivedAt = &received
	if res.MpesaReceiptNumber != "" {
		t.MpesaReceiptNumber = res.MpesaReceiptNumber
	}
	if res.TransactionDate != "" {
		t.TransactionDate = res.TransactionDate
	}
	if res.Amount != nil {
		t.Amount = *res.Amount
	}
	if t.CanTransitionTo(res.Status) {
		t.Status = res.Status
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) UpdateWebhookBookkeeping(ctx context.Context, orderID string, upd ports.WebhookUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[orderID]
	if !ok {
		return fmt.Errorf("transaction %s not found", orderID)
	}
	last := upd.LastAttempt
	t.WebhookNotified = true
	t.WebhookAttempts = upd.Attempts
	t.WebhookLastAttempt = &last
	t.WebhookSuccessful = upd.Successful
	t.WebhookLastResponse = upd.LastResponse
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) AppendDiagnostic(ctx context.Context, orderID string, entry domain.DiagnosticEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[orderID]
	if !ok {
		return fmt.Errorf("transaction %s not found", orderID)
	}
	t.Diagnostics = append(t.Diagnostics, entry)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) FindStale(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []domain.Transaction
	for _, t := range r.txs {
		if t.Status == domain.TransactionStatusInitiated && !t.CallbackReceived && t.CreatedAt.Before(cutoff) {
			stale = append(stale, *t)
		}
	}
	return stale, nil
}

func (r *inMemoryTransactionRepo) MarkTimedOut(ctx context.Context, orderID string, entry domain.DiagnosticEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[orderID]
	if !ok {
		return false, fmt.Errorf("transaction %s not found", orderID)
	}
	if t.Status != domain.TransactionStatusInitiated || t.CallbackReceived {
		return false, nil
	}
	t.Status = domain.TransactionStatusTimeout
	t.Diagnostics = append(t.Diagnostics, entry)
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryTransactionRepo) GetStats(ctx context.Context) (*ports.TransactionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &ports.TransactionStats{}
	for _, t := range r.txs {
		stats.Total++
		switch t.Status {
		case domain.TransactionStatusInitiated:
			stats.Initiated++
		case domain.TransactionStatusPending:
			stats.Pending++
		case domain.TransactionStatusCompleted:
			stats.Completed++
			stats.CompletedValue += t.Amount
		case domain.TransactionStatusFailed:
			stats.Failed++
		case domain.TransactionStatusTimeout:
			stats.TimedOut++
		}
		switch t.PaymentMethod {
		case domain.PaymentMethodSTKPush:
			stats.STKPush++
		case domain.PaymentMethodC2B:
			stats.C2B++
		}
	}
	return stats, nil
}

// --- In-Memory Notification Job Repo ---

type inMemoryNotificationJobRepo struct {
	mu   sync.RWMutex
	jobs map[string]*domain.NotificationJob
}

func newInMemoryNotificationJobRepo() *inMemoryNotificationJobRepo {
	return &inMemoryNotificationJobRepo{jobs: make(map[string]*domain.NotificationJob)}
}

func (r *inMemoryNotificationJobRepo) Create(ctx context.Context, job *domain.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate key: job id %s", job.ID)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *inMemoryNotificationJobRepo) Update(ctx context.Context, job *domain.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *inMemoryNotificationJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.NotificationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []domain.NotificationJob
	for _, j := range r.jobs {
		if j.Status == domain.JobStatusPending && !j.NextAttempt.After(now) && j.Attempts < j.MaxRetries {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextAttempt.Before(due[k].NextAttempt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *inMemoryNotificationJobRepo) ListByStatus(ctx context.Context, status domain.JobStatus) ([]domain.NotificationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.NotificationJob
	for _, j := range r.jobs {
		if j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (r *inMemoryNotificationJobRepo) CountByStatus(ctx context.Context) (map[domain.JobStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.JobStatus]int64)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *inMemoryNotificationJobRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, j := range r.jobs {
		if j.Status == domain.JobStatusPending {
			continue
		}
		if j.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed, nil
}
